package packs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"packbot/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ErrNoSet is returned for stickers that don't belong to any set.
var ErrNoSet = errors.New("sticker does not belong to a set")

// stickerAPI is the slice of the Telegram bot API the resolver and fetcher
// need. *tgbotapi.BotAPI satisfies it.
type stickerAPI interface {
	GetStickerSet(config tgbotapi.GetStickerSetConfig) (tgbotapi.StickerSet, error)
	GetFile(config tgbotapi.FileConfig) (tgbotapi.File, error)
}

// Resolver turns a sticker reference into the full member list of its set.
type Resolver struct {
	api    stickerAPI
	logger *slog.Logger
}

func NewResolver(api stickerAPI, logger *slog.Logger) *Resolver {
	return &Resolver{api: api, logger: logger}
}

func (r *Resolver) Resolve(ctx context.Context, ref domain.StickerRef) (*domain.StickerSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ref.SetName == "" {
		return nil, ErrNoSet
	}

	set, err := r.api.GetStickerSet(tgbotapi.GetStickerSetConfig{Name: ref.SetName})
	if err != nil {
		return nil, fmt.Errorf("get sticker set %q: %w", ref.SetName, err)
	}
	if len(set.Stickers) == 0 {
		return nil, fmt.Errorf("sticker set %q is empty", ref.SetName)
	}

	out := &domain.StickerSet{
		Name:     set.Name,
		Title:    set.Title,
		Stickers: make([]domain.StickerRef, 0, len(set.Stickers)),
	}
	for _, st := range set.Stickers {
		// The pinned bot API client predates video stickers, so IsVideo is
		// not knowable here; the fetcher names assets by the file path's
		// extension, which covers .webm members regardless.
		out.Stickers = append(out.Stickers, domain.StickerRef{
			FileID:     st.FileID,
			SetName:    set.Name,
			Emoji:      st.Emoji,
			IsAnimated: st.IsAnimated,
		})
	}

	r.logger.Info("sticker set resolved", "set", set.Name, "title", set.Title, "members", len(out.Stickers))
	return out, nil
}
