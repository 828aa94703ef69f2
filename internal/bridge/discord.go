// Package bridge re-creates fetched sticker packs on Discord. It is
// experimental: it authenticates with a scraped user session token instead
// of a registered application, so uploads can break whenever Discord
// changes its undocumented limits.
package bridge

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path"
	"strings"
	"time"

	"packbot/internal/domain"

	"github.com/bwmarrin/discordgo"
)

const (
	guildStickersEndpoint = "https://discord.com/api/v9/guilds/%s/stickers"

	// Discord throttles the sticker endpoint aggressively; pause between
	// uploads instead of burning the session's rate budget.
	uploadPause = 2 * time.Second

	maxStickerBytes = 512 * 1024 // Discord rejects larger files outright
)

// Discord implements the pack service's Bridge using a scraped session token.
type Discord struct {
	token    string
	guildID  string
	client   *http.Client
	logger   *slog.Logger
	endpoint string
	pause    time.Duration
}

type DiscordConfig struct {
	SessionToken string // raw user token, see `packbot login discord`
	GuildID      string
	Logger       *slog.Logger
}

func NewDiscord(cfg DiscordConfig) *Discord {
	return &Discord{
		token:    cfg.SessionToken,
		guildID:  cfg.GuildID,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   cfg.Logger,
		endpoint: guildStickersEndpoint,
		pause:    uploadPause,
	}
}

func (d *Discord) Name() string { return "discord" }

// Verify checks the session token and guild before any upload is attempted.
// Called once at gateway startup so a dead token fails fast.
func (d *Discord) Verify(ctx context.Context) error {
	// No "Bot " prefix: this is a user session, which is exactly why the
	// bridge is experimental.
	session, err := discordgo.New(d.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}

	user, err := session.User("@me")
	if err != nil {
		return fmt.Errorf("session token rejected: %w", err)
	}
	guild, err := session.Guild(d.guildID)
	if err != nil {
		return fmt.Errorf("guild %s not reachable: %w", d.guildID, err)
	}

	d.logger.Info("bridge session verified",
		"user", user.Username,
		"guild", guild.Name,
	)
	return nil
}

// Upload creates one guild sticker per static asset. Animated stickers
// (.tgs) and video stickers (.webm) have no Discord equivalent and are
// skipped. Returns how many stickers were created before any error.
func (d *Discord) Upload(ctx context.Context, set *domain.StickerSet, assets []domain.Asset) (int, error) {
	uploaded := 0
	for _, a := range assets {
		if !isStaticImage(a.Name) {
			d.logger.Info("bridge skipping non-static sticker", "asset", a.Name)
			continue
		}
		if len(a.Data) > maxStickerBytes {
			d.logger.Info("bridge skipping oversized sticker", "asset", a.Name, "bytes", len(a.Data))
			continue
		}

		if err := d.createSticker(ctx, set, a); err != nil {
			return uploaded, fmt.Errorf("sticker %s: %w", a.Name, err)
		}
		uploaded++

		select {
		case <-ctx.Done():
			return uploaded, ctx.Err()
		case <-time.After(d.pause):
		}
	}
	return uploaded, nil
}

func (d *Discord) createSticker(ctx context.Context, set *domain.StickerSet, a domain.Asset) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fields := map[string]string{
		"name":        stickerName(set.Name, a.Name),
		"description": set.Title,
		"tags":        stickerTags(a.Emoji),
	}
	for name, value := range fields {
		if err := mw.WriteField(name, value); err != nil {
			return fmt.Errorf("field %s: %w", name, err)
		}
	}

	part, err := mw.CreateFormFile("file", a.Name)
	if err != nil {
		return fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(a.Data); err != nil {
		return fmt.Errorf("write file part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return err
	}

	url := fmt.Sprintf(d.endpoint, d.guildID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", d.token)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	return nil
}

// stickerName builds a Discord-acceptable sticker name (2-30 chars) from
// the set name and the asset's index.
func stickerName(setName, assetName string) string {
	index := strings.TrimSuffix(assetName, path.Ext(assetName))
	name := setName + "_" + index
	if len(name) > 30 {
		name = name[len(name)-30:]
	}
	for len(name) < 2 {
		name += "_"
	}
	return name
}

// stickerTags maps the source emoji onto Discord's tags field, which must
// not be empty.
func stickerTags(emoji string) string {
	if emoji == "" {
		return "sticker"
	}
	return emoji
}

func isStaticImage(name string) bool {
	switch path.Ext(name) {
	case ".webp", ".png":
		return true
	default:
		return false
	}
}
