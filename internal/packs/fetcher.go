package packs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"time"

	"packbot/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Fetcher downloads the binary content of individual stickers.
type Fetcher struct {
	api      stickerAPI
	token    string
	client   *http.Client
	endpoint string // printf format: file endpoint with token and file path
}

func NewFetcher(api stickerAPI, token string, timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		api:      api,
		token:    token,
		client:   &http.Client{Timeout: timeout},
		endpoint: tgbotapi.FileEndpoint,
	}
}

// Fetch downloads one member sticker. The asset is named <index><ext> so
// archive entries keep the set's order, matching the emoji manifest keys.
func (f *Fetcher) Fetch(ctx context.Context, ref domain.StickerRef, index int) (domain.Asset, error) {
	file, err := f.api.GetFile(tgbotapi.FileConfig{FileID: ref.FileID})
	if err != nil {
		return domain.Asset{}, fmt.Errorf("get file %s: %w", ref.FileID, err)
	}

	url := fmt.Sprintf(f.endpoint, f.token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.Asset{}, fmt.Errorf("build download request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return domain.Asset{}, fmt.Errorf("download %s: %w", file.FilePath, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Asset{}, fmt.Errorf("download %s: unexpected status %s", file.FilePath, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Asset{}, fmt.Errorf("read %s: %w", file.FilePath, err)
	}

	return domain.Asset{
		Name:  strconv.Itoa(index) + assetExt(file.FilePath, ref),
		Emoji: ref.Emoji,
		Data:  data,
	}, nil
}

// assetExt picks the archive entry extension from the file path the API
// reports, falling back on the sticker type.
func assetExt(filePath string, ref domain.StickerRef) string {
	if ext := path.Ext(filePath); ext != "" {
		return ext
	}
	switch {
	case ref.IsAnimated:
		return ".tgs"
	case ref.IsVideo:
		return ".webm"
	default:
		return ".webp"
	}
}
