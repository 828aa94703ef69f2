package packs

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"packbot/internal/domain"
)

// Manifest entry names written alongside the sticker assets.
const (
	emojiManifestName = "emoji.txt"
	titleManifestName = "title.txt"
)

// BuildArchive packs the fetched assets into a single zip: one entry per
// asset under its given name, losslessly, plus an emoji manifest (JSON map
// of asset index to emoji) and a title file.
func BuildArchive(set *domain.StickerSet, assets []domain.Asset) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for _, a := range assets {
		w, err := zw.Create(a.Name)
		if err != nil {
			return nil, fmt.Errorf("create entry %s: %w", a.Name, err)
		}
		if _, err := w.Write(a.Data); err != nil {
			return nil, fmt.Errorf("write entry %s: %w", a.Name, err)
		}
	}

	emojis := make(map[string]string, len(assets))
	for _, a := range assets {
		index := strings.TrimSuffix(a.Name, path.Ext(a.Name))
		emojis[index] = a.Emoji
	}
	emojiData, err := json.MarshalIndent(emojis, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("marshal emoji manifest: %w", err)
	}

	w, err := zw.Create(emojiManifestName)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", emojiManifestName, err)
	}
	if _, err := w.Write(emojiData); err != nil {
		return nil, fmt.Errorf("write %s: %w", emojiManifestName, err)
	}

	w, err = zw.Create(titleManifestName)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", titleManifestName, err)
	}
	if _, err := w.Write([]byte(set.Title)); err != nil {
		return nil, fmt.Errorf("write %s: %w", titleManifestName, err)
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize archive: %w", err)
	}
	return buf.Bytes(), nil
}
