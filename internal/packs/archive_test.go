package packs

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"packbot/internal/domain"
)

func testSet() *domain.StickerSet {
	return &domain.StickerSet{
		Name:  "cats_pack",
		Title: "Cats!",
		Stickers: []domain.StickerRef{
			{FileID: "f0", SetName: "cats_pack", Emoji: "😺"},
			{FileID: "f1", SetName: "cats_pack", Emoji: "😿"},
			{FileID: "f2", SetName: "cats_pack", Emoji: "😾"},
		},
	}
}

func testAssets() []domain.Asset {
	return []domain.Asset{
		{Name: "0.webp", Emoji: "😺", Data: []byte("sticker-zero")},
		{Name: "1.webp", Emoji: "😿", Data: []byte("sticker-one")},
		{Name: "2.webp", Emoji: "😾", Data: []byte("sticker-two")},
	}
}

func readArchive(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("archive not decodable: %v", err)
	}
	entries := make(map[string][]byte)
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatal(err)
		}
		entries[f.Name] = content
	}
	return entries
}

func TestBuildArchive_RoundTrip(t *testing.T) {
	assets := testAssets()
	data, err := BuildArchive(testSet(), assets)
	if err != nil {
		t.Fatal(err)
	}

	entries := readArchive(t, data)

	// One entry per asset plus the two manifests.
	if len(entries) != len(assets)+2 {
		t.Fatalf("expected %d entries, got %d", len(assets)+2, len(entries))
	}
	for _, a := range assets {
		got, ok := entries[a.Name]
		if !ok {
			t.Errorf("missing entry %s", a.Name)
			continue
		}
		if !bytes.Equal(got, a.Data) {
			t.Errorf("entry %s not byte-identical", a.Name)
		}
	}
}

func TestBuildArchive_EmojiManifest(t *testing.T) {
	data, err := BuildArchive(testSet(), testAssets())
	if err != nil {
		t.Fatal(err)
	}
	entries := readArchive(t, data)

	var emojis map[string]string
	if err := json.Unmarshal(entries["emoji.txt"], &emojis); err != nil {
		t.Fatalf("emoji manifest not valid JSON: %v", err)
	}
	if emojis["0"] != "😺" || emojis["2"] != "😾" {
		t.Errorf("unexpected emoji manifest: %v", emojis)
	}
}

func TestBuildArchive_TitleManifest(t *testing.T) {
	data, err := BuildArchive(testSet(), testAssets())
	if err != nil {
		t.Fatal(err)
	}
	entries := readArchive(t, data)

	if string(entries["title.txt"]) != "Cats!" {
		t.Errorf("expected title Cats!, got %q", entries["title.txt"])
	}
}
