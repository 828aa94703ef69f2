package packs

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"packbot/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func TestFetch_Success(t *testing.T) {
	content := []byte("webp-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/file/bottest-token/stickers/file_0.webp" {
			http.NotFound(w, r)
			return
		}
		w.Write(content)
	}))
	defer srv.Close()

	api := &fakeAPI{files: map[string]tgbotapi.File{
		"f0": {FileID: "f0", FilePath: "stickers/file_0.webp"},
	}}
	f := NewFetcher(api, "test-token", 5*time.Second)
	f.endpoint = srv.URL + "/file/bot%s/%s"

	asset, err := f.Fetch(context.Background(), domain.StickerRef{FileID: "f0", Emoji: "😺"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if asset.Name != "0.webp" {
		t.Errorf("expected 0.webp, got %s", asset.Name)
	}
	if !bytes.Equal(asset.Data, content) {
		t.Error("asset bytes not identical to source")
	}
	if asset.Emoji != "😺" {
		t.Errorf("emoji lost: %q", asset.Emoji)
	}
}

func TestFetch_VideoMemberNamedByPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("webm-bytes"))
	}))
	defer srv.Close()

	api := &fakeAPI{files: map[string]tgbotapi.File{
		"v0": {FileID: "v0", FilePath: "videos/file_7.webm"},
	}}
	f := NewFetcher(api, "test-token", 5*time.Second)
	f.endpoint = srv.URL + "/file/bot%s/%s"

	asset, err := f.Fetch(context.Background(), domain.StickerRef{FileID: "v0", SetName: "cats_pack"}, 7)
	if err != nil {
		t.Fatal(err)
	}
	if asset.Name != "7.webm" {
		t.Errorf("expected 7.webm from the file path, got %s", asset.Name)
	}
}

func TestFetch_GetFileError(t *testing.T) {
	f := NewFetcher(&fakeAPI{}, "test-token", 5*time.Second)

	_, err := f.Fetch(context.Background(), domain.StickerRef{FileID: "missing"}, 0)
	if err == nil {
		t.Fatal("expected error for unknown file ID")
	}
}

func TestFetch_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	api := &fakeAPI{files: map[string]tgbotapi.File{
		"f0": {FileID: "f0", FilePath: "stickers/file_0.webp"},
	}}
	f := NewFetcher(api, "test-token", 5*time.Second)
	f.endpoint = srv.URL + "/file/bot%s/%s"

	_, err := f.Fetch(context.Background(), domain.StickerRef{FileID: "f0"}, 0)
	if err == nil {
		t.Fatal("expected error for HTTP 404")
	}
}

func TestAssetExt(t *testing.T) {
	cases := []struct {
		path string
		ref  domain.StickerRef
		want string
	}{
		{"stickers/file_0.webp", domain.StickerRef{}, ".webp"},
		{"stickers/file_1.tgs", domain.StickerRef{IsAnimated: true}, ".tgs"},
		// Video members are recognized by the file path alone; the ref
		// carries no video flag at ingest.
		{"stickers/file_1.webm", domain.StickerRef{}, ".webm"},
		{"stickers/file_2", domain.StickerRef{IsAnimated: true}, ".tgs"},
		{"stickers/file_3", domain.StickerRef{IsVideo: true}, ".webm"},
		{"stickers/file_4", domain.StickerRef{}, ".webp"},
	}
	for _, c := range cases {
		if got := assetExt(c.path, c.ref); got != c.want {
			t.Errorf("assetExt(%q) = %q, want %q", c.path, got, c.want)
		}
	}
}
