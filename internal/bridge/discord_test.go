package bridge

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"packbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func testBridge(endpoint string) *Discord {
	d := NewDiscord(DiscordConfig{
		SessionToken: "scraped-token",
		GuildID:      "guild123",
		Logger:       testLogger(),
	})
	d.endpoint = endpoint + "/guilds/%s/stickers"
	d.pause = time.Millisecond
	return d
}

func catsSet() *domain.StickerSet {
	return &domain.StickerSet{Name: "cats_pack", Title: "Cats!"}
}

func TestUpload_StaticOnly(t *testing.T) {
	var mu sync.Mutex
	var names []string
	var auth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("bad multipart: %v", err)
		}
		mu.Lock()
		auth = r.Header.Get("Authorization")
		names = append(names, r.FormValue("name"))
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	d := testBridge(srv.URL)
	assets := []domain.Asset{
		{Name: "0.webp", Emoji: "😺", Data: []byte("a")},
		{Name: "1.tgs", Emoji: "😿", Data: []byte("b")}, // animated, skipped
		{Name: "2.webp", Emoji: "😾", Data: []byte("c")},
	}

	uploaded, err := d.Upload(context.Background(), catsSet(), assets)
	if err != nil {
		t.Fatal(err)
	}
	if uploaded != 2 {
		t.Errorf("expected 2 uploads, got %d", uploaded)
	}
	if auth != "scraped-token" {
		t.Errorf("session token not sent raw: %q", auth)
	}
	if len(names) != 2 || names[0] != "cats_pack_0" || names[1] != "cats_pack_2" {
		t.Errorf("unexpected sticker names: %v", names)
	}
}

func TestUpload_StopsOnError(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 2 {
			http.Error(w, `{"message": "Unauthorized"}`, http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	d := testBridge(srv.URL)
	assets := []domain.Asset{
		{Name: "0.webp", Data: []byte("a")},
		{Name: "1.webp", Data: []byte("b")},
		{Name: "2.webp", Data: []byte("c")},
	}

	uploaded, err := d.Upload(context.Background(), catsSet(), assets)
	if err == nil {
		t.Fatal("expected error from rejected upload")
	}
	if uploaded != 1 {
		t.Errorf("expected 1 successful upload before the failure, got %d", uploaded)
	}
	if !strings.Contains(err.Error(), "Unauthorized") {
		t.Errorf("error should carry the API message: %v", err)
	}
}

func TestUpload_SkipsOversized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	d := testBridge(srv.URL)
	assets := []domain.Asset{
		{Name: "0.webp", Data: make([]byte, maxStickerBytes+1)},
	}

	uploaded, err := d.Upload(context.Background(), catsSet(), assets)
	if err != nil {
		t.Fatal(err)
	}
	if uploaded != 0 {
		t.Errorf("oversized asset must be skipped, got %d uploads", uploaded)
	}
}

func TestStickerName(t *testing.T) {
	if got := stickerName("cats_pack", "3.webp"); got != "cats_pack_3" {
		t.Errorf("got %q", got)
	}
	long := strings.Repeat("x", 40)
	if got := stickerName(long, "0.webp"); len(got) != 30 {
		t.Errorf("expected 30 chars, got %d", len(got))
	}
}

func TestStickerTags(t *testing.T) {
	if stickerTags("") != "sticker" {
		t.Error("empty emoji needs a fallback tag")
	}
	if stickerTags("😺") != "😺" {
		t.Error("emoji should pass through")
	}
}
