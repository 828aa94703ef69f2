package packs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"packbot/internal/domain"
)

// --- fakes ---

type fakeResolver struct {
	set *domain.StickerSet
	err error
}

func (f *fakeResolver) Resolve(ctx context.Context, ref domain.StickerRef) (*domain.StickerSet, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.set, nil
}

type fakeFetcher struct {
	failIndex map[int]bool // indices whose download fails
}

func (f *fakeFetcher) Fetch(ctx context.Context, ref domain.StickerRef, index int) (domain.Asset, error) {
	if f.failIndex[index] {
		return domain.Asset{}, errors.New("connection reset")
	}
	return domain.Asset{
		Name:  fmt.Sprintf("%d.webp", index),
		Emoji: ref.Emoji,
		Data:  []byte("data-" + ref.FileID),
	}, nil
}

type fakeBus struct {
	mu       sync.Mutex
	outbound []domain.OutboundMessage
}

func (b *fakeBus) Publish(req domain.PackRequest)                  {}
func (b *fakeBus) Subscribe() <-chan domain.PackRequest            { return nil }
func (b *fakeBus) OnOutbound(string, func(domain.OutboundMessage)) {}
func (b *fakeBus) Close()                                          {}

func (b *fakeBus) SendOutbound(msg domain.OutboundMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outbound = append(b.outbound, msg)
}

func (b *fakeBus) documents() []domain.OutboundMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	var docs []domain.OutboundMessage
	for _, m := range b.outbound {
		if m.Document != nil {
			docs = append(docs, m)
		}
	}
	return docs
}

func (b *fakeBus) lastText() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.outbound) - 1; i >= 0; i-- {
		if b.outbound[i].Content != "" {
			return b.outbound[i].Content
		}
	}
	return ""
}

type fakeHistory struct {
	mu      sync.Mutex
	fetches []domain.Fetch
}

func (h *fakeHistory) RecordFetch(ctx context.Context, f domain.Fetch) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fetches = append(h.fetches, f)
	return int64(len(h.fetches)), nil
}

func (h *fakeHistory) RecentFetches(ctx context.Context, limit int) ([]domain.Fetch, error) {
	return h.fetches, nil
}

func (h *fakeHistory) CountFetches(ctx context.Context) (int64, error) {
	return int64(len(h.fetches)), nil
}

func (h *fakeHistory) Close() error { return nil }

type fakeBridge struct {
	uploaded int
	err      error
}

func (b *fakeBridge) Name() string { return "discord" }

func (b *fakeBridge) Upload(ctx context.Context, set *domain.StickerSet, assets []domain.Asset) (int, error) {
	if b.err != nil {
		return b.uploaded, b.err
	}
	b.uploaded = len(assets)
	return b.uploaded, nil
}

// --- helpers ---

func catsRequest() domain.PackRequest {
	return domain.PackRequest{
		Channel:   "telegram",
		ChatID:    "42",
		SenderID:  "7",
		MessageID: 100,
		Sticker:   domain.StickerRef{FileID: "f1", SetName: "cats_pack"},
	}
}

func newTestService(resolver SetResolver, fetcher AssetFetcher, bus domain.MessageBus, history domain.HistoryStore, bridge Bridge) *Service {
	return NewService(ServiceConfig{
		Resolver:          resolver,
		Fetcher:           fetcher,
		Bus:               bus,
		History:           history,
		Bridge:            bridge,
		Logger:            testLogger(),
		RequestsPerMinute: 600,
		MaxBurst:          100,
	})
}

// --- tests ---

func TestHandle_Success(t *testing.T) {
	bus := &fakeBus{}
	history := &fakeHistory{}
	svc := newTestService(
		&fakeResolver{set: testSet()},
		&fakeFetcher{},
		bus, history, nil,
	)

	svc.Handle(context.Background(), catsRequest())

	docs := bus.documents()
	if len(docs) != 1 {
		t.Fatalf("expected 1 document reply, got %d", len(docs))
	}
	doc := docs[0].Document
	if doc.Name != "cats_pack.zip" {
		t.Errorf("expected cats_pack.zip, got %s", doc.Name)
	}
	if docs[0].ReplyTo != 100 {
		t.Errorf("expected reply to message 100, got %d", docs[0].ReplyTo)
	}

	// Archive must hold one entry per member plus the two manifests,
	// byte-identical to what the fetcher produced.
	entries := readArchive(t, doc.Data)
	if len(entries) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(entries))
	}
	for i, ref := range testSet().Stickers {
		name := fmt.Sprintf("%d.webp", i)
		if string(entries[name]) != "data-"+ref.FileID {
			t.Errorf("entry %s content mismatch", name)
		}
	}

	if len(history.fetches) != 1 {
		t.Fatalf("expected 1 history row, got %d", len(history.fetches))
	}
	f := history.fetches[0]
	if f.Status != domain.FetchOK || f.Fetched != 3 || f.Skipped != 0 {
		t.Errorf("unexpected history row: %+v", f)
	}
}

func TestHandle_ResolverError(t *testing.T) {
	bus := &fakeBus{}
	history := &fakeHistory{}
	svc := newTestService(
		&fakeResolver{err: errors.New("STICKERSET_INVALID")},
		&fakeFetcher{},
		bus, history, nil,
	)

	svc.Handle(context.Background(), catsRequest())

	if len(bus.documents()) != 0 {
		t.Error("no archive must be sent for an invalid set")
	}
	if !strings.Contains(bus.lastText(), "didn't work") {
		t.Errorf("expected error reply, got %q", bus.lastText())
	}
	if len(history.fetches) != 1 || history.fetches[0].Status != domain.FetchError {
		t.Errorf("expected error history row, got %+v", history.fetches)
	}
}

func TestHandle_PartialFailure(t *testing.T) {
	bus := &fakeBus{}
	history := &fakeHistory{}
	svc := newTestService(
		&fakeResolver{set: testSet()},
		&fakeFetcher{failIndex: map[int]bool{1: true}},
		bus, history, nil,
	)

	svc.Handle(context.Background(), catsRequest())

	docs := bus.documents()
	if len(docs) != 1 {
		t.Fatalf("expected archive despite one failed member, got %d documents", len(docs))
	}
	entries := readArchive(t, docs[0].Document.Data)
	if _, ok := entries["1.webp"]; ok {
		t.Error("failed member must not appear in the archive")
	}
	if _, ok := entries["0.webp"]; !ok {
		t.Error("surviving member missing from archive")
	}
	if !strings.Contains(docs[0].Document.Caption, "1 skipped") {
		t.Errorf("caption must mention the skipped member: %q", docs[0].Document.Caption)
	}
	if history.fetches[0].Status != domain.FetchPartial {
		t.Errorf("expected partial status, got %s", history.fetches[0].Status)
	}
}

func TestHandle_AllDownloadsFail(t *testing.T) {
	bus := &fakeBus{}
	svc := newTestService(
		&fakeResolver{set: testSet()},
		&fakeFetcher{failIndex: map[int]bool{0: true, 1: true, 2: true}},
		bus, &fakeHistory{}, nil,
	)

	svc.Handle(context.Background(), catsRequest())

	if len(bus.documents()) != 0 {
		t.Error("no archive must be sent when every download fails")
	}
	if !strings.Contains(bus.lastText(), "didn't work") {
		t.Errorf("expected error reply, got %q", bus.lastText())
	}
}

func TestHandle_Throttled(t *testing.T) {
	bus := &fakeBus{}
	svc := NewService(ServiceConfig{
		Resolver:          &fakeResolver{set: testSet()},
		Fetcher:           &fakeFetcher{},
		Bus:               bus,
		Logger:            testLogger(),
		RequestsPerMinute: 1,
		MaxBurst:          1,
	})

	svc.Handle(context.Background(), catsRequest())
	svc.Handle(context.Background(), catsRequest())

	if got := len(bus.documents()); got != 1 {
		t.Errorf("expected exactly 1 archive, got %d", got)
	}
	if !strings.Contains(bus.lastText(), "Slow down") {
		t.Errorf("expected throttle reply, got %q", bus.lastText())
	}
}

func TestHandle_BridgeSuccess(t *testing.T) {
	bus := &fakeBus{}
	bridge := &fakeBridge{}
	svc := newTestService(&fakeResolver{set: testSet()}, &fakeFetcher{}, bus, nil, bridge)

	svc.Handle(context.Background(), catsRequest())

	if bridge.uploaded != 3 {
		t.Errorf("expected 3 bridged stickers, got %d", bridge.uploaded)
	}
	if !strings.Contains(bus.lastText(), "Bridged 3 stickers") {
		t.Errorf("expected bridge follow-up, got %q", bus.lastText())
	}
}

func TestHandle_BridgeFailureKeepsArchive(t *testing.T) {
	bus := &fakeBus{}
	bridge := &fakeBridge{err: errors.New("401 unauthorized")}
	svc := newTestService(&fakeResolver{set: testSet()}, &fakeFetcher{}, bus, nil, bridge)

	svc.Handle(context.Background(), catsRequest())

	if len(bus.documents()) != 1 {
		t.Error("bridge failure must not suppress the archive reply")
	}
	if !strings.Contains(bus.lastText(), "Bridge to discord failed") {
		t.Errorf("expected bridge failure notice, got %q", bus.lastText())
	}
}
