package packs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"packbot/internal/domain"
	"packbot/internal/metrics"
)

// SetResolver resolves a sticker reference to its full set.
type SetResolver interface {
	Resolve(ctx context.Context, ref domain.StickerRef) (*domain.StickerSet, error)
}

// AssetFetcher downloads one member sticker.
type AssetFetcher interface {
	Fetch(ctx context.Context, ref domain.StickerRef, index int) (domain.Asset, error)
}

// Bridge re-creates a fetched pack on a second platform. Best-effort: the
// service reports bridge results separately and never fails a request on a
// bridge error.
type Bridge interface {
	Name() string
	Upload(ctx context.Context, set *domain.StickerSet, assets []domain.Asset) (int, error)
}

// Service consumes pack requests from the bus and runs the linear
// resolve → fetch → archive → reply flow for each one.
type Service struct {
	resolver SetResolver
	fetcher  AssetFetcher
	bus      domain.MessageBus
	history  domain.HistoryStore // nil = history disabled
	bridge   Bridge              // nil = bridge disabled
	logger   *slog.Logger

	cacheDir  string
	keepFiles bool

	ratePerMin float64
	maxBurst   int
	limiters   map[string]*RateLimiter
	limMu      sync.Mutex
}

type ServiceConfig struct {
	Resolver SetResolver
	Fetcher  AssetFetcher
	Bus      domain.MessageBus
	History  domain.HistoryStore
	Bridge   Bridge
	Logger   *slog.Logger

	CacheDir  string
	KeepFiles bool

	RequestsPerMinute int
	MaxBurst          int
}

func NewService(cfg ServiceConfig) *Service {
	return &Service{
		resolver:   cfg.Resolver,
		fetcher:    cfg.Fetcher,
		bus:        cfg.Bus,
		history:    cfg.History,
		bridge:     cfg.Bridge,
		logger:     cfg.Logger,
		cacheDir:   cfg.CacheDir,
		keepFiles:  cfg.KeepFiles,
		ratePerMin: float64(cfg.RequestsPerMinute),
		maxBurst:   cfg.MaxBurst,
		limiters:   make(map[string]*RateLimiter),
	}
}

// Run consumes requests until the context is cancelled or the bus closes.
func (s *Service) Run(ctx context.Context) {
	requests := s.bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-requests:
			if !ok {
				return
			}
			s.Handle(ctx, req)
		}
	}
}

// Handle processes one pack request end to end.
func (s *Service) Handle(ctx context.Context, req domain.PackRequest) {
	metrics.PacksRequested.Inc()

	if !s.limiter(req.ChatID).Allow() {
		metrics.RequestsThrottled.Inc()
		s.reply(req, "Slow down a little — try that sticker again in a minute.")
		return
	}

	start := time.Now()
	s.reply(req, "Gathering info for pack...")

	set, err := s.resolver.Resolve(ctx, req.Sticker)
	if err != nil {
		s.fail(ctx, req, nil, start, err)
		return
	}

	s.reply(req, fmt.Sprintf("Downloading %s - %s...", set.Name, set.Title))

	assets, skipped := s.fetchAll(ctx, set)
	if len(assets) == 0 {
		s.fail(ctx, req, set, start, fmt.Errorf("no sticker in %q could be downloaded", set.Name))
		return
	}

	s.reply(req, fmt.Sprintf("Creating zip file for %s...", set.Name))

	archive, err := BuildArchive(set, assets)
	if err != nil {
		s.fail(ctx, req, set, start, fmt.Errorf("archive %q: %w", set.Name, err))
		return
	}

	caption := fmt.Sprintf("%s — %d stickers", set.Title, len(assets))
	if skipped > 0 {
		caption += fmt.Sprintf(" (%d skipped after download errors)", skipped)
	}
	s.bus.SendOutbound(domain.OutboundMessage{
		Channel: req.Channel,
		ChatID:  req.ChatID,
		ReplyTo: req.MessageID,
		Document: &domain.Document{
			Name:    set.Name + ".zip",
			Data:    archive,
			Caption: caption,
		},
	})

	if s.keepFiles {
		if err := s.writeCache(set, assets); err != nil {
			s.logger.Warn("cache write failed", "set", set.Name, "err", err)
		}
	}

	status := domain.FetchOK
	if skipped > 0 {
		status = domain.FetchPartial
	}
	s.record(ctx, domain.Fetch{
		SetName:      set.Name,
		Title:        set.Title,
		Channel:      req.Channel,
		ChatID:       req.ChatID,
		RequestedBy:  req.SenderID,
		Total:        len(set.Stickers),
		Fetched:      len(assets),
		Skipped:      skipped,
		ArchiveBytes: int64(len(archive)),
		Status:       status,
		DurationMs:   time.Since(start).Milliseconds(),
	})

	metrics.PacksFetched.Inc()
	metrics.FetchDuration.Observe(time.Since(start).Seconds())
	metrics.ArchiveBytes.Observe(float64(len(archive)))

	s.logger.Info("pack fetched",
		"set", set.Name,
		"stickers", len(assets),
		"skipped", skipped,
		"bytes", len(archive),
		"duration", time.Since(start),
	)

	if s.bridge != nil {
		s.runBridge(ctx, req, set, assets)
	}
}

// fetchAll downloads every member of the set. A failed member is skipped,
// not fatal; the caller decides what to do when nothing survives.
func (s *Service) fetchAll(ctx context.Context, set *domain.StickerSet) ([]domain.Asset, int) {
	assets := make([]domain.Asset, 0, len(set.Stickers))
	skipped := 0
	for i, ref := range set.Stickers {
		asset, err := s.fetcher.Fetch(ctx, ref, i)
		if err != nil {
			s.logger.Warn("sticker download failed, skipping",
				"set", set.Name, "index", i, "file_id", ref.FileID, "err", err,
			)
			metrics.StickersSkipped.Inc()
			skipped++
			continue
		}
		metrics.StickersFetched.Inc()
		assets = append(assets, asset)
	}
	return assets, skipped
}

func (s *Service) runBridge(ctx context.Context, req domain.PackRequest, set *domain.StickerSet, assets []domain.Asset) {
	uploaded, err := s.bridge.Upload(ctx, set, assets)
	if err != nil {
		metrics.BridgeFailures.Inc()
		s.logger.Warn("bridge upload failed", "bridge", s.bridge.Name(), "set", set.Name, "err", err)
		s.reply(req, fmt.Sprintf("Bridge to %s failed after %d uploads: %v", s.bridge.Name(), uploaded, err))
		return
	}
	metrics.BridgeUploads.Add(int64(uploaded))
	s.reply(req, fmt.Sprintf("Bridged %d stickers to %s.", uploaded, s.bridge.Name()))
}

// writeCache mirrors the fetched pack into the downloads directory, the same
// layout the archive uses.
func (s *Service) writeCache(set *domain.StickerSet, assets []domain.Asset) error {
	dir := filepath.Join(s.cacheDir, set.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, a := range assets {
		if err := os.WriteFile(filepath.Join(dir, a.Name), a.Data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) fail(ctx context.Context, req domain.PackRequest, set *domain.StickerSet, start time.Time, err error) {
	metrics.PacksFailed.Inc()
	s.logger.Error("pack request failed", "set", req.Sticker.SetName, "chat", req.ChatID, "err", err)
	s.reply(req, "Sorry, that didn't work: "+err.Error())

	f := domain.Fetch{
		SetName:     req.Sticker.SetName,
		Channel:     req.Channel,
		ChatID:      req.ChatID,
		RequestedBy: req.SenderID,
		Status:      domain.FetchError,
		Error:       err.Error(),
		DurationMs:  time.Since(start).Milliseconds(),
	}
	if set != nil {
		f.SetName = set.Name
		f.Title = set.Title
		f.Total = len(set.Stickers)
	}
	s.record(ctx, f)
}

func (s *Service) record(ctx context.Context, f domain.Fetch) {
	if s.history == nil {
		return
	}
	if _, err := s.history.RecordFetch(ctx, f); err != nil {
		s.logger.Warn("history write failed", "set", f.SetName, "err", err)
	}
}

func (s *Service) reply(req domain.PackRequest, text string) {
	s.bus.SendOutbound(domain.OutboundMessage{
		Channel: req.Channel,
		ChatID:  req.ChatID,
		ReplyTo: req.MessageID,
		Content: text,
	})
}

func (s *Service) limiter(chatID string) *RateLimiter {
	s.limMu.Lock()
	defer s.limMu.Unlock()
	rl, ok := s.limiters[chatID]
	if !ok {
		rl = NewRateLimiter(s.maxBurst, s.ratePerMin)
		s.limiters[chatID] = rl
	}
	return rl
}
