package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"packbot/internal/domain"
	"packbot/internal/metrics"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

// Telegram implements domain.Channel for the Telegram bot API. It is the
// only inbound surface: sticker messages become pack requests on the bus.
type Telegram struct {
	token     string
	allowFrom []int64 // Allowed user IDs (empty = allow all)

	bot    *tgbotapi.BotAPI
	bus    domain.MessageBus
	logger *slog.Logger

	history  domain.HistoryStore // nil = /history disabled
	showLast int
}

type TelegramConfig struct {
	Token     string
	AllowFrom []string // User IDs as strings
	History   domain.HistoryStore
	ShowLast  int
	Logger    *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.ShowLast <= 0 {
		cfg.ShowLast = 10
	}
	return &Telegram{
		token:     cfg.Token,
		allowFrom: allowed,
		logger:    cfg.Logger,
		history:   cfg.History,
		showLast:  cfg.ShowLast,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// API exposes the underlying bot client for the resolver and fetcher.
// Only valid after Start has connected.
func (t *Telegram) API() *tgbotapi.BotAPI { return t.bot }

// Connect initializes the bot client without starting the poll loop, so the
// pack service can be wired to the same client before polling begins.
func (t *Telegram) Connect() error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)
	return nil
}

// Start begins polling for updates. Connect must have been called.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	if t.bot == nil {
		if err := t.Connect(); err != nil {
			return err
		}
	}
	t.bus = bus

	bus.OnOutbound("telegram", func(msg domain.OutboundMessage) {
		chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
		if err != nil {
			t.logger.Error("invalid chat ID for telegram outbound", "chatID", msg.ChatID, "err", err)
			return
		}
		if msg.Document != nil {
			t.sendDocument(chatID, msg.ReplyTo, msg.Document)
			return
		}
		t.sendMessage(chatID, msg.Content)
	})

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := t.bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			t.bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(update)
		}
	}
}

// Stop shuts down the Telegram bot.
// Note: StopReceivingUpdates is already called when ctx is cancelled in Start().
// Calling it twice panics, so Stop() is a no-op.
func (t *Telegram) Stop() error {
	return nil
}

func (t *Telegram) Send(ctx context.Context, chatID string, content string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}
	t.sendMessage(id, content)
	return nil
}

func (t *Telegram) handleUpdate(update tgbotapi.Update) {
	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return
	}

	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	if !t.isAllowed(userID) {
		t.logger.Warn("unauthorized telegram user",
			"user_id", userID,
			"username", update.Message.From.UserName,
		)
		t.sendMessage(chatID, "Unauthorized. Your user ID is not in the allow list.")
		return
	}

	if update.Message.IsCommand() {
		t.handleCommand(chatID, update.Message)
		return
	}

	sticker := update.Message.Sticker
	if sticker == nil {
		// Plain messages never trigger a set lookup.
		t.logger.Debug("ignoring non-sticker message", "chat_id", chatID)
		return
	}

	t.logger.Info("sticker received",
		"user_id", userID,
		"chat_id", chatID,
		"set", sticker.SetName,
	)

	typing := tgbotapi.NewChatAction(chatID, tgbotapi.ChatUploadDocument)
	_, _ = t.bot.Send(typing)

	t.bus.Publish(domain.PackRequest{
		Channel:   "telegram",
		ChatID:    strconv.FormatInt(chatID, 10),
		SenderID:  strconv.FormatInt(userID, 10),
		MessageID: update.Message.MessageID,
		Sticker: domain.StickerRef{
			FileID:     sticker.FileID,
			SetName:    sticker.SetName,
			Emoji:      sticker.Emoji,
			IsAnimated: sticker.IsAnimated,
		},
		Timestamp: time.Unix(int64(update.Message.Date), 0),
	})
}

func (t *Telegram) handleCommand(chatID int64, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		t.sendMessage(chatID, "Connection set up. Send a sticker to download the pack it belongs to.")
	case "help":
		t.sendMessage(chatID, "Send me any sticker and I'll reply with a zip of its whole pack.\n\nCommands:\n/history — Recent pack fetches\n/status — Bot status\n/help — This message")
	case "status":
		t.sendMessage(chatID, fmt.Sprintf("packbot online\n\nBot: @%s\nUptime: %s\nPacks fetched: %d\nStickers downloaded: %d",
			t.bot.Self.UserName,
			metrics.Collector.Uptime().Round(time.Second),
			metrics.PacksFetched.Value(),
			metrics.StickersFetched.Value(),
		))
	case "history":
		t.sendHistory(chatID)
	default:
		t.sendMessage(chatID, "Unknown command. Type /help for available commands.")
	}
}

func (t *Telegram) sendHistory(chatID int64) {
	if t.history == nil {
		t.sendMessage(chatID, "History is disabled.")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	fetches, err := t.history.RecentFetches(ctx, t.showLast)
	if err != nil {
		t.logger.Error("history read failed", "err", err)
		t.sendMessage(chatID, "Could not read the fetch history.")
		return
	}
	if len(fetches) == 0 {
		t.sendMessage(chatID, "No packs fetched yet.")
		return
	}

	var sb strings.Builder
	sb.WriteString("Recent pack fetches:\n")
	for _, f := range fetches {
		switch f.Status {
		case domain.FetchError:
			fmt.Fprintf(&sb, "• %s — failed: %s\n", f.SetName, f.Error)
		case domain.FetchPartial:
			fmt.Fprintf(&sb, "• %s (%s) — %d/%d stickers\n", f.SetName, f.Title, f.Fetched, f.Total)
		default:
			fmt.Fprintf(&sb, "• %s (%s) — %d stickers\n", f.SetName, f.Title, f.Fetched)
		}
	}
	t.sendMessage(chatID, sb.String())
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true // Empty list = allow all
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

func (t *Telegram) sendDocument(chatID int64, replyTo int, doc *domain.Document) {
	msg := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{
		Name:  doc.Name,
		Bytes: doc.Data,
	})
	msg.Caption = doc.Caption
	if replyTo != 0 {
		msg.ReplyToMessageID = replyTo
	}

	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		_, err := t.bot.Send(msg)
		if err == nil {
			return
		}

		if strings.Contains(err.Error(), "Too Many Requests") || strings.Contains(err.Error(), "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off",
				"retry_after", retryAfter, "attempt", attempt+1,
			)
			time.Sleep(retryAfter)
			continue
		}

		if attempt < telegramMaxSendRetries {
			backoff := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram document send error, retrying", "err", err, "backoff", backoff)
			time.Sleep(backoff)
			continue
		}

		t.logger.Error("telegram document send failed after retries",
			"name", doc.Name, "bytes", len(doc.Data), "err", err,
		)
	}
}

func (t *Telegram) sendMessage(chatID int64, text string) {
	// Telegram has a 4096 char limit per message
	const maxLen = telegramMaxMsgLen
	for len(text) > 0 {
		chunk := text
		if len(chunk) > maxLen {
			cutAt := strings.LastIndex(chunk[:maxLen], "\n")
			if cutAt < maxLen/2 {
				cutAt = maxLen
			}
			chunk = text[:cutAt]
			text = text[cutAt:]
		} else {
			text = ""
		}

		t.sendChunk(chatID, chunk)
	}
}

// sendChunk sends a single message chunk with retry and rate limit handling.
func (t *Telegram) sendChunk(chatID int64, text string) {
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)

		_, err := t.bot.Send(msg)
		if err == nil {
			return
		}

		errStr := err.Error()

		// Handle Telegram rate limiting (HTTP 429).
		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off",
				"retry_after", retryAfter, "attempt", attempt+1,
			)
			time.Sleep(retryAfter)
			continue
		}

		// Exponential backoff for other transient errors.
		if attempt < telegramMaxSendRetries {
			backoff := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			time.Sleep(backoff)
			continue
		}

		t.logger.Error("telegram send failed after retries", "err", err, "attempts", telegramMaxSendRetries+1)
	}
}
