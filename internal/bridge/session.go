package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

const discordLoginURL = "https://discord.com/login"

// tokenProbe reads the session token Discord keeps in localStorage. The
// value is stored JSON-quoted, hence the parse.
const tokenProbe = `(() => {
	try {
		const raw = localStorage.getItem("token");
		return raw ? JSON.parse(raw) : "";
	} catch (e) {
		return "";
	}
})()`

// ScrapeSessionToken opens a visible Chrome window on the Discord login
// page, waits for the user to log in, and lifts the session token from
// localStorage. The profile dir persists cookies so repeat scrapes skip
// the login form.
func ScrapeSessionToken(ctx context.Context, profileDir string, logger *slog.Logger) (string, error) {
	if err := os.MkdirAll(profileDir, 0o755); err != nil {
		return "", fmt.Errorf("create profile dir %s: %w", profileDir, err)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(profileDir),
		chromedp.Flag("headless", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("exclude-switches", "enable-automation"),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	if err := chromedp.Run(taskCtx, chromedp.Navigate(discordLoginURL)); err != nil {
		return "", fmt.Errorf("navigate to login page: %w", err)
	}

	logger.Info("browser opened. Log in to Discord; the token is picked up automatically.")

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
			var token string
			if err := chromedp.Run(taskCtx, chromedp.Evaluate(tokenProbe, &token)); err != nil {
				// The page may be mid-navigation; try again on the next tick.
				continue
			}
			token = strings.TrimSpace(token)
			if token != "" {
				logger.Info("session token captured", "profile", profileDir)
				return token, nil
			}
		}
	}
}
