package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"packbot/internal/bridge"
	"packbot/internal/bus"
	"packbot/internal/channel"
	"packbot/internal/config"
	"packbot/internal/domain"
	"packbot/internal/history"
	"packbot/internal/metrics"
	"packbot/internal/packs"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "packbot",
		Short: "packbot: Telegram sticker pack downloader bot",
		Long:  "packbot listens for stickers on Telegram and replies with a zip of the whole pack. An experimental bridge can mirror packs to Discord.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: ~/.packbot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(gatewayCmd())
	root.AddCommand(loginCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(configCmd())
	root.AddCommand(installDaemonCmd())
	root.AddCommand(uninstallDaemonCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config and data directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			for _, dir := range []string{
				config.ExpandPath(cfg.General.DataDir),
				config.ExpandPath(cfg.Downloads.CacheDir),
			} {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return err
				}
			}
			logger.Info("initialized", "config", cfgPath)
			logger.Info("set TELEGRAM_BOT_TOKEN in the environment or edit the config, then run `packbot gateway`")
			return nil
		},
	}
}

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Start the bot (Telegram listener + pack service)",
		Long:  "Connects to Telegram, starts the pack service, and serves requests until interrupted.",
		RunE:  runGateway,
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	setupLogger(cfg)

	// Credentials are fatal before any listening begins.
	if !config.IsSet(cfg.Telegram.Token) {
		return fmt.Errorf("telegram.token is not set (export TELEGRAM_BOT_TOKEN or edit %s)", cfgPath)
	}

	if err := os.MkdirAll(cfg.Downloads.CacheDir, 0o755); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	messageBus := bus.New(100, logger)

	var historyStore domain.HistoryStore
	if cfg.History.Enabled {
		store, err := history.NewSQLiteStore(cfg.History.DBPath, logger)
		if err != nil {
			return fmt.Errorf("history store: %w", err)
		}
		defer store.Close()
		historyStore = store
	}

	telegramCh := channel.NewTelegram(channel.TelegramConfig{
		Token:     cfg.Telegram.Token,
		AllowFrom: cfg.Telegram.AllowFrom,
		History:   historyStore,
		ShowLast:  cfg.History.ShowLast,
		Logger:    logger,
	})
	if err := telegramCh.Connect(); err != nil {
		return err
	}

	var packBridge packs.Bridge
	if cfg.Bridge.Enabled {
		if !config.IsSet(cfg.Bridge.SessionToken) || !config.IsSet(cfg.Bridge.GuildID) {
			return fmt.Errorf("bridge enabled but credentials missing (run `packbot login discord` or set DISCORD_SESSION_TOKEN and DISCORD_GUILD_ID)")
		}
		discordBridge := bridge.NewDiscord(bridge.DiscordConfig{
			SessionToken: cfg.Bridge.SessionToken,
			GuildID:      cfg.Bridge.GuildID,
			Logger:       logger,
		})
		if err := discordBridge.Verify(ctx); err != nil {
			return fmt.Errorf("bridge credentials: %w", err)
		}
		packBridge = discordBridge
		logger.Info("discord bridge enabled", "guild", cfg.Bridge.GuildID)
	}

	service := packs.NewService(packs.ServiceConfig{
		Resolver:          packs.NewResolver(telegramCh.API(), logger),
		Fetcher:           packs.NewFetcher(telegramCh.API(), cfg.Telegram.Token, time.Duration(cfg.Downloads.TimeoutSeconds)*time.Second),
		Bus:               messageBus,
		History:           historyStore,
		Bridge:            packBridge,
		Logger:            logger,
		CacheDir:          cfg.Downloads.CacheDir,
		KeepFiles:         cfg.Downloads.KeepFiles,
		RequestsPerMinute: cfg.Telegram.RequestsPerMinute,
		MaxBurst:          cfg.Telegram.MaxBurst,
	})

	go service.Run(ctx)

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.HandleFunc(cfg.Metrics.Endpoint, metrics.Collector.Handler())
		metricsSrv = &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Metrics.Host, cfg.Metrics.Port),
			Handler: mux,
		}
		go func() {
			logger.Info("metrics listener started", "addr", metricsSrv.Addr, "endpoint", cfg.Metrics.Endpoint)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics listener error", "err", err)
			}
		}()
	}

	go func() {
		if err := telegramCh.Start(ctx, messageBus); err != nil {
			logger.Error("telegram channel error", "err", err)
			stop()
		}
	}()

	logger.Info("gateway started. Press Ctrl+C to stop.", "version", version)

	// Block until shutdown signal
	<-ctx.Done()
	logger.Info("shutting down gateway...")

	// Graceful shutdown with timeout
	const shutdownTimeout = 10 * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	var shutdownErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		telegramCh.Stop()
		if metricsSrv != nil {
			metricsSrv.Shutdown(shutdownCtx)
		}
		messageBus.Close()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		shutdownErr = fmt.Errorf("shutdown timed out")
	}

	return shutdownErr
}

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login [platform]",
		Short: "Scrape a session token for the bridge (discord)",
		Long:  "Opens a visible Chrome window for you to log in. The captured session token is written into the config file for the bridge.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[0] != "discord" {
				return fmt.Errorf("unsupported platform: %s (supported: discord)", args[0])
			}

			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			token, err := bridge.ScrapeSessionToken(ctx, cfg.Bridge.ProfileDir, logger)
			if err != nil {
				return fmt.Errorf("scrape session token: %w", err)
			}

			cfg.Bridge.SessionToken = token
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("bridge session token saved", "file", cfgPath)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. telegram.requestsPerMinute)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. bridge.guildId 123456789)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			sanitized := config.Sanitize(cfg)
			data, _ := json.MarshalIndent(sanitized, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}

// setupLogger rebuilds the global logger with the configured level and
// optional log file.
func setupLogger(cfg *config.Config) {
	level := slog.LevelInfo
	switch cfg.General.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	out := os.Stderr
	if cfg.General.LogFile != "" {
		if f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
			out = f
		} else {
			logger.Warn("cannot open log file, logging to stderr", "file", cfg.General.LogFile, "err", err)
		}
	}

	logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
}
