package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			DataDir:  "~/.packbot",
			LogLevel: "info",
		},
		Telegram: TelegramConfig{
			Token:             "${TELEGRAM_BOT_TOKEN}",
			RequestsPerMinute: 6,
			MaxBurst:          3,
		},
		Downloads: DownloadsConfig{
			CacheDir:       "~/.packbot/downloads",
			KeepFiles:      true,
			TimeoutSeconds: 30,
		},
		History: HistoryConfig{
			Enabled:  true,
			DBPath:   "~/.packbot/history.db",
			ShowLast: 10,
		},
		Bridge: BridgeConfig{
			Enabled:      false,
			SessionToken: "${DISCORD_SESSION_TOKEN}",
			GuildID:      "${DISCORD_GUILD_ID}",
			ProfileDir:   "~/.packbot/chrome-profiles/discord",
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Host:     "127.0.0.1",
			Port:     9090,
			Endpoint: "/metrics",
		},
	}
}
