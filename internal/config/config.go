package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for packbot.
type Config struct {
	General   GeneralConfig   `json:"general" yaml:"general"`
	Telegram  TelegramConfig  `json:"telegram" yaml:"telegram"`
	Downloads DownloadsConfig `json:"downloads" yaml:"downloads"`
	History   HistoryConfig   `json:"history" yaml:"history"`
	Bridge    BridgeConfig    `json:"bridge" yaml:"bridge"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
}

type GeneralConfig struct {
	DataDir  string `json:"dataDir" yaml:"dataDir"`
	LogLevel string `json:"logLevel" yaml:"logLevel"`
	LogFile  string `json:"logFile,omitempty" yaml:"logFile,omitempty"`
}

type TelegramConfig struct {
	Token             string         `json:"token" yaml:"token"`
	AllowFrom         FlexStringList `json:"allowFrom" yaml:"allowFrom"`
	RequestsPerMinute int            `json:"requestsPerMinute" yaml:"requestsPerMinute"` // per-chat pack requests
	MaxBurst          int            `json:"maxBurst" yaml:"maxBurst"`
}

type DownloadsConfig struct {
	CacheDir       string `json:"cacheDir" yaml:"cacheDir"` // fetched packs are mirrored here
	KeepFiles      bool   `json:"keepFiles" yaml:"keepFiles"`
	TimeoutSeconds int    `json:"timeoutSeconds" yaml:"timeoutSeconds"` // per-asset HTTP timeout
}

type HistoryConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	DBPath   string `json:"dbPath" yaml:"dbPath"`
	ShowLast int    `json:"showLast" yaml:"showLast"` // entries shown by /history
}

// BridgeConfig configures the experimental Discord re-upload bridge.
// SessionToken is a scraped user session token (see `packbot login discord`),
// not a bot token.
type BridgeConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	SessionToken string `json:"sessionToken" yaml:"sessionToken"`
	GuildID      string `json:"guildId" yaml:"guildId"`
	ProfileDir   string `json:"profileDir,omitempty" yaml:"profileDir,omitempty"` // Chrome profile for login
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	// Try []string first
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	// Fallback: array of mixed types
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// UnmarshalYAML accepts the same mixed string/number arrays from YAML files.
func (f *FlexStringList) UnmarshalYAML(value *yaml.Node) error {
	var raw []any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		switch v := item.(type) {
		case string:
			result = append(result, v)
		case int:
			result = append(result, strconv.Itoa(v))
		case int64:
			result = append(result, strconv.FormatInt(v, 10))
		case float64:
			result = append(result, strconv.FormatInt(int64(v), 10))
		default:
			result = append(result, fmt.Sprint(v))
		}
	}
	*f = result
	return nil
}

// DefaultConfigDir returns the default config directory (~/.packbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".packbot"
	}
	return filepath.Join(home, ".packbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads a config file (JSON, or YAML for .yaml/.yml paths), expands
// environment variable references, applies defaults, and validates.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	// Credentials default to ${VAR} placeholders, so expand them again for
	// configs that omit the fields entirely and rely on the environment.
	cfg.Telegram.Token = ExpandEnvVars(cfg.Telegram.Token)
	cfg.Bridge.SessionToken = ExpandEnvVars(cfg.Bridge.SessionToken)
	cfg.Bridge.GuildID = ExpandEnvVars(cfg.Bridge.GuildID)

	cfg.General.DataDir = ExpandPath(cfg.General.DataDir)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Downloads.CacheDir = ExpandPath(cfg.Downloads.CacheDir)
	cfg.History.DBPath = ExpandPath(cfg.History.DBPath)
	cfg.Bridge.ProfileDir = ExpandPath(cfg.Bridge.ProfileDir)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

// Save writes the config back to disk in the format implied by the extension.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values. Credential presence is
// checked at gateway startup, not here, so read-only commands still work on
// a config with unset tokens.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Telegram.RequestsPerMinute < 1 || cfg.Telegram.RequestsPerMinute > 600 {
		errs = append(errs, "telegram.requestsPerMinute must be between 1 and 600")
	}
	if cfg.Telegram.MaxBurst < 1 || cfg.Telegram.MaxBurst > 100 {
		errs = append(errs, "telegram.maxBurst must be between 1 and 100")
	}
	if cfg.Downloads.TimeoutSeconds < 1 {
		errs = append(errs, "downloads.timeoutSeconds must be >= 1")
	}
	if cfg.History.ShowLast < 1 {
		errs = append(errs, "history.showLast must be >= 1")
	}
	if cfg.Metrics.Port < 0 || cfg.Metrics.Port > 65535 {
		errs = append(errs, "metrics.port must be between 0 and 65535")
	}
	if cfg.Bridge.Enabled && cfg.Bridge.GuildID == "" {
		errs = append(errs, "bridge.guildId is required when the bridge is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// IsSet reports whether a credential value is present and fully resolved
// (no leftover ${VAR} placeholder from an unset environment variable).
func IsSet(s string) bool {
	return s != "" && !strings.Contains(s, "${")
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
