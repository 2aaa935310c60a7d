package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration. It is built once at startup and passed
// explicitly to the components that need it.
type Config struct {
	General   GeneralConfig   `json:"general" yaml:"general"`
	Commands  CommandsConfig  `json:"commands" yaml:"commands"`
	Session   SessionConfig   `json:"session" yaml:"session"`
	Transport TransportConfig `json:"transport" yaml:"transport"`
	Store     StoreConfig     `json:"store" yaml:"store"`
	Dedup     DedupConfig     `json:"dedup" yaml:"dedup"`
	Notify    NotifyConfig    `json:"notify" yaml:"notify"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
}

type GeneralConfig struct {
	LogLevel  string `json:"logLevel" yaml:"logLevel" env:"WABOT_LOG_LEVEL" env-description:"debug, info, warn or error"`
	LogFormat string `json:"logFormat" yaml:"logFormat" env:"WABOT_LOG_FORMAT" env-description:"text or json"`
	DataDir   string `json:"dataDir" yaml:"dataDir" env:"WABOT_DATA_DIR" env-description:"directory for the database and runtime files"`
	BotName   string `json:"botName" yaml:"botName" env:"WABOT_BOT_NAME" env-description:"name shown in help and version replies"`
}

type CommandsConfig struct {
	Prefix                string  `json:"prefix" yaml:"prefix" env:"WABOT_PREFIX" env-description:"command prefix"`
	TimeZone              string  `json:"timeZone" yaml:"timeZone" env:"WABOT_TIMEZONE" env-description:"IANA zone used by the time command"`
	HandlerTimeoutSeconds int     `json:"handlerTimeoutSeconds" yaml:"handlerTimeoutSeconds"`
	ProcessSelf           bool    `json:"processSelf" yaml:"processSelf" env:"WABOT_PROCESS_SELF" env-description:"also handle messages sent from the bot's own account"`
	SendRatePerMinute     float64 `json:"sendRatePerMinute" yaml:"sendRatePerMinute"`
	SendBurst             int     `json:"sendBurst" yaml:"sendBurst"`
}

type SessionConfig struct {
	ReconnectDelaySeconds    int    `json:"reconnectDelaySeconds" yaml:"reconnectDelaySeconds"`
	StartupRetryDelaySeconds int    `json:"startupRetryDelaySeconds" yaml:"startupRetryDelaySeconds"`
	UsePairingCode           bool   `json:"usePairingCode" yaml:"usePairingCode" env:"WABOT_PAIRING" env-description:"authenticate with a pairing code instead of a QR scan"`
	PhoneNumber              string `json:"phoneNumber,omitempty" yaml:"phoneNumber,omitempty" env:"WABOT_PHONE" env-description:"phone number for pairing; prompted when empty"`
	PhoneCountryCode         string `json:"phoneCountryCode" yaml:"phoneCountryCode"`
}

type TransportConfig struct {
	Kind   string       `json:"kind" yaml:"kind" env:"WABOT_TRANSPORT" env-description:"bridge or console"`
	Bridge BridgeConfig `json:"bridge" yaml:"bridge"`
}

type BridgeConfig struct {
	URL                     string `json:"url" yaml:"url" env:"WABOT_BRIDGE_URL" env-description:"websocket URL of the protocol bridge"`
	Token                   string `json:"token,omitempty" yaml:"token,omitempty" env:"WABOT_BRIDGE_TOKEN" env-description:"bearer token for the bridge"`
	ClientName              string `json:"clientName" yaml:"clientName"`
	HandshakeTimeoutSeconds int    `json:"handshakeTimeoutSeconds" yaml:"handshakeTimeoutSeconds"`
	RequestTimeoutSeconds   int    `json:"requestTimeoutSeconds" yaml:"requestTimeoutSeconds"`
	KeepAliveSeconds        int    `json:"keepAliveSeconds" yaml:"keepAliveSeconds"`
}

type StoreConfig struct {
	DBPath string `json:"dbPath" yaml:"dbPath" env:"WABOT_DB_PATH" env-description:"SQLite database path"`
}

type DedupConfig struct {
	Backend    string      `json:"backend" yaml:"backend" env:"WABOT_DEDUP_BACKEND" env-description:"memory, redis or off"`
	TTLSeconds int         `json:"ttlSeconds" yaml:"ttlSeconds"`
	Redis      RedisConfig `json:"redis" yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr" env:"WABOT_REDIS_ADDR" env-description:"redis host:port"`
	Password string `json:"password,omitempty" yaml:"password,omitempty" env:"WABOT_REDIS_PASSWORD"`
	DB       int    `json:"db" yaml:"db"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
}

// TelegramConfig routes operator alerts (logout, repeated failures) to a
// Telegram chat.
type TelegramConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" env:"WABOT_TELEGRAM_ENABLED"`
	Token   string `json:"token,omitempty" yaml:"token,omitempty" env:"WABOT_TELEGRAM_TOKEN" env-description:"Telegram bot token for operator alerts"`
	ChatID  int64  `json:"chatId" yaml:"chatId" env:"WABOT_TELEGRAM_CHAT_ID" env-description:"Telegram chat receiving operator alerts"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled" env:"WABOT_METRICS_ENABLED"`
	Listen   string `json:"listen" yaml:"listen" env:"WABOT_METRICS_LISTEN" env-description:"metrics listen address"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func (c SessionConfig) ReconnectDelay() time.Duration    { return seconds(c.ReconnectDelaySeconds) }
func (c SessionConfig) StartupRetryDelay() time.Duration { return seconds(c.StartupRetryDelaySeconds) }
func (c CommandsConfig) HandlerTimeout() time.Duration   { return seconds(c.HandlerTimeoutSeconds) }
func (c DedupConfig) TTL() time.Duration                 { return seconds(c.TTLSeconds) }

func (c BridgeConfig) HandshakeTimeout() time.Duration { return seconds(c.HandshakeTimeoutSeconds) }
func (c BridgeConfig) RequestTimeout() time.Duration   { return seconds(c.RequestTimeoutSeconds) }
func (c BridgeConfig) KeepAlive() time.Duration        { return seconds(c.KeepAliveSeconds) }

// Location resolves TimeZone, falling back to UTC when it is empty.
func (c CommandsConfig) Location() (*time.Location, error) {
	if c.TimeZone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.TimeZone)
}

// DefaultConfigDir returns ~/.wabot.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".wabot"
	}
	return filepath.Join(home, ".wabot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads path (JSON, or YAML for .yaml/.yml), applies ${VAR}
// substitution and WABOT_* environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := decode(path, data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	return finish(cfg)
}

// LoadOrDefaults is Load, except that a missing file yields the defaults
// (still subject to environment overrides).
func LoadOrDefaults(path string) (*Config, error) {
	if _, err := os.Stat(ExpandPath(path)); os.IsNotExist(err) {
		return finish(Defaults())
	}
	return Load(path)
}

func finish(cfg *Config) (*Config, error) {
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("cannot apply environment overrides: %w", err)
	}
	cfg.General.DataDir = ExpandPath(cfg.General.DataDir)
	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// EnvHelp describes the supported environment overrides.
func EnvHelp() string {
	header := "Environment overrides:"
	text, err := cleanenv.GetDescription(Defaults(), &header)
	if err != nil {
		return header
	}
	return text
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func decode(path string, data []byte, cfg *Config) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, cfg)
	}
	return json.Unmarshal(data, cfg)
}

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the variable's value, or with the
// default in ${VAR:-default} when VAR is unset or empty. Unknown variables
// without a default are left as written.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name, def := groups[1], groups[2]
		hasDefault := strings.Contains(match, ":-")

		if val, ok := os.LookupEnv(name); ok && val != "" {
			return val
		}
		if hasDefault {
			return def
		}
		return match
	})
}

// Save writes cfg in the format implied by path's extension. The file may
// hold tokens, so it is created owner-only.
func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has usable values.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	switch cfg.General.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, "general.logFormat must be text or json")
	}

	if cfg.Commands.Prefix == "" {
		errs = append(errs, "commands.prefix must not be empty")
	} else if strings.TrimSpace(cfg.Commands.Prefix) != cfg.Commands.Prefix {
		errs = append(errs, "commands.prefix must not start or end with whitespace")
	}
	if _, err := cfg.Commands.Location(); err != nil {
		errs = append(errs, fmt.Sprintf("commands.timeZone: %v", err))
	}
	if cfg.Commands.HandlerTimeoutSeconds < 1 {
		errs = append(errs, "commands.handlerTimeoutSeconds must be >= 1")
	}
	if cfg.Commands.SendRatePerMinute < 0 {
		errs = append(errs, "commands.sendRatePerMinute must be >= 0")
	}

	if cfg.Session.ReconnectDelaySeconds < 1 {
		errs = append(errs, "session.reconnectDelaySeconds must be >= 1")
	}
	if cfg.Session.StartupRetryDelaySeconds < 1 {
		errs = append(errs, "session.startupRetryDelaySeconds must be >= 1")
	}
	if cfg.Session.PhoneCountryCode == "" || strings.Trim(cfg.Session.PhoneCountryCode, "0123456789") != "" {
		errs = append(errs, "session.phoneCountryCode must be digits")
	}

	switch cfg.Transport.Kind {
	case "bridge":
		if cfg.Transport.Bridge.URL == "" {
			errs = append(errs, "transport.bridge.url is required for the bridge transport")
		} else if !strings.HasPrefix(cfg.Transport.Bridge.URL, "ws://") && !strings.HasPrefix(cfg.Transport.Bridge.URL, "wss://") {
			errs = append(errs, "transport.bridge.url must be a ws:// or wss:// URL")
		}
	case "console":
	default:
		errs = append(errs, "transport.kind must be bridge or console")
	}

	switch cfg.Dedup.Backend {
	case "memory", "off":
	case "redis":
		if cfg.Dedup.Redis.Addr == "" {
			errs = append(errs, "dedup.redis.addr is required for the redis backend")
		}
	default:
		errs = append(errs, "dedup.backend must be memory, redis or off")
	}

	if cfg.Notify.Telegram.Enabled && (cfg.Notify.Telegram.Token == "" || cfg.Notify.Telegram.ChatID == 0) {
		errs = append(errs, "notify.telegram requires token and chatId when enabled")
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		errs = append(errs, "metrics.listen is required when metrics are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves a leading ~/ to the user's home directory.
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
