package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// --- Validate ---

func TestValidate_Defaults(t *testing.T) {
	if err := Validate(Defaults()); err != nil {
		t.Fatalf("expected valid defaults, got: %v", err)
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty prefix", func(c *Config) { c.Commands.Prefix = "" }},
		{"padded prefix", func(c *Config) { c.Commands.Prefix = " ." }},
		{"bad time zone", func(c *Config) { c.Commands.TimeZone = "Mars/Olympus" }},
		{"zero handler timeout", func(c *Config) { c.Commands.HandlerTimeoutSeconds = 0 }},
		{"zero reconnect delay", func(c *Config) { c.Session.ReconnectDelaySeconds = 0 }},
		{"zero startup delay", func(c *Config) { c.Session.StartupRetryDelaySeconds = 0 }},
		{"non-digit country code", func(c *Config) { c.Session.PhoneCountryCode = "+62" }},
		{"unknown log level", func(c *Config) { c.General.LogLevel = "chatty" }},
		{"unknown log format", func(c *Config) { c.General.LogFormat = "xml" }},
		{"unknown transport", func(c *Config) { c.Transport.Kind = "carrier-pigeon" }},
		{"http bridge url", func(c *Config) { c.Transport.Bridge.URL = "http://localhost" }},
		{"missing bridge url", func(c *Config) { c.Transport.Bridge.URL = "" }},
		{"redis without addr", func(c *Config) { c.Dedup.Backend = "redis"; c.Dedup.Redis.Addr = "" }},
		{"unknown dedup backend", func(c *Config) { c.Dedup.Backend = "disk" }},
		{"telegram without token", func(c *Config) { c.Notify.Telegram.Enabled = true }},
		{"metrics without listen", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Listen = "" }},
	}
	for _, tt := range tests {
		cfg := Defaults()
		tt.mutate(cfg)
		if err := Validate(cfg); err == nil {
			t.Errorf("%s: expected validation error", tt.name)
		}
	}
}

func TestValidate_ConsoleNeedsNoBridge(t *testing.T) {
	cfg := Defaults()
	cfg.Transport.Kind = "console"
	cfg.Transport.Bridge.URL = ""
	if err := Validate(cfg); err != nil {
		t.Fatalf("console transport should not need a bridge url: %v", err)
	}
}

func TestDurationsAndLocation(t *testing.T) {
	cfg := Defaults()
	if cfg.Session.ReconnectDelay() != 5*time.Second {
		t.Errorf("reconnect delay = %v", cfg.Session.ReconnectDelay())
	}
	if cfg.Session.StartupRetryDelay() != 10*time.Second {
		t.Errorf("startup retry delay = %v", cfg.Session.StartupRetryDelay())
	}
	loc, err := cfg.Commands.Location()
	if err != nil || loc.String() != "Asia/Jakarta" {
		t.Errorf("location = %v, %v", loc, err)
	}
	cfg.Commands.TimeZone = ""
	if loc, _ := cfg.Commands.Location(); loc != time.UTC {
		t.Errorf("empty zone = %v, want UTC", loc)
	}
}

// --- Load / Save ---

func TestLoadSave_RoundTripJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	original := Defaults()
	original.Commands.Prefix = "!"
	original.Transport.Bridge.Token = "bridge-secret"

	if err := Save(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("config file mode = %o, want 600", perm)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Commands.Prefix != "!" || loaded.Transport.Bridge.Token != "bridge-secret" {
		t.Errorf("loaded = %+v", loaded.Commands)
	}
}

func TestLoadSave_RoundTripYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	original := Defaults()
	original.Dedup.Backend = "redis"
	original.Dedup.Redis.DB = 3

	if err := Save(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "backend: redis") {
		t.Errorf("not written as YAML:\n%s", data)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Dedup.Backend != "redis" || loaded.Dedup.Redis.DB != 3 {
		t.Errorf("dedup = %+v", loaded.Dedup)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	os.WriteFile(path, []byte("commands:\n  prefix: \"#\"\n"), 0o600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Commands.Prefix != "#" {
		t.Errorf("prefix = %q", cfg.Commands.Prefix)
	}
	if cfg.Commands.TimeZone != "Asia/Jakarta" || cfg.Session.ReconnectDelaySeconds != 5 {
		t.Errorf("defaults lost: %+v %+v", cfg.Commands, cfg.Session)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadOrDefaults_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefaults(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("LoadOrDefaults: %v", err)
	}
	if cfg.Commands.Prefix != "." {
		t.Errorf("prefix = %q", cfg.Commands.Prefix)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte("{not json"), 0o600)
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoad_ValidatesConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte(`{"commands":{"prefix":""}}`), 0o600)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "commands.prefix") {
		t.Fatalf("expected prefix validation error, got %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := Save(path, Defaults()); err != nil {
		t.Fatal(err)
	}
	t.Setenv("WABOT_PREFIX", "/")
	t.Setenv("WABOT_TRANSPORT", "console")
	t.Setenv("WABOT_TELEGRAM_CHAT_ID", "-100123")
	t.Setenv("WABOT_PROCESS_SELF", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Commands.Prefix != "/" || cfg.Transport.Kind != "console" {
		t.Errorf("env overrides not applied: %+v %+v", cfg.Commands, cfg.Transport)
	}
	if cfg.Notify.Telegram.ChatID != -100123 || !cfg.Commands.ProcessSelf {
		t.Errorf("typed env overrides not applied: %+v", cfg.Notify.Telegram)
	}
}

func TestLoad_WithEnvVarSubstitution(t *testing.T) {
	t.Setenv("TEST_WABOT_BRIDGE", "wss://bridge.example:443/ws")
	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte(`{"transport":{"kind":"bridge","bridge":{"url":"${TEST_WABOT_BRIDGE}","token":"${TEST_WABOT_UNSET:-fallback}"}}}`), 0o600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Transport.Bridge.URL != "wss://bridge.example:443/ws" {
		t.Errorf("url = %q", cfg.Transport.Bridge.URL)
	}
	if cfg.Transport.Bridge.Token != "fallback" {
		t.Errorf("token = %q", cfg.Transport.Bridge.Token)
	}
}

func TestLoad_ExpandsHomePaths(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	cfg, err := LoadOrDefaults(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(home, ".wabot", "wabot.db"); cfg.Store.DBPath != want {
		t.Errorf("db path = %q, want %q", cfg.Store.DBPath, want)
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("WABOT_T_SET", "value")
	t.Setenv("WABOT_T_EMPTY", "")

	tests := []struct{ in, want string }{
		{"${WABOT_T_SET}", "value"},
		{"a-${WABOT_T_SET}-b-${WABOT_T_SET}", "a-value-b-value"},
		{"${WABOT_T_UNSET:-def}", "def"},
		{"${WABOT_T_SET:-def}", "value"},
		{"${WABOT_T_EMPTY:-def}", "def"},
		{"${WABOT_T_UNSET:-}", ""},
		{"${WABOT_T_UNSET}", "${WABOT_T_UNSET}"},
		{"$WABOT_T_SET", "$WABOT_T_SET"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		if got := ExpandEnvVars(tt.in); got != tt.want {
			t.Errorf("ExpandEnvVars(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// --- Accessors ---

func TestGetByPath(t *testing.T) {
	cfg := Defaults()
	v, err := GetByPath(cfg, "commands.prefix")
	if err != nil || v != "." {
		t.Errorf("commands.prefix = %v, %v", v, err)
	}
	v, err = GetByPath(cfg, "session.reconnectDelaySeconds")
	if err != nil || v != 5 {
		t.Errorf("reconnectDelaySeconds = %v, %v", v, err)
	}
	if _, err := GetByPath(cfg, "commands.nope"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestSetByPath(t *testing.T) {
	cfg := Defaults()

	if err := SetByPath(cfg, "commands.prefix", "!"); err != nil {
		t.Fatal(err)
	}
	if err := SetByPath(cfg, "commands.processSelf", "true"); err != nil {
		t.Fatal(err)
	}
	if err := SetByPath(cfg, "session.reconnectDelaySeconds", "7"); err != nil {
		t.Fatal(err)
	}
	if err := SetByPath(cfg, "session.phoneCountryCode", "65"); err != nil {
		t.Fatalf("numeric-looking string field: %v", err)
	}
	if cfg.Commands.Prefix != "!" || !cfg.Commands.ProcessSelf ||
		cfg.Session.ReconnectDelaySeconds != 7 || cfg.Session.PhoneCountryCode != "65" {
		t.Errorf("cfg = %+v %+v", cfg.Commands, cfg.Session)
	}
}

func TestSetByPath_RejectsInvalid(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "", "x"); err == nil {
		t.Error("expected error for empty path")
	}
	if err := SetByPath(cfg, "commands.prefix", ""); err == nil {
		t.Error("expected validation error for empty prefix")
	}
	if cfg.Commands.Prefix != "." {
		t.Errorf("failed set modified cfg: prefix = %q", cfg.Commands.Prefix)
	}
	if err := SetByPath(cfg, "commands.bogus", "1"); err == nil {
		t.Error("expected error for unknown key")
	}
	if err := SetByPath(cfg, "commands", "x"); err == nil {
		t.Error("expected error for a section")
	}
	if err := SetByPath(cfg, "commands.processSelf", "maybe"); err == nil {
		t.Error("expected error for a non-boolean")
	}
	if err := SetByPath(cfg, "session.reconnectDelaySeconds", "2.5"); err == nil {
		t.Error("expected error for a fractional integer")
	}
}

func TestSetByPath_EmptyOptionalField(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "session.phoneNumber", "628123456789"); err != nil {
		t.Fatal(err)
	}
	if err := SetByPath(cfg, "notify.telegram.chatId", "-100123"); err != nil {
		t.Fatal(err)
	}
	if cfg.Session.PhoneNumber != "628123456789" || cfg.Notify.Telegram.ChatID != -100123 {
		t.Errorf("session = %+v, telegram = %+v", cfg.Session, cfg.Notify.Telegram)
	}
}

func TestSanitize_MasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Transport.Bridge.Token = "bridge-token-1234567890"
	cfg.Notify.Telegram.Token = "123456:ABCDEFGHIJKLMNOP"
	cfg.Dedup.Redis.Password = "short"

	s := Sanitize(cfg)
	if s.Transport.Bridge.Token != "brid****7890" {
		t.Errorf("bridge token = %q", s.Transport.Bridge.Token)
	}
	if strings.Contains(s.Notify.Telegram.Token, "ABCDEFGH") {
		t.Errorf("telegram token not masked: %q", s.Notify.Telegram.Token)
	}
	if s.Dedup.Redis.Password != "***" {
		t.Errorf("redis password = %q", s.Dedup.Redis.Password)
	}
	if cfg.Transport.Bridge.Token != "bridge-token-1234567890" {
		t.Error("Sanitize modified the original")
	}
}

func TestListPaths_ReturnsLeaves(t *testing.T) {
	paths := ListPaths(Defaults())
	for _, want := range []string{"commands.prefix", "session.reconnectDelaySeconds", "transport.bridge.url", "dedup.redis.addr"} {
		if _, ok := paths[want]; !ok {
			t.Errorf("missing path %s", want)
		}
	}
	if _, ok := paths["commands"]; ok {
		t.Error("non-leaf path listed")
	}
	if _, ok := paths["session.phoneNumber"]; !ok {
		t.Error("empty optional field not listed")
	}
}

func TestEnvHelp_ListsVariables(t *testing.T) {
	help := EnvHelp()
	for _, v := range []string{"WABOT_PREFIX", "WABOT_BRIDGE_URL", "WABOT_TELEGRAM_TOKEN"} {
		if !strings.Contains(help, v) {
			t.Errorf("env help missing %s", v)
		}
	}
}
