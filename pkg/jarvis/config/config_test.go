package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zalando/go-keyring"
)

// isolate runs the test in an empty directory with every variable the
// loader consults cleared.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	for _, v := range []string{
		EnvDatabaseURL, EnvAPIKey, EnvAllowedUserID, EnvTelegramToken,
		EnvTeloxideToken, EnvDiscordToken, EnvModel, EnvAPIBaseURL,
	} {
		t.Setenv(v, "")
	}
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("JARVIS_TEST_SET", "value")
	t.Setenv("JARVIS_TEST_EMPTY", "")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"braced", "key: ${JARVIS_TEST_SET}", "key: value"},
		{"bare", "key: $JARVIS_TEST_SET", "key: value"},
		{"default unused", "key: ${JARVIS_TEST_SET:-other}", "key: value"},
		{"default used", "key: ${JARVIS_TEST_UNSET:-other}", "key: other"},
		{"set but empty", "key: ${JARVIS_TEST_EMPTY:-other}", "key: "},
		{"unset kept", "key: ${JARVIS_TEST_UNSET}", "key: ${JARVIS_TEST_UNSET}"},
		{"bare unset kept", "key: $JARVIS_TEST_UNSET", "key: $JARVIS_TEST_UNSET"},
		{"no reference", "key: plain", "key: plain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := expandEnvVars(tt.input); got != tt.want {
				t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestExpandEnvVarsWithValidation(t *testing.T) {
	_, err := expandEnvVarsWithValidation("api_key: ${JARVIS_TEST_REQUIRED:?set the API key}\nname: x\n")
	if err == nil {
		t.Fatal("expected error for unset required variable")
	}
	if !strings.Contains(err.Error(), "JARVIS_TEST_REQUIRED") || !strings.Contains(err.Error(), "set the API key") {
		t.Errorf("error = %v", err)
	}
	if strings.Contains(err.Error(), "name: x") {
		t.Errorf("error leaks following lines: %v", err)
	}

	t.Setenv("JARVIS_TEST_REQUIRED", "k")
	got, err := expandEnvVarsWithValidation("api_key: ${JARVIS_TEST_REQUIRED:?missing}")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "api_key: k" {
		t.Errorf("got %q", got)
	}
}

func TestParseConfig_KeepsDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
allowed_user_id: 42
api:
  api_key: secret
  timeout: 30s
channels:
  telegram:
    token: abc
`))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}

	if cfg.AllowedUserID != 42 {
		t.Errorf("AllowedUserID = %d", cfg.AllowedUserID)
	}
	if cfg.API.Timeout != 30*time.Second {
		t.Errorf("API.Timeout = %v", cfg.API.Timeout)
	}
	if cfg.API.Model != "mistral-7b-instruct" {
		t.Errorf("API.Model = %q", cfg.API.Model)
	}
	if !cfg.Channels.Telegram.SendTyping {
		t.Error("telegram send_typing default lost")
	}
	if cfg.Heartbeat.Schedule != "@every 5m" || !cfg.Heartbeat.Enabled {
		t.Errorf("heartbeat = %+v", cfg.Heartbeat)
	}
	if cfg.Conversation.SavePolicy != SavePolicyFailOpen {
		t.Errorf("save policy = %q", cfg.Conversation.SavePolicy)
	}
}

func TestParseConfig_InvalidYAML(t *testing.T) {
	if _, err := ParseConfig([]byte("api: [unterminated")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoad_EnvironmentOnly(t *testing.T) {
	isolate(t)
	t.Setenv(EnvDatabaseURL, "postgres://jarvis@localhost/jarvis")
	t.Setenv(EnvAPIKey, "pplx-key")
	t.Setenv(EnvAllowedUserID, "123456")
	t.Setenv(EnvTeloxideToken, "tg-token")
	t.Setenv(EnvModel, "sonar")

	cfg, path, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if path != "" {
		t.Errorf("path = %q, want none", path)
	}
	if cfg.Database.URL != "postgres://jarvis@localhost/jarvis" {
		t.Errorf("Database.URL = %q", cfg.Database.URL)
	}
	if cfg.API.APIKey != "pplx-key" {
		t.Errorf("API.APIKey = %q", cfg.API.APIKey)
	}
	if cfg.AllowedUserID != 123456 {
		t.Errorf("AllowedUserID = %d", cfg.AllowedUserID)
	}
	if cfg.Channels.Telegram.Token != "tg-token" {
		t.Errorf("Telegram.Token = %q", cfg.Channels.Telegram.Token)
	}
	if cfg.API.Model != "sonar" {
		t.Errorf("API.Model = %q", cfg.API.Model)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoad_InvalidAllowedUserID(t *testing.T) {
	isolate(t)
	t.Setenv(EnvAllowedUserID, "not-a-number")

	if _, _, err := Load(""); err == nil {
		t.Fatal("expected error for malformed ALLOWED_USER_ID")
	}
}

func TestLoad_DiscoversFileAndExpands(t *testing.T) {
	dir := isolate(t)
	t.Setenv(EnvAPIKey, "from-env")
	writeFile(t, filepath.Join(dir, "configs", "config.yaml"), `
name: Friday
allowed_user_id: 7
database:
  url: sqlite://data/jarvis.db
api:
  api_key: ${PERPLEXITY_API_KEY}
conversation:
  max_context_entries: 20
  save_policy: fail-closed
`)

	cfg, path, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if path != filepath.Join("configs", "config.yaml") {
		t.Errorf("path = %q", path)
	}
	if cfg.Name != "Friday" {
		t.Errorf("Name = %q", cfg.Name)
	}
	if cfg.API.APIKey != "from-env" {
		t.Errorf("API.APIKey = %q", cfg.API.APIKey)
	}
	if cfg.Database.URL != "sqlite://"+filepath.Join("configs", "data", "jarvis.db") {
		t.Errorf("Database.URL = %q", cfg.Database.URL)
	}
	if cfg.Conversation.MaxContextEntries != 20 || cfg.Conversation.SavePolicy != SavePolicyFailClosed {
		t.Errorf("Conversation = %+v", cfg.Conversation)
	}
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	isolate(t)
	if _, _, err := Load("does-not-exist.yaml"); err == nil {
		t.Fatal("expected error for missing explicit config")
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := isolate(t)
	// Unset so godotenv may populate it; t.Setenv restores the original.
	t.Setenv("JARVIS_TEST_DOTENV", "")
	os.Unsetenv("JARVIS_TEST_DOTENV")
	os.Unsetenv(EnvAPIKey)

	writeFile(t, filepath.Join(dir, ".env"), "PERPLEXITY_API_KEY=dotenv-key\nJARVIS_TEST_DOTENV=1\n")

	cfg, _, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.APIKey != "dotenv-key" {
		t.Errorf("API.APIKey = %q, want value from .env", cfg.API.APIKey)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.Database.URL = "sqlite://jarvis.db"
		cfg.API.APIKey = "key"
		cfg.AllowedUserID = 42
		return cfg
	}

	tests := []struct {
		name        string
		mutate      func(*Config)
		wantMissing bool
		wantErr     bool
	}{
		{"valid", func(*Config) {}, false, false},
		{"no database", func(c *Config) { c.Database.URL = "" }, true, true},
		{"unsupported database", func(c *Config) { c.Database.URL = "mysql://x" }, false, true},
		{"no api key", func(c *Config) { c.API.APIKey = "" }, true, true},
		{"unexpanded api key", func(c *Config) { c.API.APIKey = "${PERPLEXITY_API_KEY}" }, true, true},
		{"no allowed user", func(c *Config) { c.AllowedUserID = 0 }, true, true},
		{"negative allowed user", func(c *Config) { c.AllowedUserID = -5 }, true, true},
		{"bad save policy", func(c *Config) { c.Conversation.SavePolicy = "sometimes" }, false, true},
		{"negative window", func(c *Config) { c.Conversation.MaxContextEntries = -1 }, false, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if errors.Is(err, ErrMissingRequired) != tt.wantMissing {
				t.Errorf("errors.Is(ErrMissingRequired) = %v, want %v (err: %v)", !tt.wantMissing, tt.wantMissing, err)
			}
		})
	}
}

func TestHasChannel(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.HasChannel("telegram") || cfg.HasChannel("discord") {
		t.Error("no channel should be configured by default")
	}
	cfg.Channels.Telegram.Token = "t"
	cfg.Channels.Discord.Token = "${DISCORD_BOT_TOKEN}"
	if !cfg.HasChannel("telegram") {
		t.Error("telegram should be configured")
	}
	if cfg.HasChannel("discord") {
		t.Error("unexpanded discord token should not count")
	}
	if cfg.HasChannel("irc") {
		t.Error("unknown channel reported as configured")
	}
}

func TestSaveConfigToFile(t *testing.T) {
	dir := isolate(t)
	t.Setenv(EnvAPIKey, "pplx-secret")
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "name: old\n")

	cfg := DefaultConfig()
	cfg.Name = "Jarvis"
	cfg.AllowedUserID = 42
	cfg.API.APIKey = "pplx-secret"
	cfg.Database.URL = "sqlite://jarvis.db"

	if err := SaveConfigToFile(cfg, path); err != nil {
		t.Fatalf("SaveConfigToFile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "pplx-secret") {
		t.Error("secret written in plain text")
	}
	if !strings.Contains(string(data), "${PERPLEXITY_API_KEY}") {
		t.Errorf("expected env reference in:\n%s", data)
	}

	backup, err := os.ReadFile(path + ".bak")
	if err != nil || string(backup) != "name: old\n" {
		t.Errorf("backup = %q, %v", backup, err)
	}

	back, err := LoadConfigFromFile(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if back.API.APIKey != "pplx-secret" || back.AllowedUserID != 42 || back.API.Timeout != cfg.API.Timeout {
		t.Errorf("reloaded config differs: %+v", back.API)
	}
}

func TestWriteEnvFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, ".env")
	writeFile(t, path, "KEEP_ME=1\n")
	t.Setenv("JARVIS_TEST_WRITTEN", "")

	if err := WriteEnvFile(path, map[string]string{"JARVIS_TEST_WRITTEN": "yes", "JARVIS_TEST_SKIPPED": ""}); err != nil {
		t.Fatalf("WriteEnvFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "KEEP_ME") || !strings.Contains(string(data), "JARVIS_TEST_WRITTEN") {
		t.Errorf(".env = %q", data)
	}
	if strings.Contains(string(data), "JARVIS_TEST_SKIPPED") {
		t.Error("empty value should not be written")
	}
	if os.Getenv("JARVIS_TEST_WRITTEN") != "yes" {
		t.Error("value not exported to the process")
	}
}

func TestResolveAPIKey(t *testing.T) {
	keyring.MockInit()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	cfg := DefaultConfig()
	cfg.API.APIKey = "from-config"
	ResolveAPIKey(cfg, logger)
	if cfg.API.APIKey != "from-config" {
		t.Errorf("without keyring entry: %q", cfg.API.APIKey)
	}

	if err := StoreAPIKey("from-keyring"); err != nil {
		t.Fatalf("StoreAPIKey: %v", err)
	}
	t.Cleanup(func() { _ = DeleteAPIKey() })

	ResolveAPIKey(cfg, logger)
	if cfg.API.APIKey != "from-keyring" {
		t.Errorf("keyring should win: %q", cfg.API.APIKey)
	}
	if !KeyringAvailable() {
		t.Error("mock keyring should be available")
	}
}
