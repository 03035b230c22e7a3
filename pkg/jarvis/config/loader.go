package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches environment variable patterns in config values:
//   - ${VAR_NAME}          - simple variable
//   - ${VAR_NAME:-default} - default value if not set
//   - ${VAR_NAME:?error}   - error message if not set
//   - $VAR_NAME            - bare variable (no default/error support)
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::(-|\?)([^}]*))?\}|\$([A-Z_][A-Z0-9_]*)`)

// Environment variables consulted when the config leaves a value empty.
const (
	EnvDatabaseURL   = "DATABASE_URL"
	EnvAPIKey        = "PERPLEXITY_API_KEY"
	EnvAllowedUserID = "ALLOWED_USER_ID"
	EnvTelegramToken = "TELEGRAM_BOT_TOKEN"
	EnvTeloxideToken = "TELOXIDE_TOKEN"
	EnvDiscordToken  = "DISCORD_BOT_TOKEN"
	EnvModel         = "JARVIS_MODEL"
	EnvAPIBaseURL    = "JARVIS_API_BASE_URL"
)

// Load resolves the configuration. An explicit path must exist; otherwise
// the standard locations are searched and, if none exists, the config is
// built from defaults and environment variables alone. The second return
// value is the file that was read ("" when none).
func Load(explicit string) (*Config, string, error) {
	loadEnvFiles()

	path := explicit
	if path == "" {
		path = FindConfigFile()
	}

	if path == "" {
		cfg := DefaultConfig()
		if err := applyEnv(cfg); err != nil {
			return nil, "", err
		}
		return cfg, "", nil
	}

	cfg, err := LoadConfigFromFile(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// LoadConfigFromFile reads and parses a YAML configuration file.
// Returns an error if any ${VAR:?error} pattern has its variable unset.
func LoadConfigFromFile(path string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded, err := expandEnvVarsWithValidation(string(data))
	if err != nil {
		return nil, fmt.Errorf("expanding environment variables: %w", err)
	}

	cfg, err := ParseConfig([]byte(expanded))
	if err != nil {
		return nil, err
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	resolveRelativePaths(cfg, path)
	checkFilePermissions(path)

	return cfg, nil
}

// ParseConfig parses YAML bytes into a Config.
// Starts with defaults and overlays values from the YAML.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	// Empty strings in the file mean "use the default", not "blank".
	defaults := DefaultConfig()
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = defaults.API.BaseURL
	}
	if cfg.API.Model == "" {
		cfg.API.Model = defaults.API.Model
	}
	if cfg.API.Timeout <= 0 {
		cfg.API.Timeout = defaults.API.Timeout
	}
	if cfg.Conversation.SavePolicy == "" {
		cfg.Conversation.SavePolicy = defaults.Conversation.SavePolicy
	}
	if cfg.Heartbeat.Schedule == "" {
		cfg.Heartbeat.Schedule = defaults.Heartbeat.Schedule
	}

	return cfg, nil
}

// FindConfigFile searches for config files in standard locations.
func FindConfigFile() string {
	candidates := []string{
		"config.yaml",
		"config.yml",
		"jarvis.yaml",
		"configs/config.yaml",
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// IsEnvReference checks if a string is an environment variable reference.
func IsEnvReference(s string) bool {
	return strings.HasPrefix(s, "${") || strings.HasPrefix(s, "$")
}

// ---------- Internal ----------

// loadEnvFiles loads .env files from the working directory.
// godotenv.Load does NOT overwrite existing env vars.
func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
}

// applyEnv fills config values that are empty or still unexpanded
// references from the well-known environment variables.
func applyEnv(cfg *Config) error {
	fill := func(dst *string, vars ...string) {
		if !isUnset(*dst) {
			return
		}
		for _, v := range vars {
			if val := os.Getenv(v); val != "" {
				*dst = val
				return
			}
		}
	}

	fill(&cfg.Database.URL, EnvDatabaseURL)
	fill(&cfg.API.APIKey, EnvAPIKey)
	fill(&cfg.Channels.Telegram.Token, EnvTeloxideToken, EnvTelegramToken)
	fill(&cfg.Channels.Discord.Token, EnvDiscordToken)

	if v := os.Getenv(EnvModel); v != "" {
		cfg.API.Model = v
	}
	if v := os.Getenv(EnvAPIBaseURL); v != "" {
		cfg.API.BaseURL = v
	}

	if cfg.AllowedUserID == 0 {
		if v := strings.TrimSpace(os.Getenv(EnvAllowedUserID)); v != "" {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fmt.Errorf("%s: invalid user id %q: %w", EnvAllowedUserID, v, err)
			}
			cfg.AllowedUserID = id
		}
	}
	return nil
}

// expandEnvVars replaces ${VAR}, ${VAR:-default}, ${VAR:?error}, and $VAR
// references with their environment values. Unset ${VAR:?error} references
// become an "ERROR:VAR:message" marker for expandEnvVarsWithValidation.
func expandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		sub := envVarPattern.FindStringSubmatch(match)
		varName, modifier, value, bareVar := sub[1], sub[2], sub[3], sub[4]

		if bareVar != "" {
			if val, ok := os.LookupEnv(bareVar); ok {
				return val
			}
			return match
		}

		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		switch modifier {
		case "?":
			if value == "" {
				value = "required environment variable not set"
			}
			return "ERROR:" + varName + ":" + value
		case "-":
			return value
		default:
			return match
		}
	})
}

// expandEnvVarsWithValidation is like expandEnvVars but returns an error
// if any ${VAR:?error} pattern has its variable unset.
func expandEnvVarsWithValidation(input string) (string, error) {
	result := expandEnvVars(input)
	idx := strings.Index(result, "ERROR:")
	if idx == -1 {
		return result, nil
	}

	rest := result[idx+len("ERROR:"):]
	colon := strings.Index(rest, ":")
	if colon == -1 {
		return "", fmt.Errorf("config error: malformed error marker")
	}
	varName := rest[:colon]
	msg := rest[colon+1:]
	if nl := strings.IndexAny(msg, "\r\n"); nl != -1 {
		msg = msg[:nl]
	}
	msg = strings.Trim(msg, `"' `)
	return "", fmt.Errorf("config error: %s - %s", varName, msg)
}

// resolveRelativePaths makes a relative SQLite path relative to the config
// file's directory so the database is found regardless of the working dir.
func resolveRelativePaths(cfg *Config, configPath string) {
	u := cfg.Database.URL
	const prefix = "sqlite://"
	if !strings.HasPrefix(u, prefix) {
		return
	}
	p := strings.TrimPrefix(u, prefix)
	if p == "" || p == ":memory:" || filepath.IsAbs(p) {
		return
	}
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Database.URL = prefix + filepath.Join(home, p[2:])
		}
		return
	}
	cfg.Database.URL = prefix + filepath.Join(filepath.Dir(configPath), p)
}

// checkFilePermissions warns if the config file is group or world readable.
func checkFilePermissions(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}

	mode := info.Mode().Perm()
	if mode&0o044 != 0 {
		slog.Warn("config file has open permissions, consider restricting",
			"path", path,
			"current", fmt.Sprintf("%04o", mode),
			"recommended", "0600",
			"fix", fmt.Sprintf("chmod 600 %s", path),
		)
	}
}
