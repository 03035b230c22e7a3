package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// SaveConfigToFile writes cfg as YAML to path. Secrets whose value matches
// the corresponding environment variable are written as ${VAR} references.
// An existing file is backed up to path.bak first.
func SaveConfigToFile(cfg *Config, path string) error {
	sanitized := *cfg
	sanitized.API.APIKey = sanitizeSecret(cfg.API.APIKey, EnvAPIKey)
	sanitized.Database.URL = sanitizeSecret(cfg.Database.URL, EnvDatabaseURL)
	sanitized.Channels.Telegram.Token = sanitizeSecret(cfg.Channels.Telegram.Token, EnvTelegramToken)
	sanitized.Channels.Discord.Token = sanitizeSecret(cfg.Channels.Discord.Token, EnvDiscordToken)

	data, err := yaml.Marshal(&sanitized)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	var check map[string]any
	if err := yaml.Unmarshal(data, &check); err != nil {
		return fmt.Errorf("config validation failed (refusing to write corrupt data): %w", err)
	}

	if existing, err := os.ReadFile(path); err == nil {
		_ = os.WriteFile(path+".bak", existing, 0o600)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// WriteEnvFile merges values into the dotenv file at path, keeping keys it
// does not set, and exports them into the current process.
func WriteEnvFile(path string, values map[string]string) error {
	env := map[string]string{}
	if _, err := os.Stat(path); err == nil {
		existing, err := godotenv.Read(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		env = existing
	}

	changed := false
	for k, v := range values {
		if v == "" {
			continue
		}
		env[k] = v
		changed = true
		if err := os.Setenv(k, v); err != nil {
			return fmt.Errorf("setting %s: %w", k, err)
		}
	}
	if !changed {
		return nil
	}

	if err := godotenv.Write(env, path); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return os.Chmod(path, 0o600)
}

// sanitizeSecret replaces a secret with an env var reference when the
// variable currently holds that value.
func sanitizeSecret(value, envVar string) string {
	if value == "" || IsEnvReference(value) {
		return value
	}
	if os.Getenv(envVar) == value {
		return "${" + envVar + "}"
	}
	return value
}
