package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

const (
	// KeyringService is the service name used in the OS keyring.
	KeyringService = "micro-jarvis"

	// keyringAPIKey is the key name for the completion API key.
	keyringAPIKey = "api_key"
)

// StoreAPIKey saves the completion API key in the OS keyring.
func StoreAPIKey(value string) error {
	if err := keyring.Set(KeyringService, keyringAPIKey, value); err != nil {
		return fmt.Errorf("storing in keyring: %w", err)
	}
	return nil
}

// GetAPIKey returns the API key from the OS keyring, or "" if absent.
func GetAPIKey() string {
	val, err := keyring.Get(KeyringService, keyringAPIKey)
	if err != nil {
		return ""
	}
	return val
}

// DeleteAPIKey removes the API key from the OS keyring.
func DeleteAPIKey() error {
	return keyring.Delete(KeyringService, keyringAPIKey)
}

// KeyringAvailable checks if the OS keyring is accessible.
func KeyringAvailable() bool {
	testKey := "__micro_jarvis_test__"
	if err := keyring.Set(KeyringService, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(KeyringService, testKey)
	return true
}

// ResolveAPIKey picks the API key: OS keyring first, then the value from the
// file or environment. The config is updated in place.
func ResolveAPIKey(cfg *Config, logger *slog.Logger) {
	if val := GetAPIKey(); val != "" {
		cfg.API.APIKey = val
		logger.Debug("API key loaded from OS keyring")
		return
	}

	if !isUnset(cfg.API.APIKey) {
		logger.Debug("API key loaded from config/env")
		return
	}

	logger.Warn("no API key found. Set one with: jarvis config set-key, or export " + EnvAPIKey)
}

// ReadPassword prompts on stdout and reads a line without echo. Falls back
// to a plain read when stdin is not a terminal.
func ReadPassword(prompt string) (string, error) {
	fmt.Print(prompt)

	fd := int(os.Stdin.Fd())
	password, err := term.ReadPassword(fd)
	if err != nil {
		var buf [1024]byte
		n, readErr := os.Stdin.Read(buf[:])
		if readErr != nil {
			return "", fmt.Errorf("reading password: %w", readErr)
		}
		password = buf[:n]
	}

	fmt.Println()
	return strings.TrimRight(string(password), "\r\n"), nil
}

// IsInteractive reports whether stdin is a terminal.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}
