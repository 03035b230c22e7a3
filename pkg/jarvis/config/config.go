// Package config holds the Micro-Jarvis configuration: the YAML shape,
// defaults, environment fallbacks, validation and secret resolution.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Hassffw/Micro-Jarvis/pkg/jarvis/channels/discord"
	"github.com/Hassffw/Micro-Jarvis/pkg/jarvis/channels/telegram"
	"github.com/Hassffw/Micro-Jarvis/pkg/jarvis/database"
	"github.com/Hassffw/Micro-Jarvis/pkg/jarvis/llm"
)

// ErrMissingRequired marks a required setting that has no value.
var ErrMissingRequired = errors.New("missing required setting")

// Save policies for profile writes that fail after a reply was produced.
const (
	SavePolicyFailOpen   = "fail-open"
	SavePolicyFailClosed = "fail-closed"
)

// Config is the top-level configuration.
type Config struct {
	// Name is the assistant's display name used in logs and the CLI banner.
	Name string `yaml:"name"`

	// AllowedUserID is the single transport identity allowed to run commands.
	AllowedUserID int64 `yaml:"allowed_user_id"`

	// Database configures the profile store backend.
	Database database.Config `yaml:"database"`

	// API configures the completion endpoint.
	API llm.Config `yaml:"api"`

	// Conversation tunes context building and persistence.
	Conversation ConversationConfig `yaml:"conversation"`

	// Channels configures the chat transports.
	Channels ChannelsConfig `yaml:"channels"`

	// Heartbeat configures the periodic health job.
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`

	// Logging configures the root logger.
	Logging LoggingConfig `yaml:"logging"`
}

// ConversationConfig tunes how the running conversation is rendered and saved.
type ConversationConfig struct {
	// MaxContextEntries caps the transcript entries rendered into the
	// context (0 = unbounded). The transcript itself is never trimmed.
	MaxContextEntries int `yaml:"max_context_entries"`

	// SavePolicy is "fail-open" (reply is delivered even if the profile
	// save fails) or "fail-closed" (reply is withheld).
	SavePolicy string `yaml:"save_policy"`
}

// ChannelsConfig groups the transport configurations.
type ChannelsConfig struct {
	Telegram telegram.Config `yaml:"telegram"`
	Discord  discord.Config  `yaml:"discord"`
}

// HeartbeatConfig configures the periodic health job.
type HeartbeatConfig struct {
	Enabled bool `yaml:"enabled"`

	// Schedule is a cron expression or descriptor (default: "@every 5m").
	Schedule string `yaml:"schedule"`
}

// LoggingConfig configures the root logger.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is json or text.
	Format string `yaml:"format"`
}

// DefaultConfig returns the configuration used when no file sets a value.
func DefaultConfig() *Config {
	return &Config{
		Name: "Jarvis",
		Database: database.Config{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		API: llm.Config{
			BaseURL: llm.DefaultBaseURL,
			Model:   llm.DefaultModel,
			Timeout: llm.DefaultTimeout,
		},
		Conversation: ConversationConfig{
			SavePolicy: SavePolicyFailOpen,
		},
		Channels: ChannelsConfig{
			Telegram: telegram.Config{SendTyping: true},
			Discord:  discord.Config{SendTyping: true},
		},
		Heartbeat: HeartbeatConfig{
			Enabled:  true,
			Schedule: "@every 5m",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the required settings and the enumerated values.
// Missing required settings wrap ErrMissingRequired.
func (c *Config) Validate() error {
	var errs []error

	if isUnset(c.Database.URL) {
		errs = append(errs, fmt.Errorf("%w: database.url (or DATABASE_URL)", ErrMissingRequired))
	} else if _, _, _, err := database.ParseURL(c.Database.URL); err != nil {
		errs = append(errs, fmt.Errorf("database.url: %w", err))
	}

	if isUnset(c.API.APIKey) {
		errs = append(errs, fmt.Errorf("%w: api.api_key (or PERPLEXITY_API_KEY)", ErrMissingRequired))
	}

	if c.AllowedUserID <= 0 {
		errs = append(errs, fmt.Errorf("%w: allowed_user_id (or ALLOWED_USER_ID) must be a positive integer", ErrMissingRequired))
	}

	switch c.Conversation.SavePolicy {
	case "", SavePolicyFailOpen, SavePolicyFailClosed:
	default:
		errs = append(errs, fmt.Errorf("conversation.save_policy: unknown policy %q", c.Conversation.SavePolicy))
	}

	if c.Conversation.MaxContextEntries < 0 {
		errs = append(errs, fmt.Errorf("conversation.max_context_entries: must be >= 0"))
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}

	return errors.Join(errs...)
}

// HasChannel reports whether a transport has enough configuration to start.
func (c *Config) HasChannel(name string) bool {
	switch name {
	case "telegram":
		return !isUnset(c.Channels.Telegram.Token)
	case "discord":
		return !isUnset(c.Channels.Discord.Token)
	default:
		return false
	}
}

// isUnset treats empty values and unexpanded ${VAR} references as missing.
func isUnset(s string) bool {
	return strings.TrimSpace(s) == "" || IsEnvReference(s)
}
