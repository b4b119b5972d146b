// Package config provides configuration types and loading for communa.
package config

import (
	"errors"
	"fmt"
	"strings"
)

// Config is the root configuration struct.
// Top-level groups: Telegram, Storage, Relay, Events, Log.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Storage  StorageConfig  `json:"storage"`
	Relay    RelayConfig    `json:"relay"`
	Events   EventsConfig   `json:"events"`
	Log      LogConfig      `json:"log"`
}

// ---------------------------------------------------------------------------
// Telegram – bot transport
// ---------------------------------------------------------------------------

// TelegramConfig configures the Bot API client.
type TelegramConfig struct {
	Token string `json:"token" envconfig:"TOKEN"`
	// Admin is the administrator as @username or numeric id.
	Admin              string `json:"admin" envconfig:"ADMIN"`
	APIBase            string `json:"apiBase,omitempty" envconfig:"API_BASE"`
	PollTimeoutSeconds int    `json:"pollTimeoutSeconds" envconfig:"POLL_TIMEOUT_SECONDS"`
	Proxy              string `json:"proxy,omitempty" envconfig:"PROXY"`
}

// ---------------------------------------------------------------------------
// Storage – persisted lists and lobby state
// ---------------------------------------------------------------------------

// StorageConfig selects the document backend.
type StorageConfig struct {
	Driver   string `json:"driver" envconfig:"DRIVER"` // "json" or "sqlite"
	DataPath string `json:"dataPath" envconfig:"DATA_PATH"`
}

// RelayConfig tunes the relay engine.
type RelayConfig struct {
	// MaxTags bounds the forward index; 0 keeps every tag until restart.
	MaxTags int `json:"maxTags" envconfig:"MAX_TAGS"`
}

// ---------------------------------------------------------------------------
// Events – optional Kafka publication
// ---------------------------------------------------------------------------

// EventsConfig configures domain event publication.
type EventsConfig struct {
	Enabled      bool   `json:"enabled" envconfig:"ENABLED"`
	KafkaBrokers string `json:"kafkaBrokers" envconfig:"KAFKA_BROKERS"`
	Topic        string `json:"topic" envconfig:"TOPIC"`
}

// LogConfig configures the default slog handler.
type LogConfig struct {
	Level  string `json:"level" envconfig:"LEVEL"`
	Format string `json:"format" envconfig:"FORMAT"` // "text" or "json"
	File   string `json:"file,omitempty" envconfig:"FILE"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Telegram: TelegramConfig{
			APIBase:            "https://api.telegram.org",
			PollTimeoutSeconds: 30,
		},
		Storage: StorageConfig{
			Driver:   "json",
			DataPath: "~/.communa/data",
		},
		Events: EventsConfig{
			Topic: "communa.events",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate reports every missing or invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required (TELEGRAM_BOT_TOKEN)"))
	}
	if strings.TrimSpace(c.Telegram.Admin) == "" {
		errs = append(errs, errors.New("telegram.admin is required (BOT_ADMIN)"))
	}
	if strings.TrimSpace(c.Storage.DataPath) == "" {
		errs = append(errs, errors.New("storage.dataPath is required (BOT_DATA_PATH)"))
	}
	switch c.Storage.Driver {
	case "json", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not one of json, sqlite", c.Storage.Driver))
	}
	if c.Relay.MaxTags < 0 {
		errs = append(errs, errors.New("relay.maxTags must not be negative"))
	}
	if c.Events.Enabled && strings.TrimSpace(c.Events.KafkaBrokers) == "" {
		errs = append(errs, errors.New("events.kafkaBrokers is required when events are enabled"))
	}
	return errors.Join(errs...)
}
