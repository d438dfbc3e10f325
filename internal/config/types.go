package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMissingToken is the fatal configuration error for an absent bot token.
// There is deliberately no fallback value.
var ErrMissingToken = errors.New("telegram.token is required (set it in the config file or TELEGRAM_BOT_TOKEN)")

type Config struct {
	Telegram    TelegramConfig    `json:"telegram"`
	HTTP        HTTPConfig        `json:"http"`
	Bridge      BridgeConfig      `json:"bridge"`
	Notifier    NotifierConfig    `json:"notifier"`
	Storage     StorageConfig     `json:"storage,omitempty"`
	Maintenance MaintenanceConfig `json:"maintenance,omitempty"`
	Logging     LoggingConfig     `json:"logging"`
}

type TelegramConfig struct {
	// Token authenticates against the Bot API. Required; startup fails without it.
	Token string `json:"token"`

	// WebhookBaseURL is the public base address registered with Telegram
	// (the webhook path is appended). When empty the bot falls back to
	// long-polling, which is logged as a degraded condition.
	WebhookBaseURL string `json:"webhook_base_url,omitempty"`

	PollTimeout string `json:"poll_timeout,omitempty"` // long-poll timeout, default 10s
}

type HTTPConfig struct {
	Addr string `json:"addr"` // default ":5000"
}

type BridgeConfig struct {
	QueueSize     int    `json:"queue_size,omitempty"`     // default 64
	SubmitTimeout string `json:"submit_timeout,omitempty"` // default 10s
	DrainGrace    string `json:"drain_grace,omitempty"`    // default 3s
}

type NotifierConfig struct {
	RatePerSec  int `json:"rate_per_sec,omitempty"` // outbound sends per second, default 25
	HistorySize int `json:"history_size,omitempty"` // in-memory delivery history, default 100
}

// StorageConfig configures the optional delivery journal.
//
// Driver values: "" or "none" (disabled), "sqlite".
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
	Retention   string `json:"retention,omitempty"` // journal rows older than this are pruned
}

type MaintenanceConfig struct {
	// WebhookRecheck is a cron spec (5-field) for periodically re-asserting
	// the webhook registration. Empty disables the job.
	WebhookRecheck string `json:"webhook_recheck,omitempty"`
	// StatsEvery is a cron spec for logging bridge queue statistics.
	StatsEvery string `json:"stats_every,omitempty"`
	// Prune is a cron spec for journal pruning (requires storage + retention).
	Prune string `json:"prune,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level,omitempty"` // trace|debug|info|warn|error
	Console bool          `json:"console"`
	File    LogFileConfig `json:"file,omitempty"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// Validate checks the invariants startup depends on. It is also used as the
// hot-reload gate so a bad edit never replaces a good running config.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return ErrMissingToken
	}
	if u := strings.TrimSpace(c.Telegram.WebhookBaseURL); u != "" {
		if !strings.HasPrefix(u, "https://") && !strings.HasPrefix(u, "http://") {
			return fmt.Errorf("telegram.webhook_base_url: must be an absolute http(s) URL, got %q", u)
		}
	}
	if c.Bridge.QueueSize < 0 {
		return errors.New("bridge.queue_size must be >= 0")
	}
	if c.Notifier.RatePerSec < 0 {
		return errors.New("notifier.rate_per_sec must be >= 0")
	}
	if c.Notifier.HistorySize < 0 {
		return errors.New("notifier.history_size must be >= 0")
	}
	for _, f := range []struct{ path, raw string }{
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"bridge.submit_timeout", c.Bridge.SubmitTimeout},
		{"bridge.drain_grace", c.Bridge.DrainGrace},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"storage.retention", c.Storage.Retention},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	switch d := strings.ToLower(strings.TrimSpace(c.Storage.Driver)); d {
	case "", "none", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", d)
	}
	return nil
}
