package config

import (
	"strings"

	"github.com/caarlos0/env/v11"
)

// envOverrides are the deployment-surface knobs that can be supplied without
// a config file (container/PaaS environments). A non-empty env value wins
// over the file value.
type envOverrides struct {
	Token          string `env:"TELEGRAM_BOT_TOKEN"`
	WebhookBaseURL string `env:"WEBHOOK_URL"`
	ListenAddr     string `env:"LISTEN_ADDR"`
	Port           string `env:"PORT"` // PaaS convention; used when LISTEN_ADDR is unset
	LogLevel       string `env:"LOG_LEVEL"`
}

// applyEnv merges environment overrides into cfg.
func applyEnv(cfg *Config) error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return err
	}
	if v := strings.TrimSpace(o.Token); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(o.WebhookBaseURL); v != "" {
		cfg.Telegram.WebhookBaseURL = v
	}
	if v := strings.TrimSpace(o.ListenAddr); v != "" {
		cfg.HTTP.Addr = v
	} else if p := strings.TrimSpace(o.Port); p != "" {
		cfg.HTTP.Addr = ":" + p
	}
	if v := strings.TrimSpace(o.LogLevel); v != "" {
		cfg.Logging.Level = v
	}
	return nil
}
