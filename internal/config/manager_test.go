package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("LISTEN_ADDR", "")
	t.Setenv("PORT", "")
	path := writeConfig(t, "config.yaml", `
telegram:
  token: "123456:test-token"
  webhook_base_url: "https://bot.example.com"
http:
  addr: ":8080"
bridge:
  queue_size: 32
  submit_timeout: "5s"
notifier:
  rate_per_sec: 10
logging:
  level: debug
  console: true
`)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123456:test-token" {
		t.Errorf("token = %q", cfg.Telegram.Token)
	}
	if cfg.Telegram.WebhookBaseURL != "https://bot.example.com" {
		t.Errorf("webhook url = %q", cfg.Telegram.WebhookBaseURL)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("addr = %q", cfg.HTTP.Addr)
	}
	if cfg.Bridge.QueueSize != 32 {
		t.Errorf("queue_size = %d", cfg.Bridge.QueueSize)
	}
	if d, _ := ParseDurationField("bridge.submit_timeout", cfg.Bridge.SubmitTimeout); d != 5*time.Second {
		t.Errorf("submit_timeout = %q", cfg.Bridge.SubmitTimeout)
	}
}

func TestLoadMissingTokenFails(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	path := writeConfig(t, "config.yaml", `
http:
  addr: ":8080"
`)
	_, err := NewManager(path).Load()
	if !errors.Is(err, ErrMissingToken) {
		t.Fatalf("err = %v, want ErrMissingToken", err)
	}
}

func TestLoadUnknownFieldRejected(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
telegram:
  token: "x:y"
  totally_unknown: true
`)
	_, err := NewManager(path).Load()
	if err == nil {
		t.Fatal("unknown field accepted, want error")
	}
}

func TestMissingFileUsesDefaultsAndEnv(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "env:token")
	t.Setenv("LISTEN_ADDR", "")
	t.Setenv("PORT", "")

	path := filepath.Join(t.TempDir(), "nope.yaml")
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "env:token" {
		t.Errorf("token = %q, want env override", cfg.Telegram.Token)
	}
	if cfg.HTTP.Addr != ":5000" {
		t.Errorf("addr = %q, want default :5000", cfg.HTTP.Addr)
	}
	if !cfg.Logging.Console {
		t.Error("console logging should default to on")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "env-wins")
	t.Setenv("PORT", "9999")
	t.Setenv("LISTEN_ADDR", "")

	path := writeConfig(t, "config.yaml", `
telegram:
  token: "file-token"
http:
  addr: ":8080"
`)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "env-wins" {
		t.Errorf("token = %q, want env-wins", cfg.Telegram.Token)
	}
	if cfg.HTTP.Addr != ":9999" {
		t.Errorf("addr = %q, want :9999 from PORT", cfg.HTTP.Addr)
	}
}

func TestValidateRejectsBadWebhookURL(t *testing.T) {
	t.Parallel()
	cfg := &Config{}
	cfg.Telegram.Token = "x:y"
	cfg.Telegram.WebhookBaseURL = "bot.example.com"
	if err := cfg.Validate(); err == nil {
		t.Fatal("relative webhook url accepted")
	}
}

func TestValidateRejectsBadDurations(t *testing.T) {
	t.Parallel()
	cfg := &Config{}
	cfg.Telegram.Token = "x:y"
	cfg.Bridge.SubmitTimeout = "five seconds"
	if err := cfg.Validate(); err == nil {
		t.Fatal("bad duration accepted")
	}
}

func TestValidateRejectsUnknownStorageDriver(t *testing.T) {
	t.Parallel()
	cfg := &Config{}
	cfg.Telegram.Token = "x:y"
	cfg.Storage.Driver = "postgres"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "storage.driver") {
		t.Fatalf("err = %v, want storage.driver error", err)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"10s", 10 * time.Second, false},
		{" 1m ", time.Minute, false},
		{"-5s", 0, true},
		{"nope", 0, true},
	}
	for _, tc := range tests {
		d, err := ParseDurationField("test.field", tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%q: no error", tc.raw)
			}
			continue
		}
		if err != nil || d != tc.want {
			t.Errorf("%q: got (%v, %v), want %v", tc.raw, d, err, tc.want)
		}
	}
}

func TestSubscribePublishesCommits(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	path := writeConfig(t, "config.yaml", `
telegram:
  token: "x:y"
`)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	next := &Config{}
	next.Telegram.Token = "x:y"
	next.Logging.Level = "debug"
	m.Commit(next)
	m.publish(next)

	select {
	case got := <-ch:
		if got.Logging.Level != "debug" {
			t.Fatalf("published cfg = %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no config published")
	}
}
