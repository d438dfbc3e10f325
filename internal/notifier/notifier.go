package notifier

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"relaybot/internal/bridge"
	"relaybot/internal/eventbus"
	"relaybot/internal/storage"
	logx "relaybot/pkg/logx"
)

// ValidationError rejects a malformed notification request before any work
// unit is enqueued. The HTTP layer maps it to a 400.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Request is an externally supplied notification: a chat id and a message.
// ChatID stays a string at this boundary because callers post JSON where
// either form ("482910" or 482910) is accepted.
type Request struct {
	ChatID  string
	Message string
}

// Validate checks both fields before submission. No work unit is enqueued
// for an invalid request.
func (r Request) Validate() (int64, error) {
	id := strings.TrimSpace(r.ChatID)
	if id == "" {
		return 0, &ValidationError{Field: "chat_id", Reason: "must not be empty"}
	}
	if strings.TrimSpace(r.Message) == "" {
		return 0, &ValidationError{Field: "message", Reason: "must not be empty"}
	}
	chatID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, &ValidationError{Field: "chat_id", Reason: "must be a numeric Telegram chat id"}
	}
	return chatID, nil
}

type Config struct {
	RatePerSec    int           // token bucket for outbound sends; default 25
	HistorySize   int           // in-memory delivery history; default 100
	SubmitTimeout time.Duration // bound on the bridge wait; default 10s
}

func (c Config) withDefaults() Config {
	if c.RatePerSec <= 0 {
		c.RatePerSec = 25
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 100
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 10 * time.Second
	}
	return c
}

type HistoryItem struct {
	At     time.Time `json:"at"`
	ChatID int64     `json:"chat_id"`
	Chars  int       `json:"chars"`
	OK     bool      `json:"ok"`
	Error  string    `json:"error,omitempty"`
}

// Service validates outbound notification requests, applies the send rate
// limit, and hands the work to the dispatch bridge. It never touches the
// session itself.
type Service struct {
	mu  sync.Mutex
	cfg Config

	br      *bridge.Bridge
	limiter *rate.Limiter
	log     logx.Logger
	bus     eventbus.Bus
	store   storage.Store // nil when the journal is disabled

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, br *bridge.Bridge, log logx.Logger, bus eventbus.Bus, store storage.Store) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{br: br, log: log, bus: bus, store: store}
	s.Apply(cfg)
	return s
}

// Apply updates the runtime-tunable settings (rate limit, history size).
// Safe during config hot-reload.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	// Burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	s.mu.Unlock()
}

// Send validates req, waits for a rate token, submits the work unit, and
// blocks until the bridge reports the outcome. Errors pass through typed:
// *ValidationError, bridge.ErrSchedulerUnavailable, bridge.ErrTimeout, or
// the session's *PlatformError.
func (s *Service) Send(ctx context.Context, req Request) error {
	chatID, err := req.Validate()
	if err != nil {
		return err
	}

	s.mu.Lock()
	limiter := s.limiter
	timeout := s.cfg.SubmitTimeout
	s.mu.Unlock()

	// The rate limit is enforced before enqueueing so a burst can't fill the
	// bridge queue with sends Telegram would reject anyway.
	lctx, cancel := context.WithTimeout(ctx, timeout)
	err = limiter.Wait(lctx)
	cancel()
	if err != nil {
		return bridge.ErrTimeout
	}

	start := time.Now()
	err = s.br.SubmitMessage(ctx, chatID, req.Message, timeout)
	s.record(chatID, len(req.Message), start, err)

	if err != nil {
		s.log.Warn("notification failed", logx.Int64("chat_id", chatID), logx.Err(err))
		return err
	}
	s.log.Info("notification sent", logx.Int64("chat_id", chatID), logx.Int("chars", len(req.Message)))
	return nil
}

func (s *Service) record(chatID int64, chars int, start time.Time, err error) {
	item := HistoryItem{At: start, ChatID: chatID, Chars: chars, OK: err == nil}
	if err != nil {
		item.Error = err.Error()
	}

	s.mu.Lock()
	limit := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > limit {
		s.history = s.history[len(s.history)-limit:]
	}
	s.hmu.Unlock()

	if s.bus != nil {
		typ := eventbus.EventNotifySent
		if err != nil {
			typ = eventbus.EventNotifyFailed
		}
		s.bus.Publish(eventbus.Event{Type: typ, Data: item})
	}

	if s.store != nil {
		entry := storage.DeliveryEntry{
			At:     start,
			ChatID: chatID,
			Chars:  chars,
			OK:     err == nil,
			TookMS: time.Since(start).Milliseconds(),
		}
		if err != nil {
			entry.Error = err.Error()
		}
		// Journal writes are best-effort; delivery already happened (or not).
		jctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if jerr := s.store.AppendDelivery(jctx, entry); jerr != nil {
			s.log.Debug("delivery journal append failed", logx.Err(jerr))
		}
		cancel()
	}
}

// History returns a copy of the recent in-memory delivery history.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}
