package maintenance

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"relaybot/internal/bridge"
	"relaybot/internal/eventbus"
	"relaybot/internal/storage"
	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

// Config holds the cron specs for the background jobs. Empty spec disables
// the job.
type Config struct {
	WebhookRecheck string
	StatsEvery     string
	Prune          string
}

// Deps are the collaborators the jobs act on. Nil members disable the jobs
// that need them.
type Deps struct {
	Log        logx.Logger
	Bus        eventbus.Bus
	Bridge     *bridge.Bridge
	Store      storage.Store
	Webhook    transport.WebhookManager
	WebhookURL func() string // current public base URL, "" when long-polling
	Retention  time.Duration // journal rows older than this get pruned
}

// Service runs periodic housekeeping: webhook re-assertion, bridge stats
// logging, and journal pruning.
type Service struct {
	mu     sync.Mutex
	cfg    Config
	deps   Deps
	log    logx.Logger
	parser cron.Parser
	c      *cron.Cron
}

func New(cfg Config, deps Deps) *Service {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		deps:   deps,
		log:    log,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Start registers the configured jobs and begins triggering. Jobs with an
// unparsable spec are skipped with a warning, never fatal.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.c = cron.New(cron.WithParser(s.parser))

	registered := 0
	registered += s.addLocked("webhook_recheck", s.cfg.WebhookRecheck, s.recheckWebhook,
		s.deps.Webhook != nil && s.deps.WebhookURL != nil)
	registered += s.addLocked("stats", s.cfg.StatsEvery, s.logStats,
		s.deps.Bridge != nil)
	registered += s.addLocked("prune", s.cfg.Prune, s.pruneJournal,
		s.deps.Store != nil && s.deps.Retention > 0)

	if registered == 0 {
		s.c = nil
		s.log.Debug("no maintenance jobs configured")
		return
	}
	s.c.Start()
	s.log.Info("maintenance started", logx.Int("jobs", registered))
}

func (s *Service) addLocked(name, spec string, job func(), depsOK bool) int {
	if spec == "" {
		return 0
	}
	if !depsOK {
		s.log.Debug("maintenance job skipped, missing dependency", logx.String("job", name))
		return 0
	}
	if _, err := s.parser.Parse(spec); err != nil {
		s.log.Warn("invalid maintenance cron spec",
			logx.String("job", name), logx.String("spec", spec), logx.Err(err))
		return 0
	}
	_, err := s.c.AddFunc(spec, job)
	if err != nil {
		s.log.Warn("maintenance job registration failed", logx.String("job", name), logx.Err(err))
		return 0
	}
	return 1
}

// Stop halts triggering and waits for in-flight jobs, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("maintenance stopped")
}

// recheckWebhook re-asserts the webhook registration. Telegram occasionally
// drops registrations after extended API errors, so a periodic set is cheap
// self-healing.
func (s *Service) recheckWebhook() {
	url := s.deps.WebhookURL()
	if url == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := s.deps.Webhook.SetWebhook(ctx, url, false); err != nil {
		s.log.Warn("webhook recheck failed", logx.String("url", url), logx.Err(err))
		return
	}
	s.log.Debug("webhook re-asserted", logx.String("url", url))
	if s.deps.Bus != nil {
		s.deps.Bus.Publish(eventbus.Event{Type: eventbus.EventWebhookSet, Data: url})
	}
}

func (s *Service) logStats() {
	st := s.deps.Bridge.Stats()
	s.log.Info("bridge stats",
		logx.Bool("running", st.Running),
		logx.Int("queue_len", st.QueueLen),
		logx.Int("queue_cap", st.QueueCap),
		logx.Uint64("processed", st.Processed),
		logx.Uint64("failed", st.Failed),
		logx.Uint64("expired", st.Expired))
}

func (s *Service) pruneJournal() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-s.deps.Retention)
	n, err := s.deps.Store.PruneBefore(ctx, cutoff)
	if err != nil {
		s.log.Warn("journal prune failed", logx.Err(err))
		return
	}
	if n > 0 {
		s.log.Info("journal pruned", logx.Int64("rows", n))
	}
}
