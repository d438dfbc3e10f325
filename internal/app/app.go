package app

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"relaybot/internal/bridge"
	"relaybot/internal/command"
	"relaybot/internal/config"
	"relaybot/internal/eventbus"
	"relaybot/internal/httpapi"
	"relaybot/internal/maintenance"
	"relaybot/internal/notifier"
	"relaybot/internal/runtime/supervisor"
	"relaybot/internal/session"
	"relaybot/internal/storage"
	"relaybot/internal/transport"
	"relaybot/internal/transport/telegram"
	logx "relaybot/pkg/logx"
)

const webhookPath = "/telegram-webhook"

// App wires the whole service together and owns startup/shutdown ordering.
type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger
	bus    eventbus.Bus

	adapter *telegram.Adapter
	reg     *command.Registry
	sess    *session.Session
	br      *bridge.Bridge
	nt      *notifier.Service
	store   storage.Store
	http    *httpapi.Server
	maint   *maintenance.Service
	sup     *supervisor.Supervisor

	updates chan transport.Update

	ready      atomic.Bool
	webhookURL atomic.Value // string; "" while long-polling
	cfgCh      chan *config.Config
}

func New(configPath string) *App {
	return &App{cfgMgr: config.NewManager(configPath)}
}

// Ready reports whether startup completed. The HTTP surface gates webhook
// ingestion and health on this.
func (a *App) Ready() bool { return a.ready.Load() }

// Start brings the service up in dependency order: config, logging, platform
// session, dispatch bridge, then the inbound paths (webhook or long-poll),
// then the HTTP surface. The readiness gate flips only after everything is
// standing.
func (a *App) Start(ctx context.Context) error {
	cfg, err := a.cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	a.logSvc, a.log = logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	a.cfgMgr.SetLogger(a.log.With(logx.String("comp", "config")))
	a.bus = eventbus.New()
	a.log.Info("starting", logx.String("http_addr", cfg.HTTP.Addr))

	// Creating the adapter validates the token against the platform (getMe).
	// A bad token is fatal here, before anything else comes up.
	a.adapter, err = telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: durationOr(cfg.Telegram.PollTimeout, 10*time.Second),
	}, a.log.With(logx.String("comp", "telegram")))
	if err != nil {
		return fmt.Errorf("telegram session: %w", err)
	}

	a.reg = command.NewRegistry()
	if err := command.RegisterBuiltins(a.reg); err != nil {
		return fmt.Errorf("register builtins: %w", err)
	}
	a.sess = session.New(a.adapter, a.reg, a.log.With(logx.String("comp", "session")), a.bus)
	a.sess.MarkReady()

	a.br = bridge.New(bridge.Config{
		QueueSize:      cfg.Bridge.QueueSize,
		DefaultTimeout: durationOr(cfg.Bridge.SubmitTimeout, 10*time.Second),
		DrainGrace:     durationOr(cfg.Bridge.DrainGrace, 3*time.Second),
	}, a.sess, a.log.With(logx.String("comp", "bridge")))

	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))))
	a.sup.Go("bridge.run", func(ctx context.Context) error {
		return a.br.Run(ctx)
	})

	readyCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = a.br.WaitReady(readyCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("scheduler did not become ready: %w", err)
	}

	a.store, err = storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: durationOr(cfg.Storage.BusyTimeout, 5*time.Second),
	}, a.log.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	a.nt = notifier.New(notifier.Config{
		RatePerSec:    cfg.Notifier.RatePerSec,
		HistorySize:   cfg.Notifier.HistorySize,
		SubmitTimeout: durationOr(cfg.Bridge.SubmitTimeout, 10*time.Second),
	}, a.br, a.log.With(logx.String("comp", "notifier")), a.bus, a.store)

	a.startInbound(ctx, cfg)

	a.http = httpapi.New(httpapi.Config{
		Addr:          cfg.HTTP.Addr,
		SubmitTimeout: durationOr(cfg.Bridge.SubmitTimeout, 10*time.Second),
	}, httpapi.Deps{
		Log:      a.log.With(logx.String("comp", "http")),
		Bridge:   a.br,
		Notifier: a.nt,
		Parser:   a.adapter,
		Ready:    a.Ready,
	})
	if err := a.http.Start(ctx); err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	a.maint = maintenance.New(maintenance.Config{
		WebhookRecheck: cfg.Maintenance.WebhookRecheck,
		StatsEvery:     cfg.Maintenance.StatsEvery,
		Prune:          cfg.Maintenance.Prune,
	}, maintenance.Deps{
		Log:        a.log.With(logx.String("comp", "maintenance")),
		Bus:        a.bus,
		Bridge:     a.br,
		Store:      a.store,
		Webhook:    a.adapter,
		WebhookURL: a.currentWebhookURL,
		Retention:  durationOr(cfg.Storage.Retention, 0),
	})
	a.maint.Start(ctx)

	a.watchConfig(ctx)
	a.watchEvents()

	a.ready.Store(true)
	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Debug("sd_notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}
	a.log.Info("ready")
	return nil
}

// startInbound chooses webhook or long-poll delivery for platform updates.
// Webhook registration failure is not fatal: the bot degrades to long-poll
// so inbound commands keep working.
func (a *App) startInbound(ctx context.Context, cfg *config.Config) {
	base := strings.TrimRight(strings.TrimSpace(cfg.Telegram.WebhookBaseURL), "/")
	if base != "" {
		url := base + webhookPath
		wctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		err := a.adapter.SetWebhook(wctx, url, true)
		cancel()
		if err == nil {
			a.webhookURL.Store(url)
			a.bus.Publish(eventbus.Event{Type: eventbus.EventWebhookSet, Data: url})
			a.log.Info("webhook registered", logx.String("url", url))
			return
		}
		a.log.Error("webhook registration failed, falling back to long-poll",
			logx.String("url", url), logx.Err(err))
	} else {
		a.log.Warn("no webhook base url configured, running in degraded long-poll mode")
	}

	a.webhookURL.Store("")
	// Clear any stale registration so Telegram actually delivers to the poller.
	dctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	if err := a.adapter.DeleteWebhook(dctx); err != nil {
		a.log.Debug("delete webhook failed", logx.Err(err))
	}
	cancel()

	a.updates = make(chan transport.Update, 64)
	submitTimeout := durationOr(cfg.Bridge.SubmitTimeout, 10*time.Second)
	a.sup.Go0("updates.pump", func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case up, ok := <-a.updates:
				if !ok {
					return
				}
				a.bus.Publish(eventbus.Event{Type: eventbus.EventUpdateReceived, Data: up.ChatID})
				if err := a.br.SubmitUpdate(ctx, up, submitTimeout); err != nil {
					a.log.Warn("update dispatch failed",
						logx.Int64("chat_id", up.ChatID), logx.Err(err))
				}
			}
		}
	})
	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		a.log.Error("long-poll start failed", logx.Err(err))
	}
}

func (a *App) currentWebhookURL() string {
	v, _ := a.webhookURL.Load().(string)
	return v
}

// watchConfig starts the file watcher and applies the runtime-tunable subset
// of a validated reload: log level/sinks and the notifier rate limit.
// Structural settings (addresses, token, queue size) need a restart.
func (a *App) watchConfig(ctx context.Context) {
	a.cfgCh = a.cfgMgr.Subscribe(1)

	a.sup.Go0("config.watch", func(ctx context.Context) {
		if err := a.cfgMgr.Watch(ctx); err != nil && ctx.Err() == nil {
			a.log.Warn("config watcher stopped", logx.Err(err))
		}
	})
	a.sup.Go0("config.apply", func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case cfg, ok := <-a.cfgCh:
				if !ok {
					return
				}
				a.applyReload(cfg)
			}
		}
	})
}

// watchEvents mirrors bus traffic into the debug log so component activity
// is visible without each component logging twice.
func (a *App) watchEvents() {
	ch, unsub := a.bus.Subscribe(32)
	a.sup.Go0("bus.debug", func(ctx context.Context) {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-ch:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})
}

func (a *App) applyReload(cfg *config.Config) {
	if cfg == nil {
		return
	}
	a.logSvc.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	a.nt.Apply(notifier.Config{
		RatePerSec:    cfg.Notifier.RatePerSec,
		HistorySize:   cfg.Notifier.HistorySize,
		SubmitTimeout: durationOr(cfg.Bridge.SubmitTimeout, 10*time.Second),
	})
	a.log.Info("config reloaded")
}

// Stop tears down in reverse order. The HTTP surface goes first so no new
// work arrives while the bridge drains.
func (a *App) Stop(ctx context.Context) {
	a.ready.Store(false)
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	if a.maint != nil {
		a.maint.Stop(ctx)
	}
	if a.http != nil {
		a.http.Stop(ctx)
	}
	if a.sup != nil {
		// Cancels the bridge loop; Run drains queued units with the grace.
		_ = a.sup.Stop(ctx)
	}
	if a.adapter != nil {
		_ = a.adapter.Stop(ctx)
	}
	if a.sess != nil {
		a.sess.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
	}
	a.log.Info("stopped")
	if a.logSvc != nil {
		a.logSvc.Close()
	}
}

func durationOr(raw string, def time.Duration) time.Duration {
	d, err := config.ParseDurationOrDefault("", raw, def)
	if err != nil {
		return def
	}
	return d
}
