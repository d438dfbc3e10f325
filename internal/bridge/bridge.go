package bridge

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"sync/atomic"
	"time"

	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

var (
	// ErrSchedulerUnavailable is returned when a submission arrives before the
	// scheduler loop has started or after it has terminated.
	ErrSchedulerUnavailable = errors.New("scheduler loop is not running")

	// ErrTimeout is returned when the caller's bounded wait elapses. The work
	// unit itself is NOT cancelled: the platform call may not be interruptible,
	// so it runs to completion on the scheduler loop and its result is discarded.
	ErrTimeout = errors.New("timed out waiting for scheduler result")

	// ErrShutdown is returned for work units still queued when the drain grace
	// period expires at shutdown.
	ErrShutdown = errors.New("scheduler shut down before the work unit ran")
)

// Executor is the session-side contract. Only the scheduler loop calls it,
// strictly one work unit at a time.
type Executor interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	ProcessUpdate(ctx context.Context, up transport.Update) error
}

type Kind int

const (
	KindProcessUpdate Kind = iota
	KindSendMessage
)

func (k Kind) String() string {
	switch k {
	case KindProcessUpdate:
		return "process_update"
	case KindSendMessage:
		return "send_message"
	default:
		return "unknown"
	}
}

// workUnit is one discrete task crossing the bridge, paired with a one-shot
// result slot. Completion happens exactly once (guarded by done).
type workUnit struct {
	id   string
	kind Kind

	update transport.Update
	chatID int64
	text   string

	enqueuedAt time.Time
	done       atomic.Bool
	result     chan error // buffered(1): completion never blocks the loop
}

// complete posts the unit's result. Safe to call more than once; only the
// first call wins, so a caller that timed out never sees a second, stale
// completion and the loop never blocks on an abandoned unit.
func (u *workUnit) complete(err error) {
	if u.done.CompareAndSwap(false, true) {
		u.result <- err
	}
}

type Config struct {
	QueueSize      int           // bounded for backpressure; default 64
	DefaultTimeout time.Duration // caller wait bound when none given; default 10s
	DrainGrace     time.Duration // shutdown drain budget; default 3s
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 10 * time.Second
	}
	if c.DrainGrace <= 0 {
		c.DrainGrace = 3 * time.Second
	}
	return c
}

// Stats is a point-in-time operational snapshot (for /healthz and logs).
type Stats struct {
	Running   bool   `json:"running"`
	QueueLen  int    `json:"queue_len"`
	QueueCap  int    `json:"queue_cap"`
	Processed uint64 `json:"processed"`
	Failed    uint64 `json:"failed"`
	Expired   uint64 `json:"expired"` // caller waits that hit ErrTimeout
}

const (
	stateCreated int32 = iota
	stateRunning
	stateStopped
)

// Bridge is the only legal path between request-handling goroutines and the
// session. Any number of producers submit work units onto a bounded FIFO
// queue; a single consumer goroutine (the scheduler loop) executes them
// one at a time against the Executor and posts each result exactly once.
type Bridge struct {
	cfg  Config
	exec Executor
	log  logx.Logger

	queue     chan *workUnit
	readyCh   chan struct{} // closed once the loop is consuming
	stoppedCh chan struct{} // closed after drain completes

	state atomic.Int32
	seq   atomic.Uint64

	processed atomic.Uint64
	failed    atomic.Uint64
	expired   atomic.Uint64
}

func New(cfg Config, exec Executor, log logx.Logger) *Bridge {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Bridge{
		cfg:       cfg,
		exec:      exec,
		log:       log,
		queue:     make(chan *workUnit, cfg.QueueSize),
		readyCh:   make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Run is the scheduler loop. It owns the Executor exclusively: exactly one
// work unit is in flight at any moment, and units are taken in FIFO order.
// Run blocks until ctx is canceled, then drains with the configured grace.
func (b *Bridge) Run(ctx context.Context) error {
	if !b.state.CompareAndSwap(stateCreated, stateRunning) {
		return fmt.Errorf("bridge loop already started")
	}
	close(b.readyCh)
	b.log.Info("scheduler loop started",
		logx.Int("queue_cap", cap(b.queue)), logx.Duration("drain_grace", b.cfg.DrainGrace))

	defer func() {
		b.state.Store(stateStopped)
		b.drain()
		close(b.stoppedCh)
		b.log.Info("scheduler loop stopped",
			logx.Uint64("processed", b.processed.Load()), logx.Uint64("failed", b.failed.Load()))
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case u := <-b.queue:
			b.execute(ctx, u)
		}
	}
}

// drain gives queued units a short grace window, then fails the remainder.
// New submissions are already rejected (state is stopped).
func (b *Bridge) drain() {
	dctx, cancel := context.WithTimeout(context.Background(), b.cfg.DrainGrace)
	defer cancel()

	drained, failed := 0, 0
	for {
		select {
		case u := <-b.queue:
			if dctx.Err() != nil {
				u.complete(ErrShutdown)
				b.failed.Add(1)
				failed++
				continue
			}
			b.execute(dctx, u)
			drained++
		default:
			if drained > 0 || failed > 0 {
				b.log.Info("scheduler drain finished",
					logx.Int("drained", drained), logx.Int("failed", failed))
			}
			return
		}
	}
}

// execute runs one unit to completion. Errors (including handler panics,
// which the session already converts) are posted through the result slot;
// nothing ever propagates far enough to kill the loop.
func (b *Bridge) execute(ctx context.Context, u *workUnit) {
	start := time.Now()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				b.log.Error("panic in work unit",
					logx.String("unit", u.id), logx.String("kind", u.kind.String()),
					logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				err = fmt.Errorf("internal: panic in %s: %v", u.kind, r)
			}
		}()
		switch u.kind {
		case KindSendMessage:
			return b.exec.SendMessage(ctx, u.chatID, u.text)
		case KindProcessUpdate:
			return b.exec.ProcessUpdate(ctx, u.update)
		default:
			return fmt.Errorf("internal: unknown work unit kind %d", u.kind)
		}
	}()

	u.complete(err)
	took := time.Since(start)
	if err != nil {
		b.failed.Add(1)
		b.log.Warn("work unit failed",
			logx.String("unit", u.id), logx.String("kind", u.kind.String()),
			logx.Duration("took", took), logx.Err(err))
		return
	}
	b.processed.Add(1)
	b.log.Debug("work unit done",
		logx.String("unit", u.id), logx.String("kind", u.kind.String()),
		logx.Duration("queued", start.Sub(u.enqueuedAt)), logx.Duration("took", took))
}

// SubmitMessage submits a "send this notification" work unit and blocks the
// caller until a result, error, or the timeout arrives.
func (b *Bridge) SubmitMessage(ctx context.Context, chatID int64, text string, timeout time.Duration) error {
	u := &workUnit{
		id:     b.nextID(),
		kind:   KindSendMessage,
		chatID: chatID,
		text:   text,
		result: make(chan error, 1),
	}
	return b.submit(ctx, u, timeout)
}

// SubmitUpdate submits a "process this inbound update" work unit.
func (b *Bridge) SubmitUpdate(ctx context.Context, up transport.Update, timeout time.Duration) error {
	u := &workUnit{
		id:     b.nextID(),
		kind:   KindProcessUpdate,
		update: up,
		result: make(chan error, 1),
	}
	return b.submit(ctx, u, timeout)
}

func (b *Bridge) submit(ctx context.Context, u *workUnit, timeout time.Duration) error {
	if b.state.Load() != stateRunning {
		return ErrSchedulerUnavailable
	}
	if timeout <= 0 {
		timeout = b.cfg.DefaultTimeout
	}
	u.enqueuedAt = time.Now()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	// Enqueue. A full queue exerts backpressure: the caller waits, bounded by
	// its timeout, rather than the queue growing without limit.
	select {
	case b.queue <- u:
	case <-timer.C:
		b.expired.Add(1)
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-b.stoppedCh:
		return ErrSchedulerUnavailable
	}

	// Wait for this unit's own result slot; a later unit's completion can
	// never be observed here.
	select {
	case err := <-u.result:
		return err
	case <-timer.C:
		// Abandon the wait only. The unit keeps executing and completes into
		// its buffered slot, where the result is discarded.
		b.expired.Add(1)
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-b.stoppedCh:
		// Loop exited while we waited; the drain may still have completed us.
		select {
		case err := <-u.result:
			return err
		default:
			return ErrShutdown
		}
	}
}

// WaitReady blocks until the scheduler loop is consuming, or ctx expires.
// The lifecycle controller calls this before opening the external surface.
func (b *Bridge) WaitReady(ctx context.Context) error {
	select {
	case <-b.readyCh:
		return nil
	case <-b.stoppedCh:
		return ErrSchedulerUnavailable
	case <-ctx.Done():
		return fmt.Errorf("scheduler loop did not become ready: %w", ctx.Err())
	}
}

func (b *Bridge) Stats() Stats {
	return Stats{
		Running:   b.state.Load() == stateRunning,
		QueueLen:  len(b.queue),
		QueueCap:  cap(b.queue),
		Processed: b.processed.Load(),
		Failed:    b.failed.Load(),
		Expired:   b.expired.Load(),
	}
}

func (b *Bridge) nextID() string {
	return "wu-" + strconv.FormatUint(b.seq.Add(1), 36)
}
