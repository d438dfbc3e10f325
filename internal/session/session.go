package session

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"

	"relaybot/internal/command"
	"relaybot/internal/eventbus"
	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

// State tracks the session lifecycle. Exactly one Session exists per process.
type State int32

const (
	StateUninitialized State = iota
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// PlatformError is a typed failure from the messaging platform (rate limit,
// invalid chat id, transient network error). It crosses the bridge boundary
// as-is so callers can distinguish it from bridge-level failures.
type PlatformError struct {
	Op     string // "sendMessage" | "processUpdate"
	ChatID int64
	Err    error
}

func (e *PlatformError) Error() string {
	return fmt.Sprintf("platform %s failed (chat %d): %v", e.Op, e.ChatID, e.Err)
}

func (e *PlatformError) Unwrap() error { return e.Err }

// Session is the exclusive owner of the live platform connection and of the
// command registry association.
//
// Both operations are called only from the bridge's scheduler loop; no other
// goroutine may touch the session, which is what makes it lock-free.
type Session struct {
	adapter transport.Adapter
	reg     *command.Registry
	log     logx.Logger
	bus     eventbus.Bus

	state atomic.Int32
}

func New(adapter transport.Adapter, reg *command.Registry, log logx.Logger, bus eventbus.Bus) *Session {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Session{adapter: adapter, reg: reg, log: log, bus: bus}
	s.state.Store(int32(StateUninitialized))
	return s
}

func (s *Session) State() State { return State(s.state.Load()) }

// MarkReady freezes the registry and transitions Uninitialized -> Ready.
func (s *Session) MarkReady() {
	if s.state.CompareAndSwap(int32(StateUninitialized), int32(StateReady)) {
		s.reg.Freeze()
		s.log.Info("session ready", logx.Int("commands", s.reg.Len()))
	}
}

// Close transitions to Closed. Further operations fail.
func (s *Session) Close() {
	s.state.Store(int32(StateClosed))
}

// SendMessage performs exactly one outbound network send.
// May block while the network call is outstanding.
func (s *Session) SendMessage(ctx context.Context, chatID int64, text string) error {
	if st := s.State(); st != StateReady {
		return &PlatformError{Op: "sendMessage", ChatID: chatID, Err: fmt.Errorf("session is %s", st)}
	}
	_, err := s.adapter.SendText(ctx, transport.ChatTarget{ChatID: chatID}, text, nil)
	if err != nil {
		return &PlatformError{Op: "sendMessage", ChatID: chatID, Err: err}
	}
	return nil
}

// ProcessUpdate looks up the update's command and invokes its handler.
// Unrecognized commands (and plain text) are silently ignored, matching the
// bot's long-standing behavior; a debug line keeps them observable.
func (s *Session) ProcessUpdate(ctx context.Context, up transport.Update) error {
	if st := s.State(); st != StateReady {
		return &PlatformError{Op: "processUpdate", ChatID: up.ChatID, Err: fmt.Errorf("session is %s", st)}
	}

	if !up.IsCommand() {
		return nil
	}

	cmd, ok := s.reg.Lookup(up.Command)
	if !ok {
		s.log.Debug("unrecognized command ignored",
			logx.String("cmd", up.Command), logx.Int64("chat_id", up.ChatID))
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.EventUpdateIgnored, Data: up.Command})
		}
		return nil
	}

	fromName := up.FromName
	if fromName == "" {
		fromName = "User"
	}
	req := command.NewRequest(up.ChatID, up.FromID, fromName, cmd.Name, up.Args, up.Text,
		func(c context.Context, text string) error {
			// Handler replies run on the scheduler goroutine, so going through
			// SendMessage keeps the single-owner invariant intact.
			return s.SendMessage(c, up.ChatID, text)
		})

	// A panicking handler must not take down the scheduler loop.
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic in command handler",
					logx.String("cmd", cmd.Name),
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())))
				err = fmt.Errorf("panic in %s handler: %v", cmd.Name, r)
			}
		}()
		return cmd.Handle(ctx, req)
	}()
	if err != nil {
		if pe, ok := err.(*PlatformError); ok {
			return pe
		}
		return &PlatformError{Op: "processUpdate", ChatID: up.ChatID, Err: err}
	}
	return nil
}
