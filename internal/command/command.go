package command

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
)

// HandlerFunc processes one inbound command. Replies go through req.Reply,
// which routes back into the session owning the platform connection, so
// handlers never touch the platform client directly.
type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	Name        string // bare command word, e.g. "start"
	Description string
	Handle      HandlerFunc
}

// Request is the handler-facing view of one inbound Update.
type Request struct {
	ChatID   int64
	FromID   int64
	FromName string
	Command  string
	Args     []string
	Text     string

	reply func(ctx context.Context, text string) error
}

// NewRequest builds a Request with the given reply sink. The session is the
// only production caller; tests inject a recording sink.
func NewRequest(chatID, fromID int64, fromName, cmd string, args []string, text string, reply func(ctx context.Context, text string) error) *Request {
	return &Request{
		ChatID:   chatID,
		FromID:   fromID,
		FromName: fromName,
		Command:  cmd,
		Args:     args,
		Text:     text,
		reply:    reply,
	}
}

// Reply sends text back to the originating chat.
func (r *Request) Reply(ctx context.Context, text string) error {
	if r.reply == nil {
		return fmt.Errorf("no reply sink configured")
	}
	return r.reply(ctx, text)
}

// DuplicateCommandError is returned when a command name is registered twice.
// Registration happens once at startup, so this is a fatal configuration bug.
type DuplicateCommandError struct {
	Name string
}

func (e *DuplicateCommandError) Error() string {
	return fmt.Sprintf("command %q is already registered", e.Name)
}

// Registry is the static command lookup table.
//
// It is populated before the session reaches Ready and frozen afterwards,
// so lookups from the scheduler loop need no locking.
type Registry struct {
	frozen atomic.Bool
	m      map[string]Command
}

func NewRegistry() *Registry {
	return &Registry{m: map[string]Command{}}
}

// Register adds a command. It fails with *DuplicateCommandError on a name
// collision and with a plain error after Freeze().
func (r *Registry) Register(c Command) error {
	name := normalizeName(c.Name)
	if name == "" || c.Handle == nil {
		return fmt.Errorf("command requires a name and a handler")
	}
	if r.frozen.Load() {
		return fmt.Errorf("registry is frozen; cannot register %q", name)
	}
	if _, exists := r.m[name]; exists {
		return &DuplicateCommandError{Name: name}
	}
	c.Name = name
	r.m[name] = c
	return nil
}

// Freeze marks the registry immutable. Called by the lifecycle controller
// right before the session transitions to Ready.
func (r *Registry) Freeze() { r.frozen.Store(true) }

// Lookup returns the command for name, if registered.
func (r *Registry) Lookup(name string) (Command, bool) {
	c, ok := r.m[normalizeName(name)]
	return c, ok
}

// List returns all registered commands sorted by name.
func (r *Registry) List() []Command {
	out := make([]Command, 0, len(r.m))
	for _, c := range r.m {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) Len() int { return len(r.m) }

func normalizeName(s string) string {
	s = strings.TrimSpace(strings.TrimPrefix(s, "/"))
	return strings.ToLower(s)
}
