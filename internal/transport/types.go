package transport

import "context"

// Update is a parsed inbound event from the messaging platform.
//
// It is transient: constructed when data arrives (long-poll or webhook),
// consumed by exactly one handler invocation, then discarded.
type Update struct {
	ID       int64 // platform update id (0 when unknown)
	ChatID   int64
	FromID   int64
	FromName string // sender display name ("User" fallback applied by the session)
	Command  string // bare command word, e.g. "start" (empty for non-command text)
	Args     []string
	Text     string // raw message text
}

// IsCommand reports whether the update carries a /command.
func (u Update) IsCommand() bool { return u.Command != "" }

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Adapter is the platform client boundary.
//
// Start launches the adapter's inbound update source (long-poll) feeding out.
// Adapters that receive updates via webhook instead parse raw payloads with
// ParseUpdate; in that mode Start is not called.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	ParseUpdate(payload []byte) (Update, bool, error)
}

// WebhookManager is implemented by adapters that can register a public
// webhook address with the platform.
type WebhookManager interface {
	SetWebhook(ctx context.Context, publicURL string, dropPending bool) error
	DeleteWebhook(ctx context.Context) error
}
