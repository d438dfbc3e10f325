// Package bridge connects concurrent request handlers to the single
// goroutine that owns the platform session.
//
// The platform client is not safe for concurrent use, so all work (sending
// an outbound message, processing an inbound update) is expressed as a work
// unit and funneled through one bounded FIFO queue with a single consumer.
// Producers block (bounded by a timeout) on a per-unit result slot.
//
// # Completion semantics
//
// Every work unit is completed exactly once. Results are correlated by the
// unit's own one-shot channel, never by queue position, so a caller that
// timed out can never receive a later unit's result. A caller timeout
// abandons only the wait: the unit still runs to completion on the loop
// (platform calls may not be interruptible) and its result lands in the
// buffered slot, where it is discarded.
//
// # Shutdown
//
// When the loop's context is canceled it stops accepting submissions, drains
// queued units within a grace window, and fails whatever remains with
// ErrShutdown.
package bridge
