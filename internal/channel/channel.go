// Package channel provides the message channel to one annotation-surface
// instance: asynchronous, at-most-once, fire-and-forget. Sends to a
// surface that is logically gone are dropped, never surfaced as errors
// to the caller's control flow.
package channel

import (
	"context"
	"sync"

	"github.com/c3founder/roampdf/internal/protocol"
)

// Sender delivers outbound messages to one surface instance.
type Sender interface {
	Send(ctx context.Context, msg protocol.Outbound) error
}

// Buffered is an in-process Sender that retains delivered messages.
// Used by tests and by embedding hosts that poll.
type Buffered struct {
	mu     sync.Mutex
	closed bool
	msgs   []protocol.Outbound
}

// NewBuffered returns an empty buffered channel.
func NewBuffered() *Buffered {
	return &Buffered{}
}

// Send records the message. Sends after Close are dropped silently.
func (b *Buffered) Send(_ context.Context, msg protocol.Outbound) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.msgs = append(b.msgs, msg)
	return nil
}

// Close marks the surface as gone.
func (b *Buffered) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

// Messages returns a copy of everything delivered so far.
func (b *Buffered) Messages() []protocol.Outbound {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]protocol.Outbound, len(b.msgs))
	copy(out, b.msgs)
	return out
}
