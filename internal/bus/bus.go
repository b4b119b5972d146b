// Package bus provides the message model and the inbound queue between
// channels and the relay dispatcher.
package bus

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MessageBus decouples channels from the dispatcher.
type MessageBus struct {
	inbound chan *Update
	closed  bool
	mu      sync.RWMutex
}

// NewMessageBus creates a new message bus.
func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound: make(chan *Update, 100),
	}
}

// PublishInbound queues an update from a channel. It blocks while the queue
// is full and drops the update once the context is done or the bus stopped.
func (b *MessageBus) PublishInbound(ctx context.Context, u *Update) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false
	}
	if u.TraceID == "" {
		u.TraceID = uuid.NewString()
	}
	select {
	case b.inbound <- u:
		return true
	case <-ctx.Done():
		return false
	}
}

// ConsumeInbound blocks until an update is available or context is cancelled.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (*Update, error) {
	select {
	case u := <-b.inbound:
		return u, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop makes further publishes no-ops.
func (b *MessageBus) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}
