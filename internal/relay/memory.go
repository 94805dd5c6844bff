package relay

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roach88/tandem/internal/ir"
)

// DefaultSubscriberBuffer bounds each subscriber's backlog.
const DefaultSubscriberBuffer = 256

// MemoryBus fans envelopes out to in-process subscribers.
//
// Thread-safety: all methods are safe for concurrent use.
type MemoryBus struct {
	mu     sync.Mutex
	subs   map[chan ir.Envelope]struct{}
	buffer int
}

// NewMemoryBus creates an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs:   make(map[chan ir.Envelope]struct{}),
		buffer: DefaultSubscriberBuffer,
	}
}

// Publish delivers env to every current subscriber. A subscriber whose
// backlog is full misses env.
func (b *MemoryBus) Publish(ctx context.Context, env ir.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- env:
		default:
			slog.Warn("bus subscriber lagging, dropping envelope", "envelope", env.ID, "doc", env.DocID)
		}
	}
	return nil
}

// Subscribe returns a channel of envelopes published after the call. The
// channel is closed when ctx ends.
func (b *MemoryBus) Subscribe(ctx context.Context) (<-chan ir.Envelope, error) {
	ch := make(chan ir.Envelope, b.buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, ch)
		close(ch)
		b.mu.Unlock()
	}()
	return ch, nil
}

// Subscribers returns the number of live subscriptions.
func (b *MemoryBus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
