package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

type subscription struct {
	pattern  string
	consumer string
	handler  Handler
}

// MemoryBus is an in-process EventBus. Handlers run synchronously in the
// publisher's goroutine, in subscription order; a failing handler is logged
// and does not stop delivery to the others.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   []subscription
	closed bool
	log    zerolog.Logger
}

// NewMemoryBus creates an in-process event bus
func NewMemoryBus(log zerolog.Logger) *MemoryBus {
	return &MemoryBus{log: log}
}

// Publish delivers the event to every matching subscriber
func (b *MemoryBus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		if !MatchesPattern(event.Type, s.pattern) {
			continue
		}
		if err := s.handler(ctx, event); err != nil {
			b.log.Error().Err(err).
				Str("event_id", event.ID).
				Str("event_type", event.Type).
				Str("consumer", s.consumer).
				Msg("event handler failed")
		}
	}
	return nil
}

// Subscribe registers a handler for events matching pattern. The
// subscription is removed when ctx is cancelled.
func (b *MemoryBus) Subscribe(ctx context.Context, pattern string, consumerName string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	b.subs = append(b.subs, subscription{pattern: pattern, consumer: consumerName, handler: handler})

	if ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			b.unsubscribe(consumerName, pattern)
		}()
	}
	return nil
}

func (b *MemoryBus) unsubscribe(consumer, pattern string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.consumer == consumer && s.pattern == pattern {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Close stops accepting events
func (b *MemoryBus) Close() {
	b.mu.Lock()
	b.closed = true
	b.subs = nil
	b.mu.Unlock()
}

// Health reports whether the bus is open
func (b *MemoryBus) Health() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	return nil
}
