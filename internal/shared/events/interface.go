package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/bloodconnect/platform/internal/shared/config"
)

// ErrBusClosed is returned after Close
var ErrBusClosed = errors.New("event bus closed")

// EventBus defines the interface for event publishing and subscription
type EventBus interface {
	// Publish publishes an event to the bus
	Publish(ctx context.Context, event Event) error

	// Subscribe creates a subscription to events matching a pattern
	Subscribe(ctx context.Context, pattern string, consumerName string, handler Handler) error

	// Close closes the event bus connection
	Close()

	// Health checks the event bus connection
	Health() error
}

// NewEventBus returns the KurrentDB bus when enabled, the in-process bus
// otherwise. The second result names the backend for logging.
func NewEventBus(ctx context.Context, cfg config.KurrentDBConfig, log zerolog.Logger) (EventBus, string, error) {
	if !cfg.Enabled {
		return NewMemoryBus(log), "memory", nil
	}

	bus, err := NewKurrentBus(cfg, log)
	if err != nil {
		return nil, "", err
	}
	if err := bus.Health(); err != nil {
		bus.Close()
		return nil, "", fmt.Errorf("kurrentdb unavailable: %w", err)
	}
	return bus, "kurrentdb", nil
}

var (
	_ EventBus = (*MemoryBus)(nil)
	_ EventBus = (*KurrentBus)(nil)
)
