package notification

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// MockProvider records notifications instead of sending them
type MockProvider struct {
	name string

	mu         sync.RWMutex
	sent       []*Notification
	failOnSend bool
}

// NewMockProvider creates a mock provider, e.g. NewMockProvider("mock_sms")
func NewMockProvider(name string) *MockProvider {
	return &MockProvider{name: name}
}

func (p *MockProvider) Name() string { return p.name }

// Send records the notification
func (p *MockProvider) Send(ctx context.Context, n *Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failOnSend {
		return fmt.Errorf("mock send failure")
	}
	switch n.Channel {
	case ChannelSMS:
		if n.Phone == "" {
			return fmt.Errorf("no phone number provided")
		}
	case ChannelEmail:
		if n.Email == "" {
			return fmt.Errorf("no email address provided")
		}
	}

	p.sent = append(p.sent, n)
	return nil
}

// SetFailOnSend sets whether Send should fail
func (p *MockProvider) SetFailOnSend(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failOnSend = fail
}

// Sent returns recorded notifications
func (p *MockProvider) Sent() []*Notification {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Notification, len(p.sent))
	copy(out, p.sent)
	return out
}

// ConsoleProvider logs notifications (for development)
type ConsoleProvider struct {
	channel Channel
	log     zerolog.Logger
}

// NewConsoleProvider creates a logging provider for channel
func NewConsoleProvider(channel Channel, log zerolog.Logger) *ConsoleProvider {
	return &ConsoleProvider{channel: channel, log: log}
}

func (p *ConsoleProvider) Name() string { return "console_" + string(p.channel) }

// Send logs the notification
func (p *ConsoleProvider) Send(ctx context.Context, n *Notification) error {
	evt := p.log.Info().
		Str("notification_id", n.ID).
		Str("channel", string(n.Channel)).
		Str("level", string(n.Level)).
		Str("priority", string(n.Priority)).
		Str("recipient", n.RecipientID)
	if n.Email != "" {
		evt = evt.Str("email", n.Email)
	}
	if n.Phone != "" {
		evt = evt.Str("phone", n.Phone)
	}
	evt.Str("subject", n.Subject).Msg(n.Message)
	return nil
}
