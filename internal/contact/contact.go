// Package contact stores messages from the public contact form and
// alerts administrators.
package contact

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/bloodconnect/platform/internal/notification"
	"github.com/bloodconnect/platform/internal/shared/errors"
	"github.com/bloodconnect/platform/internal/shared/events"
	"github.com/bloodconnect/platform/internal/shared/types"
	"github.com/bloodconnect/platform/internal/user"
)

// EventSubmitted is published for every stored message
const EventSubmitted = "contact.submitted"

const maxMessageLength = 5000

// Message is one contact form submission
type Message struct {
	ID        types.ID  `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Subject   string    `json:"subject"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Form is the submitted contact form
type Form struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// Validate returns a validation error listing every bad field
func (f Form) Validate() error {
	details := map[string]string{}
	if strings.TrimSpace(f.Name) == "" {
		details["name"] = "name is required"
	}
	if email := strings.TrimSpace(f.Email); email == "" {
		details["email"] = "email is required"
	} else if !user.ValidEmail(strings.ToLower(email)) {
		details["email"] = "enter a valid email address"
	}
	if strings.TrimSpace(f.Subject) == "" {
		details["subject"] = "subject is required"
	}
	if msg := strings.TrimSpace(f.Message); msg == "" {
		details["message"] = "message is required"
	} else if len(msg) > maxMessageLength {
		details["message"] = fmt.Sprintf("message must be at most %d characters", maxMessageLength)
	}
	if len(details) > 0 {
		return errors.Validation("contact form is invalid", details)
	}
	return nil
}

// Repository stores contact messages
type Repository interface {
	Save(ctx context.Context, m *Message) error
	List(ctx context.Context, limit int) ([]Message, error)
}

// Notifier shows toasts
type Notifier interface {
	Notify(ctx context.Context, recipientID, message string, level notification.Level, duration time.Duration) (*notification.Notification, error)
}

// Service handles contact form submissions
type Service struct {
	repo     Repository
	notifier Notifier
	bus      events.EventBus
	log      zerolog.Logger
	now      func() time.Time
}

// NewService creates a contact service. notifier and bus may be nil.
func NewService(repo Repository, notifier Notifier, bus events.EventBus, log zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		notifier: notifier,
		bus:      bus,
		log:      log.With().Str("component", "contact").Logger(),
		now:      time.Now,
	}
}

// Submit validates and stores the form, then alerts administrators
func (s *Service) Submit(ctx context.Context, f Form) (*Message, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	m := &Message{
		ID:        types.NewID(),
		Name:      strings.TrimSpace(f.Name),
		Email:     strings.ToLower(strings.TrimSpace(f.Email)),
		Subject:   strings.TrimSpace(f.Subject),
		Message:   strings.TrimSpace(f.Message),
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.Save(ctx, m); err != nil {
		return nil, err
	}

	if s.notifier != nil {
		msg := fmt.Sprintf("New contact message from %s: %s", m.Name, m.Subject)
		if _, err := s.notifier.Notify(ctx, notification.AdminRecipient, msg, notification.LevelInfo, 0); err != nil {
			s.log.Warn().Err(err).Msg("failed to notify admins")
		}
	}
	if s.bus != nil {
		if err := s.bus.Publish(ctx, events.NewEvent(EventSubmitted, "contact", m)); err != nil {
			s.log.Error().Err(err).Msg("failed to publish contact event")
		}
	}

	s.log.Info().Str("message_id", m.ID.String()).Msg("contact message received")
	return m, nil
}

// List returns the newest messages first
func (s *Service) List(ctx context.Context, limit int) ([]Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.List(ctx, limit)
}

// MemoryRepository keeps messages in process
type MemoryRepository struct {
	mu       sync.RWMutex
	messages []Message
}

// NewMemoryRepository creates an empty repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (m *MemoryRepository) Save(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, *msg)
	return nil
}

func (m *MemoryRepository) List(ctx context.Context, limit int) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Message
	for i := len(m.messages) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.messages[i])
	}
	return out, nil
}

// PostgresRepository stores messages in bloodconnect.contact_messages
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new contact repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Save(ctx context.Context, m *Message) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO bloodconnect.contact_messages (id, name, email, subject, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.Name, m.Email, m.Subject, m.Message, m.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to save contact message")
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context, limit int) ([]Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, email, subject, message, created_at
		FROM bloodconnect.contact_messages
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list contact messages")
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Name, &m.Email, &m.Subject, &m.Message, &m.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan contact message")
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
