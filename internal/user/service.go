package user

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/bloodconnect/platform/internal/hospital"
	"github.com/bloodconnect/platform/internal/notification"
	"github.com/bloodconnect/platform/internal/shared/errors"
	"github.com/bloodconnect/platform/internal/shared/events"
	"github.com/bloodconnect/platform/internal/shared/types"
)

// Event types published by the user service
const (
	EventCreated       = "user.created"
	EventStatusChanged = "user.status_changed"
)

// HospitalDirectory checks hospital assignments
type HospitalDirectory interface {
	Get(ctx context.Context, id types.ID) (*hospital.Hospital, error)
}

// PreferenceStore holds notification preferences
type PreferenceStore interface {
	GetUserPreferences(userID string) notification.UserPreferences
	SetUserPreferences(prefs *notification.UserPreferences)
}

// Service manages the user directory
type Service struct {
	repo      Repository
	hospitals HospitalDirectory
	prefs     PreferenceStore
	bus       events.EventBus
	log       zerolog.Logger
	now       func() time.Time
}

// NewService creates a user service. hospitals, prefs and bus may be nil.
func NewService(repo Repository, hospitals HospitalDirectory, prefs PreferenceStore, bus events.EventBus, log zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		hospitals: hospitals,
		prefs:     prefs,
		bus:       bus,
		log:       log.With().Str("component", "user").Logger(),
		now:       time.Now,
	}
}

// Create adds a user. Donors are opted in to emergency alerts for their type.
func (s *Service) Create(ctx context.Context, in CreateInput) (*User, error) {
	u, err := NewUser(in, s.now().UTC())
	if err != nil {
		return nil, err
	}

	if !u.HospitalID.IsZero() && s.hospitals != nil {
		if _, err := s.hospitals.Get(ctx, u.HospitalID); errors.Is(err, errors.ErrNotFound) {
			return nil, errors.Validation("user is invalid", map[string]string{"hospital_id": "unknown hospital"})
		} else if err != nil {
			return nil, err
		}
	}

	if err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}

	if u.Role == RoleDonor && s.prefs != nil {
		prefs := s.prefs.GetUserPreferences(notification.UserRecipient(u.ID.String()))
		prefs.EmergencyAlerts = true
		prefs.EmergencyBloodTypes = []string{string(u.BloodType)}
		s.prefs.SetUserPreferences(&prefs)
	}

	s.publish(ctx, EventCreated, u)
	s.log.Info().Str("user_id", u.ID.String()).Str("role", string(u.Role)).Msg("user created")
	return u, nil
}

// Get returns a user by id
func (s *Service) Get(ctx context.Context, id types.ID) (*User, error) {
	return s.repo.Get(ctx, id)
}

// List returns users matching filter and the total match count
func (s *Service) List(ctx context.Context, filter ListFilter) ([]User, int, error) {
	if filter.Role != "" && !filter.Role.Valid() {
		return nil, 0, errors.BadRequest("unknown role")
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, errors.BadRequest("unknown status")
	}
	return s.repo.List(ctx, filter)
}

// SetStatus activates or suspends a user
func (s *Service) SetStatus(ctx context.Context, id types.ID, status Status) (*User, error) {
	if !status.Valid() {
		return nil, errors.Validation("invalid status", map[string]string{"status": "status must be active or suspended"})
	}

	u, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Status == status {
		return u, nil
	}

	u.Status = status
	u.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, u); err != nil {
		return nil, err
	}

	s.publish(ctx, EventStatusChanged, u)
	s.log.Info().Str("user_id", u.ID.String()).Str("status", string(status)).Msg("user status changed")
	return u, nil
}

// Authenticate resolves an active user by email
func (s *Service) Authenticate(ctx context.Context, email string) (*User, error) {
	u, err := s.repo.GetByEmail(ctx, email)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, errors.Unauthorized("unknown account")
	}
	if err != nil {
		return nil, err
	}
	if u.Status != StatusActive {
		return nil, errors.Forbidden("account is suspended")
	}
	return u, nil
}

// SeedDemo creates the demo directory, skipping existing accounts
func (s *Service) SeedDemo(ctx context.Context) error {
	for _, in := range DemoUsers() {
		if _, err := s.Create(ctx, in); err != nil && !errors.Is(err, errors.ErrConflict) {
			return err
		}
	}
	return nil
}

func (s *Service) publish(ctx context.Context, eventType string, u *User) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, events.NewEvent(eventType, "user", *u)); err != nil {
		s.log.Error().Err(err).Str("event_type", eventType).Msg("failed to publish user event")
	}
}
