package donation

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/bloodconnect/platform/internal/bloodtype"
	"github.com/bloodconnect/platform/internal/hospital"
	"github.com/bloodconnect/platform/internal/inventory"
	"github.com/bloodconnect/platform/internal/notification"
	"github.com/bloodconnect/platform/internal/shared/errors"
	"github.com/bloodconnect/platform/internal/shared/events"
	"github.com/bloodconnect/platform/internal/shared/metrics"
	"github.com/bloodconnect/platform/internal/shared/types"
)

// Event types published by the donation service
const (
	EventOffered   = "donation.offered"
	EventAccepted  = "donation.accepted"
	EventRejected  = "donation.rejected"
	EventCompleted = "donation.completed"
)

// maxUpdateAttempts bounds reloads after a concurrent offer update
const maxUpdateAttempts = 3

// HospitalDirectory resolves hospitals for new offers
type HospitalDirectory interface {
	Get(ctx context.Context, id types.ID) (*hospital.Hospital, error)
}

// StockReceiver adds collected units to a hospital's inventory
type StockReceiver interface {
	Adjust(ctx context.Context, hospitalID types.ID, bt bloodtype.Type, delta int, reason string) (inventory.Card, error)
}

// Notifier shows toasts to users
type Notifier interface {
	Notify(ctx context.Context, recipientID, message string, level notification.Level, duration time.Duration) (*notification.Notification, error)
}

// StatusChange is a requested offer status with its parameters
type StatusChange struct {
	Status        Status
	ScheduledDate time.Time
	Note          string
	VolumeML      int
}

// Service manages donation offers and donor records
type Service struct {
	repo      Repository
	hospitals HospitalDirectory
	stock     StockReceiver
	queue     notification.HospitalQueue
	notifier  Notifier
	bus       events.EventBus
	log       zerolog.Logger
	now       func() time.Time
}

// NewService creates a donation service. queue, notifier and bus may be nil.
func NewService(
	repo Repository,
	hospitals HospitalDirectory,
	stock StockReceiver,
	queue notification.HospitalQueue,
	notifier Notifier,
	bus events.EventBus,
	log zerolog.Logger,
) *Service {
	return &Service{
		repo:      repo,
		hospitals: hospitals,
		stock:     stock,
		queue:     queue,
		notifier:  notifier,
		bus:       bus,
		log:       log,
		now:       time.Now,
	}
}

// SetClock overrides the time source
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// CreateOffer records a PENDING offer and tells the hospital
func (s *Service) CreateOffer(ctx context.Context, in OfferInput) (*Offer, error) {
	var hospitalName string
	if !in.HospitalID.IsZero() {
		h, err := s.hospitals.Get(ctx, in.HospitalID)
		if errors.Is(err, errors.ErrNotFound) {
			return nil, errors.Validation("donation offer is invalid", map[string]string{"hospital_id": "unknown hospital"})
		}
		if err != nil {
			return nil, err
		}
		hospitalName = h.Name
	}

	o, err := NewOffer(in, hospitalName, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if err := s.repo.SaveOffer(ctx, o); err != nil {
		return nil, err
	}

	if s.queue != nil {
		_, err := s.queue.Enqueue(ctx, notification.HospitalNotification{
			Type:       notification.HospitalDonationOffer,
			OfferID:    o.ID.String(),
			DonorName:  o.DonorName,
			BloodType:  string(o.BloodType),
			Units:      1,
			Priority:   "routine",
			HospitalID: o.HospitalID,
			Timestamp:  o.CreatedAt,
		})
		if err != nil {
			s.log.Error().Err(err).Str("offer_id", o.ID.String()).Msg("failed to enqueue donation offer")
		}
	}

	s.activity(ctx, o, "offered", fmt.Sprintf("%s offered to donate %s at %s", o.DonorName, o.BloodType, o.HospitalName))
	s.publish(ctx, EventOffered, o)
	s.toast(ctx, notification.HospitalRecipient(o.HospitalID.String()),
		fmt.Sprintf("New donation offer: %s (%s)", o.DonorName, o.BloodType), notification.LevelInfo)
	return o, nil
}

// GetOffer returns an offer by id
func (s *Service) GetOffer(ctx context.Context, id types.ID) (*Offer, error) {
	return s.repo.GetOffer(ctx, id)
}

// ListOffers returns offers matching filter, newest first
func (s *Service) ListOffers(ctx context.Context, filter OfferFilter) ([]Offer, error) {
	return s.repo.ListOffers(ctx, filter)
}

// Accept schedules a PENDING offer
func (s *Service) Accept(ctx context.Context, id types.ID, scheduled time.Time) (*Offer, error) {
	return s.UpdateStatus(ctx, id, StatusChange{Status: StatusAccepted, ScheduledDate: scheduled})
}

// Reject declines a PENDING offer
func (s *Service) Reject(ctx context.Context, id types.ID, note string) (*Offer, error) {
	return s.UpdateStatus(ctx, id, StatusChange{Status: StatusRejected, Note: note})
}

// Complete records an ACCEPTED offer as collected
func (s *Service) Complete(ctx context.Context, id types.ID, volumeML int) (*Offer, error) {
	return s.UpdateStatus(ctx, id, StatusChange{Status: StatusCompleted, VolumeML: volumeML})
}

// UpdateStatus moves an offer to change.Status. It is idempotent: asking for
// the status the offer already has returns the stored offer unchanged, so
// repeated or concurrent calls apply side effects exactly once.
func (s *Service) UpdateStatus(ctx context.Context, id types.ID, change StatusChange) (*Offer, error) {
	for attempt := 1; ; attempt++ {
		o, err := s.repo.GetOffer(ctx, id)
		if err != nil {
			return nil, err
		}
		if o.Status == change.Status {
			return o, nil
		}

		now := s.now().UTC()
		version := o.Version
		switch change.Status {
		case StatusAccepted:
			scheduled := change.ScheduledDate
			if scheduled.IsZero() {
				scheduled = now.Add(24 * time.Hour)
			}
			err = o.Accept(scheduled, now)
		case StatusRejected:
			err = o.Reject(change.Note, now)
		case StatusCompleted:
			err = o.Complete(change.VolumeML, now)
		default:
			err = errors.BadRequest(fmt.Sprintf("cannot move an offer to %s", change.Status))
		}
		if err != nil {
			return nil, err
		}

		err = s.repo.UpdateOffer(ctx, o, version)
		if errors.Is(err, errors.ErrVersionConflict) && attempt < maxUpdateAttempts {
			continue
		}
		if err != nil {
			return nil, err
		}

		s.applied(ctx, o)
		return o, nil
	}
}

// applied runs the side effects of a stored status change
func (s *Service) applied(ctx context.Context, o *Offer) {
	donor := notification.UserRecipient(o.DonorID.String())

	switch o.Status {
	case StatusAccepted:
		s.activity(ctx, o, "accepted", fmt.Sprintf("%s accepted the donation from %s", o.HospitalName, o.DonorName))
		s.publish(ctx, EventAccepted, o)
		s.toast(ctx, donor, fmt.Sprintf("%s scheduled your donation for %s", o.HospitalName, o.ScheduledDate.Format("Jan 2, 15:04")), notification.LevelSuccess)
	case StatusRejected:
		s.activity(ctx, o, "rejected", fmt.Sprintf("%s declined the donation from %s", o.HospitalName, o.DonorName))
		s.publish(ctx, EventRejected, o)
		s.toast(ctx, donor, fmt.Sprintf("%s could not accept your donation", o.HospitalName), notification.LevelWarning)
	case StatusCompleted:
		s.completed(ctx, o)
	}

	s.log.Info().
		Str("offer_id", o.ID.String()).
		Str("status", string(o.Status)).
		Int("version", o.Version).
		Msg("donation offer updated")
}

func (s *Service) completed(ctx context.Context, o *Offer) {
	elig := Eligibility{DonorID: o.DonorID}
	if current, err := s.repo.GetEligibility(ctx, o.DonorID); err == nil {
		elig = *current
	} else if !errors.Is(err, errors.ErrNotFound) {
		s.log.Error().Err(err).Str("donor_id", o.DonorID.String()).Msg("failed to load eligibility")
	}
	elig = elig.Record(o.DonorName, *o.CompletedDate)
	if err := s.repo.UpsertEligibility(ctx, elig); err != nil {
		s.log.Error().Err(err).Str("donor_id", o.DonorID.String()).Msg("failed to store eligibility")
	}

	if s.stock != nil {
		if _, err := s.stock.Adjust(ctx, o.HospitalID, o.BloodType, o.Units(), "donation_completed"); err != nil {
			s.log.Error().Err(err).Str("offer_id", o.ID.String()).Msg("failed to add donated units")
		}
	}

	metrics.RecordDonationCompleted(string(o.BloodType))
	s.activity(ctx, o, "completed", fmt.Sprintf("%s donated %d ml of %s", o.DonorName, o.VolumeML, o.BloodType))
	s.publish(ctx, EventCompleted, o)
	s.toast(ctx, notification.UserRecipient(o.DonorID.String()),
		fmt.Sprintf("Thank you! Next eligible on %s", elig.NextEligibleDate.Format("Jan 2, 2006")), notification.LevelSuccess)
}

// Eligibility returns the donor's countdown record
func (s *Service) Eligibility(ctx context.Context, donorID types.ID) (*Eligibility, error) {
	return s.repo.GetEligibility(ctx, donorID)
}

// SetAvailability stores the donor's availability toggle
func (s *Service) SetAvailability(ctx context.Context, donorID types.ID, available bool) (*Availability, error) {
	a := Availability{DonorID: donorID, Available: available, UpdatedAt: s.now().UTC()}
	if err := s.repo.SetAvailability(ctx, a); err != nil {
		return nil, err
	}

	msg := "You are now marked as available to donate"
	if !available {
		msg = "You are now marked as unavailable"
	}
	s.toast(ctx, notification.UserRecipient(donorID.String()), msg, notification.LevelInfo)
	return &a, nil
}

// Availability returns the donor's toggle, defaulting to available
func (s *Service) Availability(ctx context.Context, donorID types.ID) (*Availability, error) {
	a, err := s.repo.GetAvailability(ctx, donorID)
	if errors.Is(err, errors.ErrNotFound) {
		return &Availability{DonorID: donorID, Available: true}, nil
	}
	return a, err
}

// Activities returns recent feed entries, for one donor or for everyone
func (s *Service) Activities(ctx context.Context, donorID types.ID, limit int) ([]Activity, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.repo.ListActivities(ctx, donorID, limit)
}

func (s *Service) activity(ctx context.Context, o *Offer, kind, message string) {
	a := Activity{
		ID:         types.NewID(),
		DonorID:    o.DonorID,
		HospitalID: o.HospitalID,
		OfferID:    o.ID,
		Kind:       kind,
		Message:    message,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.repo.AppendActivity(ctx, a); err != nil {
		s.log.Error().Err(err).Str("offer_id", o.ID.String()).Msg("failed to record activity")
	}
}

func (s *Service) publish(ctx context.Context, eventType string, o *Offer) {
	if s.bus == nil {
		return
	}
	event := events.NewEvent(eventType, "donation", o.Clone()).WithCorrelation(o.ID.String())
	if err := s.bus.Publish(ctx, event); err != nil {
		s.log.Error().Err(err).Str("event_type", eventType).Msg("failed to publish donation event")
	}
}

func (s *Service) toast(ctx context.Context, recipient, message string, level notification.Level) {
	if s.notifier == nil {
		return
	}
	if _, err := s.notifier.Notify(ctx, recipient, message, level, 0); err != nil && !errors.Is(err, notification.ErrSuppressed) {
		s.log.Warn().Err(err).Str("recipient", recipient).Msg("failed to notify")
	}
}
