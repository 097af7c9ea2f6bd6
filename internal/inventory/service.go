package inventory

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/rs/zerolog"

	"github.com/bloodconnect/platform/internal/bloodtype"
	"github.com/bloodconnect/platform/internal/shared/errors"
	"github.com/bloodconnect/platform/internal/shared/events"
	"github.com/bloodconnect/platform/internal/shared/metrics"
	"github.com/bloodconnect/platform/internal/shared/types"
)

// Event types published by the inventory service
const (
	EventAdjusted = "inventory.adjusted"
	EventAlert    = "inventory.alert"
)

// ChangeEvent is the payload of inventory events
type ChangeEvent struct {
	HospitalID    types.ID       `json:"hospital_id"`
	BloodType     bloodtype.Type `json:"blood_type"`
	Delta         int            `json:"delta"`
	Units         int            `json:"units"`
	Level         Level          `json:"level"`
	PreviousLevel Level          `json:"previous_level"`
	Reason        string         `json:"reason,omitempty"`
}

// Service exposes stock cards and publishes changes
type Service struct {
	store Store
	bus   events.EventBus
	log   zerolog.Logger
}

// NewService creates an inventory service
func NewService(store Store, bus events.EventBus, log zerolog.Logger) *Service {
	return &Service{store: store, bus: bus, log: log}
}

// Snapshot returns the eight cards for a hospital in display order
func (s *Service) Snapshot(ctx context.Context, hospitalID types.ID) ([]Card, error) {
	stock, err := s.store.Snapshot(ctx, hospitalID)
	if errors.Is(err, ErrUnknownHospital) {
		return nil, errors.NotFound("inventory", hospitalID.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load inventory")
	}

	cards := make([]Card, 0, len(bloodtype.All()))
	for _, bt := range bloodtype.All() {
		cards = append(cards, NewCard(hospitalID, bt, stock[bt]))
	}
	return cards, nil
}

// Get returns one card
func (s *Service) Get(ctx context.Context, hospitalID types.ID, bt bloodtype.Type) (Card, error) {
	units, err := s.store.Get(ctx, hospitalID, bt)
	if err != nil {
		return Card{}, errors.Wrap(err, "failed to load stock")
	}
	return NewCard(hospitalID, bt, units), nil
}

// Alerts returns the cards at critical or low level
func (s *Service) Alerts(ctx context.Context, hospitalID types.ID) ([]Card, error) {
	cards, err := s.Snapshot(ctx, hospitalID)
	if err != nil {
		return nil, err
	}
	var out []Card
	for _, c := range cards {
		if c.Alerting() {
			out = append(out, c)
		}
	}
	return out, nil
}

// Set overwrites the units of one card
func (s *Service) Set(ctx context.Context, hospitalID types.ID, bt bloodtype.Type, units int, reason string) (Card, error) {
	if !bt.Valid() {
		return Card{}, errors.BadRequest(fmt.Sprintf("unknown blood type %q", bt))
	}
	if units < 0 {
		return Card{}, errors.Validation("invalid stock", map[string]string{"units": "units cannot be negative"})
	}

	before, err := s.store.Get(ctx, hospitalID, bt)
	if err != nil {
		return Card{}, errors.Wrap(err, "failed to load stock")
	}
	if err := s.store.Set(ctx, hospitalID, bt, units); err != nil {
		return Card{}, errors.Wrap(err, "failed to store stock")
	}

	card := NewCard(hospitalID, bt, units)
	s.changed(ctx, card, units-before, LevelFor(before), reason)
	return card, nil
}

// Adjust applies delta, clamping the result at zero
func (s *Service) Adjust(ctx context.Context, hospitalID types.ID, bt bloodtype.Type, delta int, reason string) (Card, error) {
	if !bt.Valid() {
		return Card{}, errors.BadRequest(fmt.Sprintf("unknown blood type %q", bt))
	}

	// before only feeds the event payload; the store applies delta atomically
	before, err := s.store.Get(ctx, hospitalID, bt)
	if err != nil {
		return Card{}, errors.Wrap(err, "failed to load stock")
	}
	units, err := s.store.Adjust(ctx, hospitalID, bt, delta)
	if err != nil {
		return Card{}, errors.Wrap(err, "failed to adjust stock")
	}

	card := NewCard(hospitalID, bt, units)
	s.changed(ctx, card, delta, LevelFor(before), reason)
	return card, nil
}

// Deduct removes units issued for a completed request
func (s *Service) Deduct(ctx context.Context, hospitalID types.ID, bt bloodtype.Type, units int) (Card, error) {
	return s.Adjust(ctx, hospitalID, bt, -units, "request_completed")
}

// Seed initialises a hospital's cards when it has no stock yet
func (s *Service) Seed(ctx context.Context, hospitalID types.ID, stock map[bloodtype.Type]int) error {
	if _, err := s.store.Snapshot(ctx, hospitalID); err == nil {
		return nil
	} else if !errors.Is(err, ErrUnknownHospital) {
		return errors.Wrap(err, "failed to check inventory")
	}

	for _, bt := range bloodtype.All() {
		if err := s.store.Set(ctx, hospitalID, bt, stock[bt]); err != nil {
			return errors.Wrap(err, "failed to seed inventory")
		}
		metrics.RecordStock(hospitalID.String(), string(bt), stock[bt])
	}
	return nil
}

// RandomStock generates a plausible starting inventory
func RandomStock(rnd *rand.Rand) map[bloodtype.Type]int {
	out := make(map[bloodtype.Type]int, len(bloodtype.All()))
	for _, bt := range bloodtype.All() {
		out[bt] = rnd.Intn(46) + 2
	}
	return out
}

func (s *Service) changed(ctx context.Context, card Card, delta int, previous Level, reason string) {
	metrics.RecordStock(card.HospitalID.String(), string(card.BloodType), card.Units)

	payload := ChangeEvent{
		HospitalID:    card.HospitalID,
		BloodType:     card.BloodType,
		Delta:         delta,
		Units:         card.Units,
		Level:         card.Level,
		PreviousLevel: previous,
		Reason:        reason,
	}
	s.publish(ctx, EventAdjusted, payload)

	if card.Level != previous && card.Alerting() {
		s.log.Warn().
			Str("hospital_id", card.HospitalID.String()).
			Str("blood_type", string(card.BloodType)).
			Int("units", card.Units).
			Str("level", string(card.Level)).
			Msg("stock level dropped")
		s.publish(ctx, EventAlert, payload)
	}
}

func (s *Service) publish(ctx context.Context, eventType string, payload ChangeEvent) {
	if s.bus == nil {
		return
	}
	event := events.NewEvent(eventType, "inventory", payload)
	if err := s.bus.Publish(ctx, event); err != nil {
		s.log.Error().Err(err).Str("event_type", eventType).Msg("failed to publish inventory event")
	}
}
