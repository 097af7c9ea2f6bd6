package hospital

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/bloodconnect/platform/internal/bloodtype"
	"github.com/bloodconnect/platform/internal/inventory"
	"github.com/bloodconnect/platform/internal/shared/errors"
	"github.com/bloodconnect/platform/internal/shared/events"
	"github.com/bloodconnect/platform/internal/shared/types"
)

// EventRegistered is published when a hospital joins
const EventRegistered = "hospital.registered"

// Service manages the hospital registry and availability search
type Service struct {
	repo      Repository
	inventory *inventory.Service
	bus       events.EventBus
	log       zerolog.Logger
	now       func() time.Time
}

// NewService creates a hospital service
func NewService(repo Repository, inv *inventory.Service, bus events.EventBus, log zerolog.Logger) *Service {
	return &Service{repo: repo, inventory: inv, bus: bus, log: log, now: time.Now}
}

// Register validates and stores a new hospital
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Hospital, error) {
	h, err := NewHospital(in, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, h); err != nil {
		return nil, err
	}

	if s.bus != nil {
		event := events.NewEvent(EventRegistered, "hospital", h)
		if err := s.bus.Publish(ctx, event); err != nil {
			s.log.Error().Err(err).Str("hospital_id", h.ID.String()).Msg("failed to publish hospital event")
		}
	}
	return h, nil
}

// Get returns a hospital by id
func (s *Service) Get(ctx context.Context, id types.ID) (*Hospital, error) {
	return s.repo.Get(ctx, id)
}

// List returns hospitals matching filter
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Hospital, error) {
	return s.repo.List(ctx, filter)
}

// SearchAvailability returns active hospitals holding at least units of
// some type compatible with bt, most available first.
func (s *Service) SearchAvailability(ctx context.Context, bt bloodtype.Type, units int) ([]Availability, error) {
	if !bt.Valid() {
		return nil, errors.Validation("invalid search", map[string]string{"blood_type": "a valid blood type is required"})
	}
	if units <= 0 {
		units = 1
	}

	active := StatusActive
	hospitals, err := s.repo.List(ctx, ListFilter{Status: &active})
	if err != nil {
		return nil, err
	}

	compatible := make(map[bloodtype.Type]bool)
	for _, donor := range bloodtype.CompatibleDonors(bt) {
		compatible[donor] = true
	}

	var out []Availability
	for _, h := range hospitals {
		cards, err := s.inventory.Snapshot(ctx, h.ID)
		if errors.Is(err, errors.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}

		a := Availability{Hospital: h, Requested: bt}
		enough := false
		for _, c := range cards {
			if !compatible[c.BloodType] || c.Units == 0 {
				continue
			}
			a.Cards = append(a.Cards, c)
			a.AvailableUnits += c.Units
			if c.BloodType == bt {
				a.ExactUnits = c.Units
			}
			if c.Units >= units {
				enough = true
			}
		}
		if enough {
			out = append(out, a)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].AvailableUnits != out[j].AvailableUnits {
			return out[i].AvailableUnits > out[j].AvailableUnits
		}
		return out[i].Hospital.Name < out[j].Hospital.Name
	})
	return out, nil
}

// SeedDefaults registers the default hospitals and gives each a random
// starting inventory. Existing hospitals and stock are left alone.
func (s *Service) SeedDefaults(ctx context.Context, rnd *rand.Rand) error {
	for _, in := range DefaultHospitals() {
		if _, err := s.Register(ctx, in); err != nil && !errors.Is(err, errors.ErrConflict) {
			return errors.Wrap(err, "failed to seed hospital "+in.ID)
		}
		if err := s.inventory.Seed(ctx, types.ID(in.ID), inventory.RandomStock(rnd)); err != nil {
			return err
		}
	}
	s.log.Info().Int("hospitals", len(DefaultHospitals())).Msg("default hospitals seeded")
	return nil
}
