// Package simulation drives the demo hospital, stock and donor activity. A
// single dispatcher owns every timer so simulated changes go through the
// same services as human ones.
package simulation

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bloodconnect/platform/internal/bloodtype"
	"github.com/bloodconnect/platform/internal/donation"
	"github.com/bloodconnect/platform/internal/hospital"
	"github.com/bloodconnect/platform/internal/inventory"
	"github.com/bloodconnect/platform/internal/request/domain"
	"github.com/bloodconnect/platform/internal/request/workflow"
	"github.com/bloodconnect/platform/internal/shared/config"
	"github.com/bloodconnect/platform/internal/shared/errors"
	"github.com/bloodconnect/platform/internal/shared/events"
	"github.com/bloodconnect/platform/internal/shared/types"
)

const consumerName = "simulation-dispatcher"

// Dispatcher schedules automatic hospital replies, stock drift and donor
// offer arrivals
type Dispatcher struct {
	cfg       config.SimulationConfig
	requests  *workflow.Service
	stock     *inventory.Service
	hospitals *hospital.Service
	donations *donation.Service
	bus       events.EventBus
	log       zerolog.Logger
	now       func() time.Time

	mu        sync.Mutex
	rnd       *rand.Rand
	due       map[string]time.Time
	nextDrift time.Time
	nextOffer time.Time
	running   bool
}

// NewDispatcher creates a dispatcher. donations may be nil to disable offer
// arrivals.
func NewDispatcher(
	cfg config.SimulationConfig,
	requests *workflow.Service,
	stock *inventory.Service,
	hospitals *hospital.Service,
	donations *donation.Service,
	bus events.EventBus,
	log zerolog.Logger,
) *Dispatcher {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Dispatcher{
		cfg:       cfg,
		requests:  requests,
		stock:     stock,
		hospitals: hospitals,
		donations: donations,
		bus:       bus,
		log:       log.With().Str("component", "simulation").Logger(),
		now:       time.Now,
		rnd:       rand.New(rand.NewSource(seed)),
		due:       make(map[string]time.Time),
	}
}

// SetClock overrides the time source
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

// Run subscribes to new requests and drives all timers until ctx is done
func (d *Dispatcher) Run(ctx context.Context) error {
	if err := d.bus.Subscribe(ctx, string(domain.EventTypeSubmitted), consumerName, d.onSubmitted); err != nil {
		return err
	}

	now := d.now()
	d.mu.Lock()
	d.running = true
	d.nextDrift = now.Add(d.cfg.DriftInterval)
	d.nextOffer = now.Add(d.cfg.OfferInterval)
	d.mu.Unlock()

	ticker := time.NewTicker(d.pollInterval())
	defer ticker.Stop()

	d.log.Info().
		Dur("response_delay", d.cfg.ResponseDelay).
		Float64("approval_rate", d.cfg.ApprovalRate).
		Dur("drift_interval", d.cfg.DriftInterval).
		Msg("simulation dispatcher started")

	for {
		select {
		case <-ctx.Done():
			d.mu.Lock()
			d.running = false
			d.mu.Unlock()
			d.log.Info().Msg("simulation dispatcher stopped")
			return nil
		case <-ticker.C:
			d.Step(ctx, d.now())
		}
	}
}

func (d *Dispatcher) pollInterval() time.Duration {
	interval := time.Second
	if d.cfg.ResponseDelay > 0 && d.cfg.ResponseDelay < interval {
		interval = d.cfg.ResponseDelay
	}
	return interval
}

func (d *Dispatcher) onSubmitted(ctx context.Context, event events.Event) error {
	if event.CorrelationID == "" {
		return nil
	}
	d.Schedule(event.CorrelationID, d.now())
	return nil
}

// Schedule queues an automatic reply for requestID, ResponseDelay after at
func (d *Dispatcher) Schedule(requestID string, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.due[requestID] = at.Add(d.cfg.ResponseDelay)
}

// Step fires everything due at now
func (d *Dispatcher) Step(ctx context.Context, now time.Time) TickResult {
	result := TickResult{At: now}

	d.mu.Lock()
	var ready []string
	for id, at := range d.due {
		if !now.Before(at) {
			ready = append(ready, id)
			delete(d.due, id)
		}
	}
	driftDue := d.cfg.DriftInterval > 0 && !d.nextDrift.IsZero() && !now.Before(d.nextDrift)
	if driftDue {
		d.nextDrift = now.Add(d.cfg.DriftInterval)
	}
	offerDue := d.donations != nil && d.cfg.OfferInterval > 0 && !d.nextOffer.IsZero() && !now.Before(d.nextOffer)
	if offerDue {
		d.nextOffer = now.Add(d.cfg.OfferInterval)
	}
	d.mu.Unlock()

	sort.Strings(ready)
	for _, id := range ready {
		if out, err := d.Respond(ctx, id); err == nil {
			result.Responses = append(result.Responses, *out)
		}
	}
	if driftDue {
		result.Drift = d.drift(ctx)
	}
	if offerDue {
		if offer, err := d.ArriveOffer(ctx); err == nil {
			result.OfferID = offer.ID.String()
		}
	}
	return result
}

// Tick forces one drift round and one offer arrival, and answers every
// scheduled request immediately
func (d *Dispatcher) Tick(ctx context.Context) TickResult {
	now := d.now()
	result := TickResult{At: now}

	d.mu.Lock()
	ready := make([]string, 0, len(d.due))
	for id := range d.due {
		ready = append(ready, id)
	}
	d.due = make(map[string]time.Time)
	d.mu.Unlock()

	sort.Strings(ready)
	for _, id := range ready {
		if out, err := d.Respond(ctx, id); err == nil {
			result.Responses = append(result.Responses, *out)
		}
	}
	result.Drift = d.drift(ctx)
	if d.donations != nil {
		if offer, err := d.ArriveOffer(ctx); err == nil {
			result.OfferID = offer.ID.String()
		}
	}
	return result
}

// Respond approves or rejects requestID through the workflow. A request that
// is no longer PENDING is left untouched and the outcome is marked lost.
func (d *Dispatcher) Respond(ctx context.Context, requestID string) (*Outcome, error) {
	d.mu.Lock()
	approve := d.rnd.Float64() < d.cfg.ApprovalRate
	delete(d.due, requestID)
	d.mu.Unlock()

	cmd := workflow.Command{Action: domain.ActionApprove, Actor: domain.SystemActor}
	if !approve {
		cmd.Action = domain.ActionReject
		cmd.Reason = domain.RejectInsufficientStock
		cmd.Notes = "Automatic hospital response"
	}
	out := &Outcome{RequestID: requestID, Action: cmd.Action}

	req, err := d.requests.Transition(ctx, requestID, cmd)
	switch {
	case err == nil:
		out.Applied = true
		out.Status = req.Status
	case errors.IsConflict(err):
		out.Lost = true
		out.Reason = errors.As(err).Message
		d.log.Info().Str("request_id", requestID).Str("action", string(cmd.Action)).Msg("automatic response lost, request already decided")
	default:
		d.log.Error().Err(err).Str("request_id", requestID).Msg("automatic response failed")
		return nil, err
	}
	return out, nil
}

// Collect marks an approved request as collected
func (d *Dispatcher) Collect(ctx context.Context, requestID string) (*domain.Request, error) {
	req, err := d.requests.Transition(ctx, requestID, workflow.Command{
		Action: domain.ActionComplete,
		Actor:  domain.SystemActor,
	})
	if err != nil {
		return nil, err
	}
	d.log.Info().Str("request_id", requestID).Msg("simulated blood collection")
	return req, nil
}

// drift nudges every stock card by up to DriftMax units in either direction
func (d *Dispatcher) drift(ctx context.Context) []Drift {
	hospitals, err := d.hospitals.List(ctx, hospital.ListFilter{})
	if err != nil {
		d.log.Error().Err(err).Msg("drift: failed to list hospitals")
		return nil
	}

	var out []Drift
	for _, h := range hospitals {
		cards, err := d.stock.Snapshot(ctx, h.ID)
		if err != nil {
			d.log.Warn().Err(err).Str("hospital_id", h.ID.String()).Msg("drift: no stock")
			continue
		}
		for _, c := range cards {
			delta := d.delta(c.Units)
			if delta == 0 {
				continue
			}
			card, err := d.stock.Adjust(ctx, h.ID, c.BloodType, delta, "simulated drift")
			if err != nil {
				d.log.Error().Err(err).Str("hospital_id", h.ID.String()).Msg("drift: adjust failed")
				continue
			}
			out = append(out, Drift{HospitalID: h.ID, BloodType: c.BloodType, Delta: delta, Units: card.Units})
		}
	}
	d.log.Debug().Int("changes", len(out)).Msg("stock drift applied")
	return out
}

// delta picks a change in [-DriftMax, DriftMax]. It never drives units
// below zero or drifts them upward past maxSimulatedUnits.
func (d *Dispatcher) delta(units int) int {
	limit := d.cfg.DriftMax
	if limit <= 0 {
		return 0
	}
	d.mu.Lock()
	delta := d.rnd.Intn(2*limit+1) - limit
	d.mu.Unlock()

	if units+delta < 0 {
		delta = -units
	}
	// the cap only stops upward drift; stock set above it drains slowly
	if delta > 0 && units+delta > maxSimulatedUnits {
		delta = max(maxSimulatedUnits-units, 0)
	}
	return delta
}

// ArriveOffer creates a pending donation offer from a simulated donor
func (d *Dispatcher) ArriveOffer(ctx context.Context) (*donation.Offer, error) {
	hospitals, err := d.hospitals.List(ctx, hospital.ListFilter{})
	if err != nil {
		return nil, err
	}
	if len(hospitals) == 0 {
		return nil, errors.NotFound("hospital", "")
	}

	all := bloodtype.All()
	d.mu.Lock()
	h := hospitals[d.rnd.Intn(len(hospitals))]
	name := simulatedDonors[d.rnd.Intn(len(simulatedDonors))]
	bt := all[d.rnd.Intn(len(all))]
	d.mu.Unlock()

	offer, err := d.donations.CreateOffer(ctx, donation.OfferInput{
		DonorID:    types.NewDeterministicID("simulated-donor", name),
		DonorName:  name,
		BloodType:  string(bt),
		HospitalID: h.ID,
		Note:       "Walk-in donor",
	})
	if err != nil {
		d.log.Error().Err(err).Msg("failed to create simulated offer")
		return nil, err
	}
	return offer, nil
}

// Status reports the dispatcher state
func (d *Dispatcher) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Status{
		Running:        d.running,
		PendingReplies: len(d.due),
		NextDrift:      d.nextDrift,
		NextOffer:      d.nextOffer,
	}
}
