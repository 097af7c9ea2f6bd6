package workflow

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bloodconnect/platform/internal/bloodtype"
	"github.com/bloodconnect/platform/internal/hospital"
	"github.com/bloodconnect/platform/internal/inventory"
	"github.com/bloodconnect/platform/internal/notification"
	"github.com/bloodconnect/platform/internal/request/domain"
	"github.com/bloodconnect/platform/internal/shared/auth"
	"github.com/bloodconnect/platform/internal/shared/errors"
	"github.com/bloodconnect/platform/internal/shared/events"
	"github.com/bloodconnect/platform/internal/shared/metrics"
	"github.com/bloodconnect/platform/internal/shared/types"
)

// maxIDAttempts bounds id generation retries on collision
const maxIDAttempts = 16

// HospitalDirectory resolves the hospital a request is assigned to
type HospitalDirectory interface {
	Get(ctx context.Context, id types.ID) (*hospital.Hospital, error)
}

// StockIssuer removes issued units from a hospital's inventory
type StockIssuer interface {
	Deduct(ctx context.Context, hospitalID types.ID, bt bloodtype.Type, units int) (inventory.Card, error)
}

// Notifier shows toasts to users
type Notifier interface {
	Notify(ctx context.Context, recipientID, message string, level notification.Level, duration time.Duration) (*notification.Notification, error)
	EmergencyRecipients(bloodType string, accepts func(donorType string) bool) []string
}

// Command is a state machine command against one request
type Command struct {
	Action domain.Action
	Actor  domain.Actor
	// Reason and Notes apply to reject
	Reason domain.RejectionReason
	Notes  string
	// ExpectedVersion, when set, must equal the stored version
	ExpectedVersion *int
}

// Service is the single authority for blood request state changes. Every
// mutator, human or simulated, goes through Transition.
type Service struct {
	repo      domain.Repository
	queue     notification.HospitalQueue
	notifier  Notifier
	hospitals HospitalDirectory
	stock     StockIssuer
	bus       events.EventBus
	log       zerolog.Logger

	now   func() time.Time
	rndMu sync.Mutex
	rnd   *rand.Rand
}

// NewService creates the workflow service. stock and notifier may be nil.
func NewService(
	repo domain.Repository,
	queue notification.HospitalQueue,
	notifier Notifier,
	hospitals HospitalDirectory,
	stock StockIssuer,
	bus events.EventBus,
	log zerolog.Logger,
) *Service {
	return &Service{
		repo:      repo,
		queue:     queue,
		notifier:  notifier,
		hospitals: hospitals,
		stock:     stock,
		bus:       bus,
		log:       log,
		now:       time.Now,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetClock overrides the time source
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// SetRand overrides the id generator's random source
func (s *Service) SetRand(rnd *rand.Rand) {
	s.rndMu.Lock()
	defer s.rndMu.Unlock()
	s.rnd = rnd
}

func (s *Service) nextID(now time.Time) string {
	s.rndMu.Lock()
	defer s.rndMu.Unlock()
	return domain.GenerateID(now, s.rnd)
}

// ActorFor maps an authenticated user to a workflow actor
func ActorFor(user *auth.User) domain.Actor {
	return domain.Actor{ID: user.ID, Type: user.Role, HospitalID: user.HospitalID}
}

// Submit validates and stores a new PENDING request and mirrors it into the
// assigned hospital's review queue.
func (s *Service) Submit(ctx context.Context, in domain.SubmitInput, actor domain.Actor) (*domain.Request, error) {
	if err := in.Validate(); err != nil {
		s.toast(ctx, notification.UserRecipient(actor.ID.String()), "Please complete all required fields", notification.LevelError)
		return nil, err
	}

	h, err := s.hospitals.Get(ctx, in.HospitalID)
	if errors.Is(err, errors.ErrNotFound) {
		s.toast(ctx, notification.UserRecipient(actor.ID.String()), "Please select a hospital", notification.LevelError)
		return nil, errors.Validation("blood request is invalid", map[string]string{
			"hospital_id": "unknown hospital",
		})
	}
	if err != nil {
		return nil, err
	}
	in.HospitalName = h.Name
	if in.PatientID.IsZero() {
		in.PatientID = actor.ID
	}

	now := s.now().UTC()
	var req *domain.Request
	for attempt := 1; ; attempt++ {
		req, err = domain.NewRequest(s.nextID(now), in, actor, now)
		if err != nil {
			return nil, err
		}
		err = s.repo.Save(ctx, req)
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrDuplicateID) {
			return nil, err
		}
		if attempt == maxIDAttempts {
			s.log.Error().Int("attempts", attempt).Msg("request id space exhausted")
			return nil, errors.Conflict(fmt.Sprintf("could not allocate a request id after %d attempts", attempt))
		}
	}

	s.enqueue(ctx, req, notification.HospitalNewRequest)
	s.publish(ctx, req, actor)
	metrics.RecordRequestSubmitted(string(req.BloodType), string(req.Priority))

	s.log.Info().
		Str("request_id", req.ID).
		Str("hospital_id", req.AssignedHospitalID.String()).
		Str("blood_type", string(req.BloodType)).
		Str("priority", string(req.Priority)).
		Msg("blood request submitted")

	s.toast(ctx, notification.UserRecipient(actor.ID.String()),
		fmt.Sprintf("Request %s submitted to %s", req.ID, req.AssignedHospitalName), notification.LevelSuccess)
	s.toast(ctx, notification.HospitalRecipient(req.AssignedHospitalID.String()),
		fmt.Sprintf("New %s request: %d units of %s", req.Priority, req.Units, req.BloodType), hospitalLevel(req))
	if req.IsEmergency() {
		s.alertDonors(ctx, req)
	}

	return req, nil
}

// Transition applies cmd through the guarded state machine and persists the
// result with optimistic concurrency. A command that loses a race gets a
// version conflict or an invalid transition and changes nothing.
func (s *Service) Transition(ctx context.Context, id string, cmd Command) (*domain.Request, error) {
	req, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if cmd.ExpectedVersion != nil && *cmd.ExpectedVersion != req.Version {
		s.lost(cmd, req, "version")
		return nil, errors.VersionConflict("request", id, *cmd.ExpectedVersion, req.Version)
	}
	if err := authorize(cmd.Actor, req, cmd.Action); err != nil {
		return nil, err
	}

	from := req.Status
	version := req.Version
	now := s.now().UTC()

	switch cmd.Action {
	case domain.ActionApprove:
		err = req.Approve(cmd.Actor, now)
	case domain.ActionReject:
		err = req.Reject(cmd.Actor, cmd.Reason, cmd.Notes, now)
	case domain.ActionComplete:
		err = req.Complete(cmd.Actor, now)
	case domain.ActionCancel:
		err = req.Cancel(cmd.Actor, now)
	default:
		err = errors.BadRequest(fmt.Sprintf("unknown action %q", cmd.Action))
	}
	if err != nil {
		if errors.Is(err, errors.ErrInvalidTransition) {
			s.lost(cmd, req, "transition")
		}
		return nil, err
	}

	if err := s.repo.Update(ctx, req, version); err != nil {
		if errors.Is(err, errors.ErrVersionConflict) {
			s.lost(cmd, req, "version")
		}
		return nil, err
	}

	metrics.RecordRequestTransition(string(from), string(req.Status), cmd.Actor.Type)
	s.publish(ctx, req, cmd.Actor)
	s.log.Info().
		Str("request_id", req.ID).
		Str("from", string(from)).
		Str("to", string(req.Status)).
		Str("actor_type", cmd.Actor.Type).
		Int("version", req.Version).
		Msg("blood request transitioned")

	s.afterTransition(ctx, req)
	return req, nil
}

func (s *Service) afterTransition(ctx context.Context, req *domain.Request) {
	patient := notification.UserRecipient(req.PatientID.String())

	switch req.Status {
	case domain.StatusApproved:
		s.toast(ctx, patient, fmt.Sprintf("Request %s approved by %s", req.ID, req.AssignedHospitalName), notification.LevelSuccess)
	case domain.StatusRejected:
		s.toast(ctx, patient, fmt.Sprintf("Request %s rejected: %s", req.ID, req.RejectionReason.Label()), notification.LevelError)
	case domain.StatusCompleted:
		s.toast(ctx, patient, fmt.Sprintf("Blood for request %s has been collected", req.ID), notification.LevelSuccess)
		if s.stock != nil {
			if _, err := s.stock.Deduct(ctx, req.AssignedHospitalID, req.BloodType, req.Units); err != nil {
				s.log.Error().Err(err).Str("request_id", req.ID).Msg("failed to deduct issued units")
			}
		}
	case domain.StatusCancelled:
		s.toast(ctx, patient, fmt.Sprintf("Request %s cancelled", req.ID), notification.LevelInfo)
		s.enqueue(ctx, req, notification.HospitalRequestCancelled)
	}
}

// lost records a command that arrived after another actor changed the request
func (s *Service) lost(cmd Command, req *domain.Request, kind string) {
	metrics.RecordRequestConflict(string(cmd.Action), kind)
	s.log.Info().
		Str("request_id", req.ID).
		Str("action", string(cmd.Action)).
		Str("status", string(req.Status)).
		Str("actor_type", cmd.Actor.Type).
		Str("conflict", kind).
		Msg("request command lost to a concurrent change")
}

// authorize checks the actor may issue action against req
func authorize(actor domain.Actor, req *domain.Request, action domain.Action) error {
	switch actor.Type {
	case "admin", "system":
		return nil
	}

	switch action {
	case domain.ActionCancel:
		if actor.Type == "patient" && actor.ID == req.PatientID {
			return nil
		}
		return errors.Forbidden("only the requesting patient can cancel")
	default:
		if actor.Type == "hospital" && actor.HospitalID == req.AssignedHospitalID {
			return nil
		}
		return errors.Forbidden("only the assigned hospital can review this request")
	}
}

// Get returns a request by id
func (s *Service) Get(ctx context.Context, id string) (*domain.Request, error) {
	return s.repo.FindByID(ctx, id)
}

// List returns requests matching filter
func (s *Service) List(ctx context.Context, filter domain.ListFilter) ([]domain.Request, int, error) {
	return s.repo.List(ctx, filter)
}

// ListForHospital returns requests assigned to hospitalID
func (s *Service) ListForHospital(ctx context.Context, hospitalID types.ID, filter domain.ListFilter) ([]domain.Request, int, error) {
	return s.repo.FindByHospital(ctx, hospitalID, filter)
}

// ReviewItem is an unseen queue entry joined with its current request, if any
type ReviewItem struct {
	DeliveryID   string                            `json:"delivery_id"`
	Notification notification.HospitalNotification `json:"notification"`
	Request      *domain.Request                   `json:"request,omitempty"`
}

// ReviewQueue returns the hospital's unacknowledged notifications. Entries
// whose request is no longer actionable are acknowledged and skipped.
func (s *Service) ReviewQueue(ctx context.Context, hospitalID types.ID, consumer string, count int) ([]ReviewItem, error) {
	deliveries, err := s.queue.Pending(ctx, hospitalID, consumer, count)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read hospital queue")
	}

	var items []ReviewItem
	var stale []string
	for _, d := range deliveries {
		if d.Notification.RequestID == "" {
			items = append(items, ReviewItem{DeliveryID: d.ID, Notification: d.Notification})
			continue
		}
		req, err := s.repo.FindByID(ctx, d.Notification.RequestID)
		if errors.Is(err, errors.ErrNotFound) {
			stale = append(stale, d.ID)
			continue
		}
		if err != nil {
			return nil, err
		}
		if d.Notification.Type == notification.HospitalNewRequest && req.Status != domain.StatusPending {
			stale = append(stale, d.ID)
			continue
		}
		items = append(items, ReviewItem{DeliveryID: d.ID, Notification: d.Notification, Request: req})
	}

	if len(stale) > 0 {
		if err := s.queue.Ack(ctx, hospitalID, stale...); err != nil {
			s.log.Warn().Err(err).Str("hospital_id", hospitalID.String()).Msg("failed to ack stale notifications")
		}
	}
	return items, nil
}

// Acknowledge marks queue entries as processed
func (s *Service) Acknowledge(ctx context.Context, hospitalID types.ID, deliveryIDs ...string) error {
	if err := s.queue.Ack(ctx, hospitalID, deliveryIDs...); err != nil {
		return errors.Wrap(err, "failed to acknowledge notifications")
	}
	return nil
}

func (s *Service) enqueue(ctx context.Context, req *domain.Request, kind notification.HospitalNotificationType) {
	n := notification.HospitalNotification{
		Type:           kind,
		RequestID:      req.ID,
		PatientName:    req.PatientName,
		BloodType:      string(req.BloodType),
		Units:          req.Units,
		Priority:       string(req.Priority),
		EmergencyLevel: emergencyLevel(req.Priority),
		HospitalID:     req.AssignedHospitalID,
		Timestamp:      req.LastUpdated,
	}
	if _, err := s.queue.Enqueue(ctx, n); err != nil {
		// The request is stored; the hospital still sees it in its request list
		s.log.Error().Err(err).Str("request_id", req.ID).Str("type", string(kind)).Msg("failed to enqueue hospital notification")
	}
}

func (s *Service) publish(ctx context.Context, req *domain.Request, actor domain.Actor) {
	if s.bus == nil {
		req.GetDomainEvents()
		return
	}
	for _, de := range req.GetDomainEvents() {
		event := events.NewEvent(de.Type, "request", de).
			WithActor(actor.ID, actor.Type, actor.HospitalID).
			WithCorrelation(req.ID)
		if err := s.bus.Publish(ctx, event); err != nil {
			s.log.Error().Err(err).Str("event_type", de.Type).Str("request_id", req.ID).Msg("failed to publish request event")
		}
	}
}

func (s *Service) alertDonors(ctx context.Context, req *domain.Request) {
	if s.notifier == nil {
		return
	}
	accepts := func(donor string) bool {
		return bloodtype.CanDonateTo(bloodtype.Type(donor), req.BloodType)
	}
	msg := fmt.Sprintf("Emergency: %s needs %d units of %s", req.AssignedHospitalName, req.Units, req.BloodType)
	for _, recipient := range s.notifier.EmergencyRecipients(string(req.BloodType), accepts) {
		s.toast(ctx, recipient, msg, notification.LevelWarning)
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

func emergencyLevel(p domain.Priority) string {
	switch p {
	case domain.PriorityEmergency:
		return "critical"
	case domain.PriorityUrgent:
		return "high"
	default:
		return "normal"
	}
}

func hospitalLevel(req *domain.Request) notification.Level {
	if req.IsEmergency() {
		return notification.LevelWarning
	}
	return notification.LevelInfo
}
