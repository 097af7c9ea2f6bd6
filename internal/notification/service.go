package notification

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bloodconnect/platform/internal/shared/metrics"
)

var (
	// ErrSuppressed means the recipient's preferences filtered the notification
	ErrSuppressed = errors.New("notification suppressed by preferences")
	// ErrBufferFull means the delivery queue is saturated
	ErrBufferFull = errors.New("notification buffer full")
	// ErrNotFound is returned by Dismiss for unknown ids
	ErrNotFound = errors.New("notification not found")
)

// Provider delivers notifications on one channel
type Provider interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Broadcaster pushes live updates to connected browsers
type Broadcaster interface {
	Publish(topic, kind string, payload any)
}

// ServiceConfig holds service configuration
type ServiceConfig struct {
	Workers         int
	BufferSize      int
	RetryAttempts   int
	RetryDelay      time.Duration
	DefaultDuration time.Duration
	// InboxSize bounds stored toasts per recipient
	InboxSize int
}

// DefaultServiceConfig returns default configuration
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Workers:         4,
		BufferSize:      1000,
		RetryAttempts:   3,
		RetryDelay:      2 * time.Second,
		DefaultDuration: 5 * time.Second,
		InboxSize:       50,
	}
}

// Service is the single notification service shared by every page and
// component. Toasts are stored per recipient immediately; delivery through
// providers and the live broadcaster runs on a worker pool.
type Service struct {
	providers   map[Channel]Provider
	broadcaster Broadcaster

	mu    sync.RWMutex
	inbox map[string][]*Notification
	byID  map[string]*Notification
	stats Stats
	prefs map[string]*UserPreferences

	notifCh chan *Notification

	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	config ServiceConfig
	log    zerolog.Logger
	now    func() time.Time
}

// NewService creates a new notification service
func NewService(config ServiceConfig, log zerolog.Logger) *Service {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.DefaultDuration <= 0 {
		config.DefaultDuration = 5 * time.Second
	}
	if config.InboxSize <= 0 {
		config.InboxSize = 50
	}
	return &Service{
		providers: make(map[Channel]Provider),
		inbox:     make(map[string][]*Notification),
		byID:      make(map[string]*Notification),
		stats: Stats{
			ByChannel: make(map[Channel]int64),
			ByLevel:   make(map[Level]int64),
		},
		prefs:   make(map[string]*UserPreferences),
		notifCh: make(chan *Notification, config.BufferSize),
		stopCh:  make(chan struct{}),
		config:  config,
		log:     log,
		now:     time.Now,
	}
}

// RegisterProvider sets the provider for a channel
func (s *Service) RegisterProvider(channel Channel, p Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[channel] = p
}

// SetBroadcaster sets the live fan-out target
func (s *Service) SetBroadcaster(b Broadcaster) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcaster = b
}

// SetClock overrides the time source
func (s *Service) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Start starts the notification workers
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("service already started")
	}
	s.started = true
	s.mu.Unlock()

	for i := 0; i < s.config.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}

	return nil
}

// Stop stops the workers and waits for them to exit
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("service not started")
	}
	s.started = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	return nil
}

// Notify sends an in-app toast. A zero duration uses the default (5s).
func (s *Service) Notify(ctx context.Context, recipientID, message string, level Level, duration time.Duration) (*Notification, error) {
	n := &Notification{
		Channel:     ChannelInApp,
		Level:       level,
		Priority:    PriorityNormal,
		RecipientID: recipientID,
		Message:     message,
		Duration:    duration,
	}
	if level == LevelError {
		n.Priority = PriorityHigh
	}
	if err := s.SendNotification(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// SendNotification validates preferences, stores in-app notifications and
// queues delivery.
func (s *Service) SendNotification(ctx context.Context, n *Notification) error {
	s.mu.Lock()
	now := s.now()

	if n.ID == "" {
		n.ID = "ntf-" + uuid.New().String()
	}
	if n.Channel == "" {
		n.Channel = ChannelInApp
	}
	if n.Level == "" {
		n.Level = LevelInfo
	}
	if n.Priority == "" {
		n.Priority = PriorityNormal
	}
	if n.Duration <= 0 {
		n.Duration = s.config.DefaultDuration
	}
	n.CreatedAt = now
	n.ExpiresAt = now.Add(n.Duration)
	n.Status = StatusPending

	if err := s.applyPreferences(n, now); err != nil {
		s.mu.Unlock()
		return err
	}

	if n.Channel == ChannelInApp {
		s.storeLocked(n)
	}
	s.mu.Unlock()

	select {
	case s.notifCh <- n:
		return nil
	default:
		s.log.Warn().Str("notification_id", n.ID).Msg("notification buffer full")
		return ErrBufferFull
	}
}

func (s *Service) storeLocked(n *Notification) {
	box := append(s.inbox[n.RecipientID], n)
	if len(box) > s.config.InboxSize {
		for _, old := range box[:len(box)-s.config.InboxSize] {
			delete(s.byID, old.ID)
		}
		box = box[len(box)-s.config.InboxSize:]
	}
	s.inbox[n.RecipientID] = box
	s.byID[n.ID] = n
}

func (s *Service) worker(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case n := <-s.notifCh:
			s.process(ctx, n)
		}
	}
}

// process delivers one notification and schedules a retry on failure
func (s *Service) process(ctx context.Context, n *Notification) {
	var err error

	s.mu.RLock()
	provider := s.providers[n.Channel]
	broadcaster := s.broadcaster
	s.mu.RUnlock()

	switch {
	case n.Channel == ChannelInApp:
		if broadcaster != nil {
			broadcaster.Publish(n.RecipientID, "notification", s.snapshot(n))
		}
	case provider != nil:
		err = provider.Send(ctx, n)
	default:
		err = fmt.Errorf("%s provider not configured", n.Channel)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		n.ErrorMessage = err.Error()
		n.RetryCount++

		if n.RetryCount >= s.config.RetryAttempts {
			n.Status = StatusFailed
			s.updateStats(n, false)
			s.log.Error().Err(err).Str("notification_id", n.ID).Str("channel", string(n.Channel)).Msg("notification delivery failed")
			return
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			select {
			case <-time.After(s.config.RetryDelay):
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
			select {
			case s.notifCh <- n:
			default:
			}
		}()
		return
	}

	sentAt := s.now()
	n.SentAt = &sentAt
	if n.Status == StatusPending {
		n.Status = StatusSent
	}
	s.updateStats(n, true)
}

func (s *Service) snapshot(n *Notification) Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *n
}

func (s *Service) updateStats(n *Notification, success bool) {
	s.stats.TotalSent++
	s.stats.ByChannel[n.Channel]++
	s.stats.ByLevel[n.Level]++

	if success {
		s.stats.TotalDelivered++
	} else {
		s.stats.TotalFailed++
	}
	s.stats.DeliveryRate = float64(s.stats.TotalDelivered) / float64(s.stats.TotalSent)
	metrics.RecordNotification(string(n.Channel), string(n.Level), success)
}

// applyPreferences must be called with s.mu held
func (s *Service) applyPreferences(n *Notification, now time.Time) error {
	prefs := s.prefs[n.RecipientID]
	if prefs == nil {
		return nil
	}

	critical := prefs.AlwaysAllowCritical && n.Priority == PriorityCritical

	switch n.Channel {
	case ChannelInApp:
		if !prefs.EnableInApp {
			return ErrSuppressed
		}
		// Toasts are shown while the user is looking; quiet hours do not apply
		return nil
	case ChannelPush:
		if !prefs.EnablePush {
			return ErrSuppressed
		}
	case ChannelEmail:
		if !prefs.EnableEmail {
			return ErrSuppressed
		}
		if priorityOrder[n.Priority] < priorityOrder[prefs.EmailMinPriority] && !critical {
			return ErrSuppressed
		}
	case ChannelSMS:
		if !prefs.EnableSMS {
			return ErrSuppressed
		}
		if priorityOrder[n.Priority] < priorityOrder[prefs.SMSMinPriority] && !critical {
			return ErrSuppressed
		}
	}

	if prefs.inQuietHours(now.Format("15:04")) && !critical {
		return ErrSuppressed
	}
	return nil
}

// Active returns the recipient's visible toasts, oldest first. Expired and
// dismissed entries are pruned.
func (s *Service) Active(recipientID string) []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	box := s.inbox[recipientID]
	kept := box[:0]
	var out []Notification
	for _, n := range box {
		if !n.Active(now) {
			delete(s.byID, n.ID)
			continue
		}
		kept = append(kept, n)
		out = append(out, *n)
	}
	if len(kept) == 0 {
		delete(s.inbox, recipientID)
	} else {
		s.inbox[recipientID] = kept
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Dismiss removes one toast. The recipient must own it.
func (s *Service) Dismiss(recipientID, notificationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.byID[notificationID]
	if !ok || n.RecipientID != recipientID || n.DismissedAt != nil {
		return ErrNotFound
	}

	now := s.now()
	n.DismissedAt = &now
	n.Status = StatusDismissed
	s.stats.TotalDismissed++

	if s.broadcaster != nil {
		b := s.broadcaster
		go b.Publish(recipientID, "notification.dismissed", map[string]string{"id": notificationID})
	}
	return nil
}

// SetUserPreferences sets user notification preferences
func (s *Service) SetUserPreferences(prefs *UserPreferences) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefs.UpdatedAt = s.now()
	s.prefs[prefs.UserID] = prefs
}

// GetUserPreferences returns stored preferences or the defaults
func (s *Service) GetUserPreferences(userID string) UserPreferences {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.prefs[userID]; ok {
		return *p
	}
	return *DefaultUserPreferences(userID)
}

// EmergencyRecipients returns recipients who opted in to emergency alerts
// for bloodType. accepts reports whether a donor type can serve the request.
func (s *Service) EmergencyRecipients(bloodType string, accepts func(donorType string) bool) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for id, p := range s.prefs {
		if !p.EmergencyAlerts || !p.EnableInApp {
			continue
		}
		if len(p.EmergencyBloodTypes) == 0 {
			out = append(out, id)
			continue
		}
		for _, t := range p.EmergencyBloodTypes {
			if t == bloodType || (accepts != nil && accepts(t)) {
				out = append(out, id)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// GetStats returns notification statistics
func (s *Service) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.stats
	out.ByChannel = make(map[Channel]int64, len(s.stats.ByChannel))
	for k, v := range s.stats.ByChannel {
		out.ByChannel[k] = v
	}
	out.ByLevel = make(map[Level]int64, len(s.stats.ByLevel))
	for k, v := range s.stats.ByLevel {
		out.ByLevel[k] = v
	}
	return out
}
