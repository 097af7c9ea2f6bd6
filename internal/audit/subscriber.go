package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/bloodconnect/platform/internal/shared/events"
	"github.com/bloodconnect/platform/internal/shared/metrics"
	"github.com/bloodconnect/platform/internal/shared/types"
)

// Patterns are the event families written to the audit chain
var Patterns = []string{"request.*", "donation.*", "inventory.*", "user.*", "contact.*"}

// Subscriber listens to domain events and creates audit entries
type Subscriber struct {
	repo AuditRepository
	bus  events.EventBus
	log  zerolog.Logger
}

// NewSubscriber creates a new audit subscriber
func NewSubscriber(repo AuditRepository, bus events.EventBus, log zerolog.Logger) *Subscriber {
	return &Subscriber{repo: repo, bus: bus, log: log.With().Str("component", "audit").Logger()}
}

// Start subscribes to every audited event family
func (s *Subscriber) Start(ctx context.Context) error {
	for _, pattern := range Patterns {
		consumer := "audit-" + strings.TrimSuffix(pattern, ".*")
		if err := s.bus.Subscribe(ctx, pattern, consumer, s.handleEvent); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", pattern, err)
		}
	}
	return nil
}

func (s *Subscriber) handleEvent(ctx context.Context, event events.Event) error {
	entry := EntryFromEvent(event)
	if entry == nil {
		return nil
	}
	if err := s.repo.Append(ctx, entry); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	metrics.RecordAuditEntry()
	s.log.Debug().Str("action", entry.Action).Str("resource_id", entry.ResourceID).Int64("sequence", entry.Sequence).Msg("audited")
	return nil
}

// EntryFromEvent converts a domain event into an unchained audit entry, or
// nil for events without a resource family
func EntryFromEvent(event events.Event) *AuditEntry {
	parts := strings.SplitN(event.Type, ".", 2)
	if len(parts) < 2 {
		return nil
	}
	resourceType := parts[0]
	changes := toMap(event.Data)

	entry := &AuditEntry{
		ID:            types.NewID(),
		Timestamp:     event.Timestamp.UTC().Truncate(time.Microsecond),
		ActorType:     actorTypeFor(event.ActorType),
		ActorID:       event.ActorID,
		ActorHospital: event.ActorHospital,
		Action:        event.Type,
		ResourceType:  resourceType,
		ResourceID:    resourceID(resourceType, event, changes),
		Changes:       changes,
		CorrelationID: event.CorrelationID,
		EventID:       event.ID,
	}
	return entry
}

// resourceID finds the id of the changed record. Stock cards have no id of
// their own and are keyed by hospital and blood type.
func resourceID(resourceType string, event events.Event, data map[string]any) string {
	if resourceType == "inventory" {
		h, _ := data["hospital_id"].(string)
		bt, _ := data["blood_type"].(string)
		if h != "" {
			return h + "/" + bt
		}
	}
	for _, field := range []string{resourceType + "_id", "request_id", "id"} {
		if v, ok := data[field].(string); ok && v != "" {
			return v
		}
	}
	return event.CorrelationID
}

// toMap flattens any event payload into a JSON object
func toMap(v any) map[string]any {
	if v == nil {
		return nil
	}
	if m, ok := v.(map[string]any); ok {
		return m
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}
