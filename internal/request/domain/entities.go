package domain

import (
	"time"

	"github.com/bloodconnect/platform/internal/shared/types"
)

// EventType defines types of request timeline events
type EventType string

const (
	EventTypeSubmitted EventType = "request.submitted"
	EventTypeApproved  EventType = "request.approved"
	EventTypeRejected  EventType = "request.rejected"
	EventTypeCompleted EventType = "request.completed"
	EventTypeCancelled EventType = "request.cancelled"
)

// RequestEvent is an entry in the request timeline
type RequestEvent struct {
	ID          types.ID       `json:"id"`
	RequestID   string         `json:"request_id"`
	Type        EventType      `json:"type"`
	ActorID     types.ID       `json:"actor_id"`
	ActorType   string         `json:"actor_type"`
	Description string         `json:"description"`
	Data        map[string]any `json:"data,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Event is a domain event for publishing
type Event struct {
	Type      string       `json:"type"`
	RequestID string       `json:"request_id"`
	Event     RequestEvent `json:"event"`
}
