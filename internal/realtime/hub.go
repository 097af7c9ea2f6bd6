// Package realtime pushes toasts and domain events to browsers over
// WebSockets. Clients are attached to topics such as "user:<id>",
// "hospital:<id>" and "role:admin", matching notification recipients.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bloodconnect/platform/internal/notification"
	"github.com/bloodconnect/platform/internal/shared/events"
)

// AdminTopic receives every bridged domain event
const AdminTopic = notification.AdminRecipient

// Message is what clients receive
type Message struct {
	Kind      string    `json:"kind"`
	Topic     string    `json:"topic"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// Client is one connected browser tab
type Client struct {
	ID     string
	Topics []string
	Send   chan []byte
}

// Hub tracks clients and their topic subscriptions
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // topic -> clients
	all     map[*Client]struct{}
	log     zerolog.Logger
}

// NewHub creates an empty hub
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		log:     log.With().Str("component", "realtime").Logger(),
	}
}

// Register adds a client with its initial topics
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}
	for _, topic := range client.Topics {
		h.attach(topic, client)
	}
}

// Unregister removes a client and closes its Send channel
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for _, topic := range client.Topics {
		h.detach(topic, client)
	}
	delete(h.all, client)
	close(client.Send)
}

// Subscribe adds topics to a registered client
func (h *Hub) Subscribe(client *Client, topics ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for _, topic := range topics {
		if _, ok := h.clients[topic][client]; ok {
			continue
		}
		h.attach(topic, client)
		client.Topics = append(client.Topics, topic)
	}
}

// Unsubscribe removes topics from a registered client
func (h *Hub) Unsubscribe(client *Client, topics ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	remove := make(map[string]struct{}, len(topics))
	for _, topic := range topics {
		remove[topic] = struct{}{}
		h.detach(topic, client)
	}

	remaining := client.Topics[:0]
	for _, topic := range client.Topics {
		if _, ok := remove[topic]; !ok {
			remaining = append(remaining, topic)
		}
	}
	client.Topics = remaining
}

func (h *Hub) attach(topic string, client *Client) {
	if h.clients[topic] == nil {
		h.clients[topic] = make(map[*Client]struct{})
	}
	h.clients[topic][client] = struct{}{}
}

func (h *Hub) detach(topic string, client *Client) {
	subscribers, ok := h.clients[topic]
	if !ok {
		return
	}
	delete(subscribers, client)
	if len(subscribers) == 0 {
		delete(h.clients, topic)
	}
}

// Publish sends payload to every client on topic. Slow clients whose
// buffer is full miss the message.
func (h *Hub) Publish(topic, kind string, payload any) {
	data, err := json.Marshal(Message{Kind: kind, Topic: topic, Timestamp: time.Now().UTC(), Data: payload})
	if err != nil {
		h.log.Error().Err(err).Str("topic", topic).Msg("failed to marshal realtime message")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[topic] {
		select {
		case client.Send <- data:
		default:
			h.log.Warn().Str("client_id", client.ID).Str("topic", topic).Msg("client buffer full, message dropped")
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// TopicCount returns the number of clients on topic
func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

// Bridge forwards domain events to the admin topic and, when the event
// names a hospital, to that hospital's topic.
func (h *Hub) Bridge(ctx context.Context, bus events.EventBus, patterns ...string) error {
	for _, pattern := range patterns {
		if err := bus.Subscribe(ctx, pattern, "realtime-bridge", h.forward); err != nil {
			return err
		}
	}
	return nil
}

func (h *Hub) forward(ctx context.Context, event events.Event) error {
	h.Publish(AdminTopic, event.Type, event)
	if hospital := hospitalOf(event); hospital != "" {
		h.Publish(notification.HospitalRecipient(hospital), event.Type, event.Data)
	}
	return nil
}

// hospitalOf finds the hospital an event concerns
func hospitalOf(event events.Event) string {
	if !event.ActorHospital.IsZero() {
		return event.ActorHospital.String()
	}
	raw, err := json.Marshal(event.Data)
	if err != nil {
		return ""
	}
	var ref struct {
		HospitalID         string `json:"hospital_id"`
		AssignedHospitalID string `json:"assigned_hospital_id"`
	}
	if json.Unmarshal(raw, &ref) != nil {
		return ""
	}
	if ref.HospitalID != "" {
		return ref.HospitalID
	}
	return ref.AssignedHospitalID
}
