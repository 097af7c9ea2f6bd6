package realtime

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/bloodconnect/platform/internal/notification"
	"github.com/bloodconnect/platform/internal/shared/auth"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 64
)

// ClientMessage is an inbound subscription change
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Handler upgrades authenticated requests to WebSocket connections
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
}

// NewHandler creates a handler. An empty origins list allows any origin.
func NewHandler(hub *Hub, origins []string) *Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || len(allowed) == 0 || allowed[origin]
			},
		},
	}
}

// Routes registers the realtime routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Connect)
	return r
}

// Connect upgrades the connection and attaches the caller's own topics
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{
		ID:     uuid.New().String(),
		Topics: TopicsFor(user),
		Send:   make(chan []byte, sendBuffer),
	}
	h.hub.Register(client)

	h.hub.log.Debug().Str("client_id", client.ID).Str("user_id", user.ID.String()).Strs("topics", client.Topics).Msg("client connected")

	go h.writePump(client, ws)
	go h.readPump(client, ws, user)
}

// TopicsFor lists the topics a user may listen on
func TopicsFor(user *auth.User) []string {
	topics := []string{notification.UserRecipient(user.ID.String())}
	if user.Role == auth.RoleHospital && !user.HospitalID.IsZero() {
		topics = append(topics, notification.HospitalRecipient(user.HospitalID.String()))
	}
	if user.IsAdmin() {
		topics = append(topics, AdminTopic)
	}
	return topics
}

// CanSubscribe reports whether user may listen on topic. Admins may
// watch any hospital dashboard.
func CanSubscribe(user *auth.User, topic string) bool {
	for _, t := range TopicsFor(user) {
		if t == topic {
			return true
		}
	}
	return user.IsAdmin() && strings.HasPrefix(topic, notification.HospitalRecipient(""))
}

func (h *Handler) readPump(client *Client, ws *websocket.Conn, user *auth.User) {
	defer func() {
		h.hub.Unregister(client)
		ws.Close()
	}()

	ws.SetReadLimit(4096)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}

		var topics []string
		for _, topic := range msg.Topics {
			if CanSubscribe(user, topic) {
				topics = append(topics, topic)
			}
		}

		switch msg.Action {
		case "subscribe":
			h.hub.Subscribe(client, topics...)
		case "unsubscribe":
			h.hub.Unsubscribe(client, msg.Topics...)
		}
	}
}

func (h *Handler) writePump(client *Client, ws *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
