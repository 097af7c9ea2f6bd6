package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bloodconnect/platform/internal/shared/auth"
	"github.com/bloodconnect/platform/internal/shared/events"
)

func newClient(id string, topics ...string) *Client {
	return &Client{ID: id, Topics: topics, Send: make(chan []byte, 8)}
}

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case raw := <-c.Send:
		var msg Message
		require.NoError(t, json.Unmarshal(raw, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func TestHub_RegisterAndUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := newClient("c1", "user:u1")

	hub.Register(c)
	if hub.ClientCount() != 1 || hub.TopicCount("user:u1") != 1 {
		t.Fatalf("Expected one client on user:u1, got %d/%d", hub.ClientCount(), hub.TopicCount("user:u1"))
	}

	hub.Unregister(c)
	hub.Unregister(c)
	if hub.ClientCount() != 0 || hub.TopicCount("user:u1") != 0 {
		t.Errorf("Expected hub to be empty")
	}
	if _, ok := <-c.Send; ok {
		t.Error("Expected send channel to be closed")
	}
}

func TestHub_PublishOnlyToTopic(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	nurse := newClient("nurse", "hospital:st-mary")
	other := newClient("other", "hospital:city-general")
	hub.Register(nurse)
	hub.Register(other)

	hub.Publish("hospital:st-mary", "notification", map[string]string{"message": "New request"})

	msg := receive(t, nurse)
	assert.Equal(t, "notification", msg.Kind)
	assert.Equal(t, "hospital:st-mary", msg.Topic)
	assert.Len(t, other.Send, 0)
}

func TestHub_SubscribeUnsubscribe(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := newClient("c1", "user:u1")
	hub.Register(c)

	hub.Subscribe(c, "hospital:st-mary", "hospital:st-mary")
	assert.Equal(t, 1, hub.TopicCount("hospital:st-mary"))
	assert.Equal(t, []string{"user:u1", "hospital:st-mary"}, c.Topics)

	hub.Unsubscribe(c, "user:u1")
	assert.Equal(t, 0, hub.TopicCount("user:u1"))
	assert.Equal(t, []string{"hospital:st-mary"}, c.Topics)
}

func TestHub_FullBufferDoesNotBlock(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := &Client{ID: "slow", Topics: []string{"user:u1"}, Send: make(chan []byte, 1)}
	hub.Register(c)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			hub.Publish("user:u1", "notification", i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow client")
	}
	assert.Len(t, c.Send, 1)
}

func TestHub_BridgeRoutesByHospital(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	admin := newClient("admin", AdminTopic)
	nurse := newClient("nurse", "hospital:st-mary")
	hub.Register(admin)
	hub.Register(nurse)

	bus := events.NewMemoryBus(zerolog.Nop())
	require.NoError(t, hub.Bridge(context.Background(), bus, "inventory.*"))

	payload := map[string]any{"hospital_id": "st-mary", "blood_type": "O-", "units": 3}
	require.NoError(t, bus.Publish(context.Background(), events.NewEvent("inventory.alert", "inventory", payload)))

	assert.Equal(t, "inventory.alert", receive(t, admin).Kind)
	assert.Equal(t, "inventory.alert", receive(t, nurse).Kind)
}

func TestTopicsFor(t *testing.T) {
	tests := []struct {
		name string
		user *auth.User
		want []string
	}{
		{"donor", &auth.User{ID: "d1", Role: auth.RoleDonor}, []string{"user:d1"}},
		{"hospital", &auth.User{ID: "n1", Role: auth.RoleHospital, HospitalID: "st-mary"}, []string{"user:n1", "hospital:st-mary"}},
		{"admin", &auth.User{ID: "a1", Role: auth.RoleAdmin}, []string{"user:a1", AdminTopic}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TopicsFor(tt.user))
		})
	}

	donor := &auth.User{ID: "d1", Role: auth.RoleDonor}
	assert.False(t, CanSubscribe(donor, "hospital:st-mary"))
	assert.True(t, CanSubscribe(&auth.User{ID: "a1", Role: auth.RoleAdmin}, "hospital:st-mary"))
}

func TestHandler_DeliversToConnectedUser(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	handler := NewHandler(hub, nil)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := &auth.User{ID: "n1", Role: auth.RoleHospital, HospitalID: "st-mary"}
		handler.Connect(w, r.WithContext(auth.WithUser(r.Context(), user)))
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.Eventually(t, func() bool {
		return hub.TopicCount("hospital:st-mary") == 1
	}, time.Second, 10*time.Millisecond)

	hub.Publish("hospital:st-mary", "notification", map[string]string{"message": "Donation offer"})

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := ws.ReadMessage()
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, "notification", msg.Kind)
	assert.Equal(t, "hospital:st-mary", msg.Topic)
}
