package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bloodconnect/platform/internal/app"
	"github.com/bloodconnect/platform/internal/bloodtype"
	"github.com/bloodconnect/platform/internal/notification"
	"github.com/bloodconnect/platform/internal/shared/config"
	"github.com/bloodconnect/platform/internal/shared/types"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: 8080, Env: "development", RateLimitRPS: 1000, RateLimitBurst: 1000},
		Auth:   config.AuthConfig{JWTSecret: "test-secret", Issuer: "bloodconnect", TokenTTL: time.Hour, DevUser: true},
		Simulation: config.SimulationConfig{
			ResponseDelay: 9 * time.Second,
			ApprovalRate:  1,
			DriftInterval: 30 * time.Second,
			DriftMax:      2,
			OfferInterval: 2 * time.Minute,
			Seed:          42,
		},
		Notification: config.NotificationConfig{
			Workers:         1,
			BufferSize:      100,
			RetryAttempts:   1,
			RetryDelay:      time.Millisecond,
			DefaultDuration: 5 * time.Second,
		},
	}
}

type testServer struct {
	app *app.App
	srv *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	a, err := app.New(ctx, testConfig(), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, a.Seed(ctx))
	require.NoError(t, a.Start(ctx))

	srv := httptest.NewServer(a.Router())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		a.Close()
	})
	return &testServer{app: a, srv: srv}
}

// do sends a request as a development user with the given role
func (s *testServer) do(t *testing.T, method, path, role, hospital string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("X-Dev-Role", role)
	}
	if hospital != "" {
		req.Header.Set("X-Dev-Hospital", hospital)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func emergencyRequest() map[string]any {
	return map[string]any{
		"patient_name":     "Jelena Jovanovic",
		"blood_type":       "O-",
		"units":            2,
		"priority":         "emergency",
		"hospital_id":      "st-mary",
		"reason":           "surgery",
		"emergency_reason": "active bleeding",
	}
}

func TestHealthAndReady(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, http.MethodGet, "/health", "", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])

	resp, body = s.do(t, http.MethodGet, "/ready", "", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ready", body["status"])
}

func TestBloodRequestLifecycle(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	_, err := s.app.Inventory.Set(ctx, "st-mary", bloodtype.ONeg, 10, "test")
	require.NoError(t, err)

	// Patient submits
	resp, created := s.do(t, http.MethodPost, "/api/v1/requests", "patient", "", emergencyRequest())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id, _ := created["id"].(string)
	assert.Regexp(t, regexp.MustCompile(`^REQ-\d{4}-\d{3}$`), id)
	assert.Equal(t, "PENDING", created["status"])

	// The hospital sees it in its review queue
	resp, queue := s.do(t, http.MethodGet, "/api/v1/requests/review-queue", "hospital", "st-mary", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.GreaterOrEqual(t, queue["total"], float64(1))

	// Another hospital cannot act on it
	resp, _ = s.do(t, http.MethodPost, "/api/v1/requests/"+id+"/approve", "hospital", "city-general", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Approve then complete
	resp, approved := s.do(t, http.MethodPost, "/api/v1/requests/"+id+"/approve", "hospital", "st-mary", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "APPROVED", approved["status"])

	resp, _ = s.do(t, http.MethodPost, "/api/v1/requests/"+id+"/cancel", "patient", "", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "approved requests cannot be cancelled")

	resp, completed := s.do(t, http.MethodPost, "/api/v1/requests/"+id+"/complete", "hospital", "st-mary", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "COMPLETED", completed["status"])

	card, err := s.app.Inventory.Get(ctx, "st-mary", bloodtype.ONeg)
	require.NoError(t, err)
	assert.Equal(t, 8, card.Units)

	// The patient has toasts for the submit and each decision
	patient := types.NewDeterministicID("user", "dev-patient")
	assert.NotEmpty(t, s.app.Notifications.Active(notification.UserRecipient(patient.String())))

	// Every step is on the audit chain
	resp, history := s.do(t, http.MethodGet, "/api/v1/audit/resource/request/"+id, "admin", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 3, history["total"])

	resp, verify := s.do(t, http.MethodGet, "/api/v1/audit/verify", "admin", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, verify["valid"])
}

func TestValidationRejectsMissingFields(t *testing.T) {
	s := newTestServer(t)

	body := emergencyRequest()
	body["emergency_reason"] = ""
	resp, out := s.do(t, http.MethodPost, "/api/v1/requests", "patient", "", body)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", out["code"])

	resp, list := s.do(t, http.MethodGet, "/api/v1/requests", "patient", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, list["total"])
}

func TestConcurrentDecisionsHaveOneWinner(t *testing.T) {
	s := newTestServer(t)

	resp, created := s.do(t, http.MethodPost, "/api/v1/requests", "patient", "", emergencyRequest())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := created["id"].(string)

	actions := []string{"approve", "reject", "approve", "reject"}
	codes := make([]int, len(actions))
	var wg sync.WaitGroup
	for i, action := range actions {
		wg.Add(1)
		go func(i int, action string) {
			defer wg.Done()
			body := map[string]any{"expected_version": 1}
			if action == "reject" {
				body["reason"] = "insufficient_stock"
			}
			r, _ := s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/requests/%s/%s", id, action), "hospital", "st-mary", body)
			codes[i] = r.StatusCode
		}(i, action)
	}
	wg.Wait()

	ok := 0
	for _, code := range codes {
		if code == http.StatusOK {
			ok++
		} else {
			assert.Equal(t, http.StatusConflict, code)
		}
	}
	assert.Equal(t, 1, ok, "exactly one decision should win, got %v", codes)
}

func TestAdminOnlySurfaces(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		path   string
		role   string
		status int
	}{
		{"/api/v1/audit/", "donor", http.StatusForbidden},
		{"/api/v1/audit/", "admin", http.StatusOK},
		{"/api/v1/simulation/", "patient", http.StatusForbidden},
		{"/api/v1/simulation/", "admin", http.StatusOK},
		{"/api/v1/users/", "hospital", http.StatusForbidden},
		{"/api/v1/users/", "admin", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.role+tt.path, func(t *testing.T) {
			resp, _ := s.do(t, http.MethodGet, tt.path, tt.role, "st-mary", nil)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestPagesServed(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/", "/contact", "/static/app.css"} {
		resp, err := http.Get(s.srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}
