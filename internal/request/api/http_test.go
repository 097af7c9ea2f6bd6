package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/bloodconnect/platform/internal/hospital"
	"github.com/bloodconnect/platform/internal/inventory"
	"github.com/bloodconnect/platform/internal/notification"
	"github.com/bloodconnect/platform/internal/request/domain"
	"github.com/bloodconnect/platform/internal/request/infrastructure"
	"github.com/bloodconnect/platform/internal/request/workflow"
	"github.com/bloodconnect/platform/internal/shared/auth"
	"github.com/bloodconnect/platform/internal/shared/types"
)

var (
	patientUser  = auth.User{ID: types.NewDeterministicID("user", "p1"), Name: "Jane", Role: auth.RolePatient}
	otherPatient = auth.User{ID: types.NewDeterministicID("user", "p2"), Name: "John", Role: auth.RolePatient}
	cityNurse    = auth.User{ID: types.NewDeterministicID("user", "h1"), Name: "Nurse", Role: auth.RoleHospital, HospitalID: "city-general"}
	maryNurse    = auth.User{ID: types.NewDeterministicID("user", "h2"), Name: "Nurse", Role: auth.RoleHospital, HospitalID: "st-mary"}
)

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	log := zerolog.Nop()
	inv := inventory.NewService(inventory.NewMemoryStore(), nil, log)
	hospitals := hospital.NewService(hospital.NewMemoryRepository(), inv, nil, log)
	if err := hospitals.SeedDefaults(context.Background(), rand.New(rand.NewSource(1))); err != nil {
		t.Fatalf("seed: %v", err)
	}
	svc := workflow.NewService(infrastructure.NewMemoryRepository(), notification.NewMemoryQueue(), nil, hospitals, inv, nil, log)

	r := chi.NewRouter()
	r.Mount("/requests", NewHandler(svc).Routes())
	return r
}

func do(t *testing.T, h http.Handler, user *auth.User, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	if user != nil {
		req = req.WithContext(auth.WithUser(req.Context(), user))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRequestLifecycle(t *testing.T) {
	h := newRouter(t)

	rec := do(t, h, &patientUser, http.MethodPost, "/requests", SubmitRequest{
		PatientName: "Jane Doe", BloodType: "O-", Units: 2, Priority: "emergency",
		HospitalID: "city-general", Reason: "trauma", EmergencyReason: "active bleeding",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created domain.Request
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !domain.ValidID(created.ID) || created.Status != domain.StatusPending {
		t.Fatalf("Unexpected request %s %s", created.ID, created.Status)
	}
	base := "/requests/" + created.ID

	tests := []struct {
		name    string
		user    *auth.User
		method  string
		path    string
		body    any
		headers []string
		status  int
	}{
		{"anonymous list", nil, http.MethodGet, "/requests", nil, nil, http.StatusUnauthorized},
		{"other patient cannot read", &otherPatient, http.MethodGet, base, nil, nil, http.StatusForbidden},
		{"other hospital cannot approve", &maryNurse, http.MethodPost, base + "/approve", nil, nil, http.StatusForbidden},
		{"stale If-Match", &cityNurse, http.MethodPost, base + "/approve", nil, []string{"If-Match", `"3"`}, http.StatusConflict},
		{"approve", &cityNurse, http.MethodPost, base + "/approve", nil, []string{"If-Match", `"1"`}, http.StatusOK},
		{"cancel after approval", &patientUser, http.MethodPost, base + "/cancel", nil, nil, http.StatusConflict},
		{"complete", &cityNurse, http.MethodPost, base + "/complete", TransitionRequest{ExpectedVersion: intPtr(2)}, nil, http.StatusOK},
		{"timeline", &patientUser, http.MethodGet, base + "/events", nil, nil, http.StatusOK},
		{"malformed id", &patientUser, http.MethodGet, "/requests/123", nil, nil, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.user, tt.method, tt.path, tt.body, tt.headers...)
			if rec.Code != tt.status {
				t.Errorf("Expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestSubmitValidation(t *testing.T) {
	h := newRouter(t)

	rec := do(t, h, &patientUser, http.MethodPost, "/requests", SubmitRequest{
		PatientName: "Jane Doe", BloodType: "O-", Units: 2, Priority: "emergency",
		HospitalID: "city-general", Reason: "trauma",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("Expected 422, got %d", rec.Code)
	}
	var body struct {
		Code    string            `json:"code"`
		Details map[string]string `json:"details"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := body.Details["emergency_reason"]; !ok {
		t.Errorf("Expected emergency_reason detail, got %v", body.Details)
	}

	rec = do(t, h, &patientUser, http.MethodGet, "/requests", nil)
	var list struct {
		Total int `json:"total"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if list.Total != 0 {
		t.Errorf("Expected nothing stored, got %d", list.Total)
	}
}

func TestHospitalReviewQueue(t *testing.T) {
	h := newRouter(t)

	for _, hid := range []types.ID{"city-general", "st-mary"} {
		rec := do(t, h, &patientUser, http.MethodPost, "/requests", SubmitRequest{
			PatientName: "Jane Doe", BloodType: "A+", Units: 1, Priority: "routine",
			HospitalID: hid, Reason: "anaemia",
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("submit: %d %s", rec.Code, rec.Body.String())
		}
	}

	rec := do(t, h, &cityNurse, http.MethodGet, "/requests/review-queue", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var queue struct {
		Data []workflow.ReviewItem `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&queue); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(queue.Data) != 1 || queue.Data[0].Notification.HospitalID != "city-general" {
		t.Fatalf("Expected only city-general's entry, got %+v", queue.Data)
	}

	rec = do(t, h, &cityNurse, http.MethodPost, "/requests/review-queue/ack", AckRequest{DeliveryIDs: []string{queue.Data[0].DeliveryID}})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", rec.Code)
	}

	rec = do(t, h, &cityNurse, http.MethodGet, "/requests", nil)
	var list struct {
		Total int `json:"total"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if list.Total != 1 {
		t.Errorf("Expected hospital to see 1 request, got %d", list.Total)
	}

	rec = do(t, h, &patientUser, http.MethodGet, "/requests/review-queue", nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected patients to be refused, got %d", rec.Code)
	}
}

func TestSubmitDefaultsPatientName(t *testing.T) {
	h := newRouter(t)

	rec := do(t, h, &patientUser, http.MethodPost, "/requests", SubmitRequest{
		BloodType: "B+", Units: 1, Priority: "routine", HospitalID: "city-general", Reason: "surgery",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created domain.Request
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.PatientName != patientUser.Name {
		t.Errorf("Expected patient name %q, got %q", patientUser.Name, created.PatientName)
	}

	rec = do(t, h, &cityNurse, http.MethodPost, "/requests", SubmitRequest{
		BloodType: "B+", Units: 1, Priority: "routine", HospitalID: "city-general", Reason: "surgery",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected staff submissions without a patient name to be refused, got %d", rec.Code)
	}
}

func TestListRequests_NegativeOffset(t *testing.T) {
	h := newRouter(t)

	rec := do(t, h, &patientUser, http.MethodPost, "/requests", SubmitRequest{
		PatientName: "Jane Doe", BloodType: "A+", Units: 1, Priority: "routine",
		HospitalID: "city-general", Reason: "anaemia",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit: %d %s", rec.Code, rec.Body.String())
	}

	for _, user := range []*auth.User{&patientUser, &cityNurse} {
		rec = do(t, h, user, http.MethodGet, "/requests?offset=-1", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200 for %s, got %d: %s", user.Role, rec.Code, rec.Body.String())
		}
		var list struct {
			Data  []domain.Request `json:"data"`
			Total int              `json:"total"`
		}
		if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if list.Total != 1 || len(list.Data) != 1 {
			t.Errorf("Expected the single request for %s, got total=%d len=%d", user.Role, list.Total, len(list.Data))
		}
	}
}

func intPtr(v int) *int { return &v }
