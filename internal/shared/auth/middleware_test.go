package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bloodconnect/platform/internal/shared/config"
)

func captureUser(got **User) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = GetUser(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddleware_ValidToken(t *testing.T) {
	cfg := config.AuthConfig{JWTSecret: "secret", Issuer: "bloodconnect", TokenTTL: time.Hour}
	token, err := IssueToken(cfg, User{ID: "u-1", Name: "Nurse", Role: RoleHospital, HospitalID: "st-mary"}, time.Now())
	require.NoError(t, err)

	var got *User
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	Middleware(cfg)(captureUser(&got)).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)
	assert.Equal(t, RoleHospital, got.Role)
	assert.Equal(t, "st-mary", got.HospitalID.String())
}

func TestMiddleware_InvalidToken(t *testing.T) {
	cfg := config.AuthConfig{JWTSecret: "secret"}
	token, err := IssueToken(config.AuthConfig{JWTSecret: "other"}, User{ID: "u-1", Role: RoleAdmin}, time.Now())
	require.NoError(t, err)

	var got *User
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: TokenCookie, Value: token})
	rec := httptest.NewRecorder()
	Middleware(cfg)(captureUser(&got)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, got)
}

func TestMiddleware_AnonymousAndDev(t *testing.T) {
	var got *User
	rec := httptest.NewRecorder()
	Middleware(config.AuthConfig{JWTSecret: "s"})(captureUser(&got)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, got)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Dev-Role", RoleDonor)
	rec = httptest.NewRecorder()
	Middleware(config.AuthConfig{JWTSecret: "s", DevUser: true})(captureUser(&got)).ServeHTTP(rec, req)
	require.NotNil(t, got)
	assert.Equal(t, RoleDonor, got.Role)
}

func TestRequireRoles(t *testing.T) {
	tests := []struct {
		name   string
		user   *User
		status int
	}{
		{"anonymous", nil, http.StatusUnauthorized},
		{"wrong role", &User{Role: RolePatient}, http.StatusForbidden},
		{"matching role", &User{Role: RoleHospital}, http.StatusOK},
		{"admin", &User{Role: RoleAdmin}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.user != nil {
				req = req.WithContext(WithUser(req.Context(), tt.user))
			}
			rec := httptest.NewRecorder()
			var got *User
			RequireRoles(RoleHospital)(captureUser(&got)).ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Errorf("Expected %d, got %d", tt.status, rec.Code)
			}
		})
	}
}

func TestCanActForHospital(t *testing.T) {
	nurse := &User{Role: RoleHospital, HospitalID: "city-general"}
	assert.True(t, nurse.CanActForHospital("city-general"))
	assert.False(t, nurse.CanActForHospital("st-mary"))
	assert.True(t, (&User{Role: RoleAdmin}).CanActForHospital("st-mary"))
	assert.False(t, (&User{Role: RolePatient, HospitalID: "st-mary"}).CanActForHospital("st-mary"))
}
