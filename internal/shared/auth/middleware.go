package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bloodconnect/platform/internal/shared/config"
	"github.com/bloodconnect/platform/internal/shared/types"
)

type contextKey string

const (
	UserContextKey contextKey = "user"

	// TokenCookie carries the bearer token for server-rendered pages
	TokenCookie = "bloodconnect_token"
)

// Roles
const (
	RolePatient  = "patient"
	RoleDonor    = "donor"
	RoleHospital = "hospital"
	RoleAdmin    = "admin"
)

// User represents the authenticated user from JWT claims
type User struct {
	ID         types.ID `json:"sub"`
	Name       string   `json:"name"`
	Role       string   `json:"role"`
	HospitalID types.ID `json:"hospital_id,omitempty"`
}

// Claims extends JWT claims with platform-specific data
type Claims struct {
	jwt.RegisteredClaims
	Name       string `json:"name"`
	Role       string `json:"role"`
	HospitalID string `json:"hospital_id,omitempty"`
}

// DevUser is injected when development auth is enabled and no token is sent.
var DevUser = User{
	ID:         types.NewDeterministicID("user", "dev-admin"),
	Name:       "Development Admin",
	Role:       RoleAdmin,
	HospitalID: "city-general",
}

// Middleware authenticates bearer tokens from the Authorization header,
// the token cookie or the ?token= query parameter (WebSocket upgrades).
// Requests without a token continue anonymously, or as DevUser when
// cfg.DevUser is set; use RequireRoles to protect routes.
func Middleware(cfg config.AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := extractToken(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}

			if tokenString == "" {
				if cfg.DevUser {
					user := devUser(r)
					next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), &user)))
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			user, err := ParseToken(cfg, tokenString)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

type headerError string

func (e headerError) Error() string { return string(e) }

func extractToken(r *http.Request) (string, error) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			return "", headerError("invalid authorization header format")
		}
		return parts[1], nil
	}
	if c, err := r.Cookie(TokenCookie); err == nil && c.Value != "" {
		return c.Value, nil
	}
	return r.URL.Query().Get("token"), nil
}

// devUser lets development clients impersonate roles via headers.
func devUser(r *http.Request) User {
	user := DevUser
	if role := r.Header.Get("X-Dev-Role"); role != "" {
		user.Role = role
		user.Name = "Development " + role
		user.ID = types.NewDeterministicID("user", "dev-"+role)
	}
	if hospital := r.Header.Get("X-Dev-Hospital"); hospital != "" {
		user.HospitalID = types.ID(hospital)
	}
	return user
}

// ParseToken validates a signed token and returns its user
func ParseToken(cfg config.AuthConfig, tokenString string) (*User, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(cfg.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}

	return &User{
		ID:         types.ID(claims.Subject),
		Name:       claims.Name,
		Role:       claims.Role,
		HospitalID: types.ID(claims.HospitalID),
	}, nil
}

// IssueToken signs an HS256 token for user
func IssueToken(cfg config.AuthConfig, user User, now time.Time) (string, error) {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Name:       user.Name,
		Role:       user.Role,
		HospitalID: user.HospitalID.String(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTSecret))
}

// WithUser stores user in ctx
func WithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, UserContextKey, user)
}

// GetUser extracts the user from request context
func GetUser(ctx context.Context) *User {
	user, ok := ctx.Value(UserContextKey).(*User)
	if !ok {
		return nil
	}
	return user
}

// RequireRoles creates middleware that requires one of roles. Admins pass.
func RequireRoles(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := GetUser(r.Context())
			if user == nil {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			if !user.IsAdmin() && !user.HasAnyRole(roles...) {
				writeError(w, http.StatusForbidden, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// HasAnyRole checks if user has one of roles
func (u *User) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if u.Role == role {
			return true
		}
	}
	return false
}

// IsAdmin checks if user is an admin
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// CanActForHospital reports whether u may act on behalf of hospitalID.
func (u *User) CanActForHospital(hospitalID types.ID) bool {
	if u.IsAdmin() {
		return true
	}
	return u.Role == RoleHospital && u.HospitalID == hospitalID
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
