package user

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bloodconnect/platform/internal/shared/auth"
	"github.com/bloodconnect/platform/internal/shared/config"
	"github.com/bloodconnect/platform/internal/shared/errors"
	"github.com/bloodconnect/platform/internal/shared/types"
)

// Handler provides the admin user directory and the session endpoints
type Handler struct {
	svc  *Service
	auth config.AuthConfig
}

// NewHandler creates a user handler
func NewHandler(svc *Service, cfg config.AuthConfig) *Handler {
	return &Handler{svc: svc, auth: cfg}
}

// Routes registers the admin-only directory routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(auth.RequireRoles(auth.RoleAdmin))

	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{userID}", h.Get)
	r.Put("/{userID}/status", h.SetStatus)
	return r
}

// SessionRoutes registers sign in, sign out and whoami
func (h *Handler) SessionRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/session", h.SignIn)
	r.Delete("/session", h.SignOut)
	r.Get("/me", h.Me)
	return r
}

type StatusRequest struct {
	Status string `json:"status"`
}

type SignInRequest struct {
	Email string `json:"email"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{
		Role:   Role(q.Get("role")),
		Status: Status(q.Get("status")),
		Search: q.Get("q"),
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	if o, err := strconv.Atoi(q.Get("offset")); err == nil && o >= 0 {
		filter.Offset = o
	}

	users, total, err := h.svc.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  users,
		"total": total,
	})
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}
	u, err := h.svc.Create(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.Get(r.Context(), types.ID(chi.URLParam(r, "userID")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	id := types.ID(chi.URLParam(r, "userID"))
	if id == auth.GetUser(r.Context()).ID {
		writeError(w, errors.BadRequest("you cannot change your own status"))
		return
	}

	u, err := h.svc.SetStatus(r.Context(), id, Status(req.Status))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// SignIn issues a token cookie for an active account
func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req SignInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	u, err := h.svc.Authenticate(r.Context(), req.Email)
	if err != nil {
		writeError(w, err)
		return
	}

	now := time.Now()
	token, err := auth.IssueToken(h.auth, u.Principal(), now)
	if err != nil {
		writeError(w, errors.Internal(err))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.TokenCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  now.Add(h.auth.TokenTTL),
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  u,
	})
}

func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.TokenCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		writeError(w, errors.Unauthorized("not signed in"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":        user,
		"permissions": Role(user.Role).Permissions(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	appErr := errors.As(err)
	writeJSON(w, appErr.HTTPStatus, map[string]any{
		"error":   appErr.Message,
		"code":    appErr.Code,
		"details": appErr.Details,
	})
}
