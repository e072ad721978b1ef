package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"

	eduauth "github.com/saleemjadallah/eduk6-backend-sub000"
	"github.com/saleemjadallah/eduk6-backend-sub000/middleware"
)

// Handler mounts the per-actor session endpoints onto a mux. One Handler
// serves every actor type registered on the gateway.
type Handler struct {
	gateway *eduauth.Gateway
	logger  *slog.Logger
}

// New creates a [Handler]. A nil logger falls back to slog.Default.
func New(gateway *eduauth.Gateway, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		gateway: gateway,
		logger:  logger,
	}
}

// Routes builds the HTTP mux. For each registered actor type it mounts:
//
//	POST /{actor}/login
//	POST /{actor}/refresh
//	POST /{actor}/logout
//	POST /{actor}/logout-all   (requires a valid access token)
//
// plus GET /healthz for liveness probing.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	for _, actorType := range h.gateway.ActorTypes() {
		actorType := actorType
		mux.HandleFunc("POST /"+actorType+"/login", h.login(actorType))
		mux.HandleFunc("POST /"+actorType+"/refresh", h.refresh(actorType))
		mux.HandleFunc("POST /"+actorType+"/logout", h.logout())
		mux.Handle("POST /"+actorType+"/logout-all",
			middleware.Guard(h.gateway)(
				middleware.RequireActor(actorType)(h.logoutAll(actorType)),
			),
		)
	}

	mux.HandleFunc("GET /healthz", h.health)

	return mux
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Secret     string `json:"secret"`
}

type loginResponse struct {
	AccessToken  string            `json:"access_token"`
	RefreshToken string            `json:"refresh_token"`
	UserID       string            `json:"user_id"`
	Role         string            `json:"role,omitempty"`
	Claims       map[string]string `json:"claims,omitempty"`
}

func (h *Handler) login(actorType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body loginRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Identifier == "" || body.Secret == "" {
			writeError(w, http.StatusBadRequest, "bad request")
			return
		}

		result, err := h.gateway.Login(requestContext(r), actorType, body.Identifier, body.Secret)
		if err != nil {
			h.writeAuthError(w, r, actorType, "login", err)
			return
		}

		writeJSON(w, http.StatusOK, loginResponse{
			AccessToken:  result.AccessToken,
			RefreshToken: result.RefreshToken,
			UserID:       result.Profile.UserID,
			Role:         result.Profile.Role,
			Claims:       result.Profile.Claims,
		})
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func (h *Handler) refresh(actorType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body refreshRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.RefreshToken == "" {
			writeError(w, http.StatusBadRequest, "bad request")
			return
		}

		access, refresh, err := h.gateway.Refresh(requestContext(r), actorType, body.RefreshToken)
		if err != nil {
			h.writeAuthError(w, r, actorType, "refresh", err)
			return
		}

		writeJSON(w, http.StatusOK, refreshResponse{
			AccessToken:  access,
			RefreshToken: refresh,
		})
	}
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
	AccessToken  string `json:"access_token"`
}

// logout always answers 204. Whether the presented tokens were live,
// already rotated, or garbage is not observable to the caller.
func (h *Handler) logout() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body logoutRequest
		_ = json.NewDecoder(r.Body).Decode(&body)

		if err := h.gateway.Logout(requestContext(r), body.RefreshToken, body.AccessToken); err != nil {
			h.logger.Warn("logout failed", "error", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type logoutAllResponse struct {
	SessionsRevoked int `json:"sessions_revoked"`
}

func (h *Handler) logoutAll(actorType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, ok := middleware.AuthResultFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "please log in again")
			return
		}

		count, err := h.gateway.LogoutAll(requestContext(r), actorType, res.UserID)
		if err != nil {
			h.writeAuthError(w, r, actorType, "logout_all", err)
			return
		}

		writeJSON(w, http.StatusOK, logoutAllResponse{SessionsRevoked: count})
	}
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if _, err := h.gateway.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeAuthError maps gateway errors onto the wire contract: rate limits
// get 429, store outages 503, everything else the generic 401.
func (h *Handler) writeAuthError(w http.ResponseWriter, r *http.Request, actorType, op string, err error) {
	switch {
	case errors.Is(err, eduauth.ErrLoginRateLimited), errors.Is(err, eduauth.ErrRefreshRateLimited):
		writeError(w, http.StatusTooManyRequests, "too many requests")
	case errors.Is(err, eduauth.ErrStoreUnavailable):
		h.logger.Error("session store unavailable", "op", op, "actor", actorType)
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	default:
		h.logger.Debug("auth rejected", "op", op, "actor", actorType, "path", r.URL.Path)
		writeError(w, http.StatusUnauthorized, "please log in again")
	}
}

func requestContext(r *http.Request) context.Context {
	ctx := r.Context()

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ctx = eduauth.WithClientIP(ctx, host)
	ctx = eduauth.WithDeviceInfo(ctx, r.UserAgent())

	return ctx
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
