package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/docchat/internal/credentials"
	"github.com/ashureev/docchat/internal/domain"
	"github.com/ashureev/docchat/internal/identity"
)

const maxJSONBodySize = 4 << 10

// loginFailedMessage is shown for every rejected sign-in.
const loginFailedMessage = "Username/password is incorrect"

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type meResponse struct {
	Authenticated bool   `json:"authenticated"`
	AuthStatus    string `json:"auth_status"`
	Username      string `json:"username,omitempty"`
	Name          string `json:"name,omitempty"`
	Model         string `json:"model"`
	Files         int    `json:"files"`
}

func toMeResponse(sess *domain.Session) meResponse {
	return meResponse{
		Authenticated: sess.IsAuthenticated(),
		AuthStatus:    string(sess.AuthStatus),
		Username:      sess.Username,
		Name:          sess.DisplayName,
		Model:         sess.Model,
		Files:         len(sess.FileRefs),
	}
}

// Login validates credentials and signs the session in. The session ID is
// rotated on success.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := identity.SessionFromContext(ctx)
	ip := identity.IPFromRequest(r)

	if !h.limiter.Allow("login:" + ip) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.creds.Validate(req.Username, req.Password)
	if err != nil {
		if !errors.Is(err, credentials.ErrInvalidCredentials) {
			slog.Error("Credential check failed", "error", err)
		}
		slog.Warn("Login rejected", "session_id", sess.ID, "ip", ip)
		if markErr := h.sessions.MarkFailed(ctx, sess.ID); markErr != nil {
			slog.Error("Failed to record rejected login", "session_id", sess.ID, "error", markErr)
		}
		Error(w, http.StatusUnauthorized, loginFailedMessage)
		return
	}

	fresh, err := h.sessions.GetOrCreate(ctx, "")
	if err != nil {
		slog.Error("Failed to create session", "error", err)
		Error(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	if err := h.sessions.Authenticate(ctx, fresh.ID, user); err != nil {
		slog.Error("Failed to authenticate session", "session_id", fresh.ID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to sign in")
		return
	}
	if err := h.sessions.Destroy(ctx, sess.ID); err != nil {
		slog.Warn("Failed to discard pre-login session", "session_id", sess.ID, "error", err)
	}

	identity.SetSessionCookie(w, fresh.ID, h.cfg.SessionTTL, h.cfg.IsDevelopment())
	slog.Info("User signed in", "username", user.Username, "session_id", fresh.ID, "ip", ip)

	fresh.AuthStatus = domain.AuthAuthenticated
	fresh.Username = user.Username
	fresh.DisplayName = user.DisplayName()
	JSON(w, http.StatusOK, toMeResponse(fresh))
}

// Logout destroys the session with its transcript and files.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	sess := identity.SessionFromContext(r.Context())
	if err := h.sessions.Destroy(r.Context(), sess.ID); err != nil {
		slog.Error("Failed to destroy session", "session_id", sess.ID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to sign out")
		return
	}
	identity.ClearSessionCookie(w, h.cfg.IsDevelopment())
	slog.Info("User signed out", "username", sess.Username, "session_id", sess.ID)
	w.WriteHeader(http.StatusNoContent)
}

// GetMe returns the current session's sign-in state.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, toMeResponse(identity.SessionFromContext(r.Context())))
}
