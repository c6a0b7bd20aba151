// Package api provides HTTP handlers for the chat service.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/ashureev/docchat/internal/chat"
	"github.com/ashureev/docchat/internal/config"
	"github.com/ashureev/docchat/internal/credentials"
	"github.com/ashureev/docchat/internal/files"
	"github.com/ashureev/docchat/internal/identity"
	"github.com/ashureev/docchat/internal/session"
	"github.com/ashureev/docchat/internal/store"
	"github.com/go-chi/chi/v5"
)

// Handler serves the session, upload and chat endpoints.
type Handler struct {
	repo     store.Repository
	sessions *session.Manager
	creds    *credentials.Store
	files    *files.Router
	chat     *chat.Service
	cfg      *config.Config
	limiter  *RateLimiter
}

// NewHandler creates a new Handler with its dependencies.
func NewHandler(repo store.Repository, sessions *session.Manager, creds *credentials.Store, router *files.Router, chatService *chat.Service, cfg *config.Config) *Handler {
	return &Handler{
		repo:     repo,
		sessions: sessions,
		creds:    creds,
		files:    router,
		chat:     chatService,
		cfg:      cfg,
		limiter:  NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration),
	}
}

// RegisterRoutes registers the session-scoped routes. The identity
// middleware must already be installed on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)
		r.Get("/me", h.GetMe)
		r.Get("/config", h.GetConfig)

		r.Group(func(r chi.Router) {
			r.Use(identity.RequireAuth)
			r.Put("/settings", h.UpdateSettings)
			r.Post("/files", h.UploadFiles)
			r.Get("/files", h.ListFiles)
			r.Get("/messages", h.ListMessages)
			r.Post("/chat", h.Chat)
		})
	})

	r.With(identity.RequireAuth).Get("/ws/chat", h.ChatWebSocket)
}

// Close stops background work owned by the handler.
func (h *Handler) Close() {
	h.limiter.Close()
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
