package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"

	"github.com/ashureev/docchat/internal/files"
	"github.com/ashureev/docchat/internal/identity"
)

type settingsRequest struct {
	Model string `json:"model"`
}

// GetConfig returns the options the frontend offers.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"models":              h.cfg.OpenAI.Models,
		"default_model":       h.cfg.OpenAI.DefaultModel,
		"accepted_extensions": files.AcceptedExtensions,
		"max_file_bytes":      h.cfg.Upload.MaxFileBytes,
		"max_files":           h.cfg.Upload.MaxFiles,
		"attach_policy":       h.cfg.Run.AttachPolicy,
	})
}

// UpdateSettings selects the model for subsequent turns.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	sess := identity.SessionFromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !slices.Contains(h.cfg.OpenAI.Models, req.Model) {
		Error(w, http.StatusBadRequest, "unknown model")
		return
	}

	if err := h.sessions.SetModel(r.Context(), sess.ID, req.Model); err != nil {
		slog.Error("Failed to update model", "session_id", sess.ID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to update settings")
		return
	}
	slog.Info("Model selected", "session_id", sess.ID, "model", req.Model)
	JSON(w, http.StatusOK, map[string]string{"model": req.Model})
}
