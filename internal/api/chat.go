package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/docchat/internal/chat"
	"github.com/ashureev/docchat/internal/domain"
	"github.com/ashureev/docchat/internal/identity"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

const defaultMaxRequestBodySize = 64 << 10

type chatRequest struct {
	Message string `json:"message"`
}

type statusEvent struct {
	Status string `json:"status"`
}

type replyEvent struct {
	Role    domain.Role `json:"role"`
	Content string      `json:"content"`
	Outcome string      `json:"outcome"`
	Status  string      `json:"status,omitempty"`
	RunID   string      `json:"run_id,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func toReplyEvent(result chat.TurnResult) replyEvent {
	ev := replyEvent{
		Role:    domain.RoleAssistant,
		Content: result.Reply(),
		Outcome: string(result.Outcome),
		Status:  string(result.Status),
		RunID:   result.RunID,
	}
	if !result.OK() {
		ev.Error = string(result.Outcome)
	}
	return ev
}

// Chat handles POST /api/chat. The turn is streamed as server-sent events:
// one "status" event per observed run status, then a single "message" event
// with the assistant's reply.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	sess := identity.SessionFromContext(r.Context())

	if !h.limiter.Allow(sess.ID) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, defaultMaxRequestBodySize)
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		Error(w, http.StatusBadRequest, "message is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	slog.Info("Chat request",
		"session_id", sess.ID,
		"username", sess.Username,
		"request_id", chiMiddleware.GetReqID(r.Context()),
		"message_length", len(req.Message),
	)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	streamOpen := true
	onStatus := func(status domain.RunStatus) {
		if !streamOpen {
			return
		}
		if err := writeSSEJSON(w, "status", statusEvent{Status: string(status)}); err != nil {
			slog.Debug("Client stopped reading chat stream", "session_id", sess.ID, "error", err)
			streamOpen = false
			return
		}
		flusher.Flush()
	}

	result, err := h.chat.Send(r.Context(), sess.ID, req.Message, "chat_http", onStatus)
	if err != nil {
		slog.Error("Chat turn failed", "session_id", sess.ID, "error", err)
		if writeErr := writeSSE(w, "error", err.Error()); writeErr != nil {
			slog.Warn("failed to write SSE error event", "error", writeErr)
		}
		flusher.Flush()
		return
	}

	if err := writeSSEJSON(w, "message", toReplyEvent(result)); err != nil {
		slog.Warn("failed to write SSE message event", "session_id", sess.ID, "error", err)
		return
	}
	flusher.Flush()
}

// ListMessages returns the session transcript in order.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	sess := identity.SessionFromContext(r.Context())
	messages := sess.Messages
	if messages == nil {
		messages = []domain.Message{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEJSON(w io.Writer, event string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return writeSSE(w, event, string(data))
}
