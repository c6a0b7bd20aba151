package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/docchat/internal/chat"
	"github.com/ashureev/docchat/internal/domain"
	"github.com/ashureev/docchat/internal/identity"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const wsWriteTimeout = 10 * time.Second

// wsMessage is a client frame on /ws/chat.
type wsMessage struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// wsFrame is a server frame on /ws/chat.
type wsFrame struct {
	Type   string      `json:"type"`
	Status string      `json:"status,omitempty"`
	Error  string      `json:"error,omitempty"`
	Reply  *replyEvent `json:"reply,omitempty"`
}

// ChatWebSocket serves chat turns over a websocket. Each {"type":"chat"}
// frame runs one turn; status frames are pushed while the run progresses and
// a "message" frame carries the reply.
func (h *Handler) ChatWebSocket(w http.ResponseWriter, r *http.Request) {
	sess := identity.SessionFromContext(r.Context())

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", sess.ID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sess.ID)
		}
	}()

	ctx := r.Context()
	slog.Info("Chat websocket connected", "session_id", sess.ID, "ip", identity.IPFromRequest(r))

	for {
		var msg wsMessage
		if err := wsjson.Read(ctx, ws, &msg); err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				slog.Debug("Chat websocket closed by client", "session_id", sess.ID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "session_id", sess.ID)
			}
			return
		}

		switch msg.Type {
		case "ping":
			if err := h.writeFrame(ctx, ws, wsFrame{Type: "pong"}); err != nil {
				return
			}
		case "chat", "":
			if err := h.wsTurn(ctx, ws, sess, msg.Message); err != nil {
				slog.Debug("Failed to write chat frame", "error", err, "session_id", sess.ID)
				return
			}
		default:
			if err := h.writeFrame(ctx, ws, wsFrame{Type: "error", Error: "unknown message type"}); err != nil {
				return
			}
		}
	}
}

func (h *Handler) wsTurn(ctx context.Context, ws *websocket.Conn, sess *domain.Session, text string) error {
	if strings.TrimSpace(text) == "" {
		return h.writeFrame(ctx, ws, wsFrame{Type: "error", Error: chat.ErrEmptyMessage.Error()})
	}
	if !h.limiter.Allow(sess.ID) {
		return h.writeFrame(ctx, ws, wsFrame{Type: "error", Error: "rate limit exceeded"})
	}

	var writeErr error
	onStatus := func(status domain.RunStatus) {
		if writeErr != nil {
			return
		}
		writeErr = h.writeFrame(ctx, ws, wsFrame{Type: "status", Status: string(status)})
	}

	result, err := h.chat.Send(ctx, sess.ID, text, "chat_ws", onStatus)
	if writeErr != nil {
		return writeErr
	}
	if err != nil {
		slog.Error("Chat turn failed", "session_id", sess.ID, "error", err)
		return h.writeFrame(ctx, ws, wsFrame{Type: "error", Error: err.Error()})
	}
	reply := toReplyEvent(result)
	return h.writeFrame(ctx, ws, wsFrame{Type: "message", Reply: &reply})
}

func (h *Handler) writeFrame(ctx context.Context, ws *websocket.Conn, frame wsFrame) error {
	wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(wctx, ws, frame)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.cfg.IsDevelopment() {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.cfg.FrontendURL == "*" {
		return true
	}
	if origin == h.cfg.FrontendURL {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.cfg.FrontendURL)
	return false
}
