package chat

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/docchat/internal/config"
	"github.com/ashureev/docchat/internal/domain"
	"github.com/ashureev/docchat/internal/session"
)

// Service runs complete chat turns for a session.
type Service struct {
	sessions     *session.Manager
	orchestrator *Orchestrator
	attachPolicy string
	log          ConversationLogger
	now          func() time.Time
}

// NewService creates a chat service. A nil logger discards conversation events.
func NewService(sessions *session.Manager, orchestrator *Orchestrator, attachPolicy string, log ConversationLogger) *Service {
	if log == nil {
		log = noopConversationLogger{}
	}
	if attachPolicy == "" {
		attachPolicy = config.AttachNextTurn
	}
	return &Service{
		sessions:     sessions,
		orchestrator: orchestrator,
		attachPolicy: attachPolicy,
		log:          log,
		now:          time.Now,
	}
}

// Send runs one turn: the user message and the assistant's reply (or the
// rendered failure) are appended to the transcript together. The session is
// locked for the whole turn so turns on one session never interleave.
//
// The turn is not bound to ctx cancellation; the run timeout ends it.
func (s *Service) Send(ctx context.Context, sessionID, text string, channel string, onStatus StatusFunc) (TurnResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return TurnResult{}, ErrEmptyMessage
	}
	ctx = context.WithoutCancel(ctx)

	var result TurnResult
	_, err := s.sessions.WithSession(ctx, sessionID, func(sess *domain.Session) error {
		if !sess.IsAuthenticated() {
			return ErrUnauthenticated
		}

		refs := s.refsForTurn(sess)
		sess.AppendMessage(domain.RoleUser, text, s.now())
		s.logEvent(sess, channel, "outbound", "chat_user_message", text, map[string]any{
			"attachments": len(refs),
		})

		result = s.orchestrator.converse(ctx, sess, text, refs, onStatus)

		reply := result.Reply()
		sess.AppendMessage(domain.RoleAssistant, reply, s.now())
		if result.MessageID != "" && len(refs) > 0 {
			sess.MarkFilesAttached()
		}
		s.logEvent(sess, channel, "inbound", "chat_assistant_message", reply, map[string]any{
			"outcome": string(result.Outcome),
			"status":  string(result.Status),
			"run_id":  result.RunID,
			"polls":   result.Polls,
		})
		return nil
	})
	if err != nil {
		return TurnResult{}, err
	}

	slog.Info("Chat turn finished",
		"session_id", sessionID,
		"outcome", string(result.Outcome),
		"run_id", result.RunID,
		"polls", result.Polls)
	return result, nil
}

func (s *Service) refsForTurn(sess *domain.Session) []domain.FileRef {
	if s.attachPolicy == config.AttachEveryTurn {
		return sess.FileRefs
	}
	return sess.PendingFileRefs()
}

func (s *Service) logEvent(sess *domain.Session, channel, direction, eventType, content string, meta map[string]any) {
	s.log.Log(ConversationLogEvent{
		Timestamp:  s.now().UTC().Format(time.RFC3339Nano),
		UserID:     sess.Username,
		SessionID:  sess.ID,
		Channel:    channel,
		Direction:  direction,
		EventType:  eventType,
		ContentRaw: content,
		Content:    cleanForReadability(content),
		Meta:       meta,
	})
}
