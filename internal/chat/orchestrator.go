// Package chat runs conversation turns against the remote assistant: it
// binds the session's assistant and thread, posts the message with its
// attachments, and waits for the run to finish.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashureev/docchat/internal/assistants"
	"github.com/ashureev/docchat/internal/domain"
	"github.com/ashureev/docchat/internal/files"
)

const (
	// AssistantName is the name given to every session's assistant.
	AssistantName = "Universal Chat + Doc Bot"
	// AssistantInstructions are the fixed system instructions.
	AssistantInstructions = "You are a helpful assistant that can answer general questions and analyze uploaded documents. When documents are provided, reference them in your responses."
)

// assistantTools is the capability profile of every assistant.
var assistantTools = []domain.Tool{domain.ToolFileSearch, domain.ToolCodeInterpreter}

// Orchestrator runs single conversation turns.
type Orchestrator struct {
	client assistants.Client
	router *files.Router
	poller *Poller
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(client assistants.Client, router *files.Router, poller *Poller) *Orchestrator {
	return &Orchestrator{
		client: client,
		router: router,
		poller: poller,
	}
}

// Converse sends text with refs attached and returns the assistant's answer.
// The assistant and thread IDs are created on first use and stored on sess.
// Failures are reported in the result, never as a panic or a lost turn.
// Every remote call of the turn shares the poller's timeout budget.
func (o *Orchestrator) Converse(ctx context.Context, sess *domain.Session, text string, refs []domain.FileRef) TurnResult {
	return o.converse(ctx, sess, text, refs, nil)
}

func (o *Orchestrator) converse(ctx context.Context, sess *domain.Session, text string, refs []domain.FileRef, onStatus StatusFunc) TurnResult {
	var result TurnResult
	logger := slog.With("session_id", sess.ID)

	if o.poller.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.poller.timeout)
		defer cancel()
	}

	if err := o.ensureAssistant(ctx, sess); err != nil {
		logger.Error("Failed to create assistant", "error", err)
		return failed(fmt.Errorf("create assistant: %w", err), result)
	}
	if err := o.ensureThread(ctx, sess); err != nil {
		logger.Error("Failed to create thread", "error", err)
		return failed(fmt.Errorf("create thread: %w", err), result)
	}

	msgID, err := o.client.CreateMessage(ctx, sess.ThreadID, assistants.MessageInput{
		Content:     text,
		Attachments: o.router.Attachments(ctx, refs),
	})
	if err != nil {
		logger.Error("Failed to create message", "thread_id", sess.ThreadID, "error", err)
		return failed(fmt.Errorf("create message: %w", err), result)
	}
	result.MessageID = msgID

	run, err := o.client.CreateRun(ctx, assistants.RunInput{
		ThreadID:    sess.ThreadID,
		AssistantID: sess.AssistantID,
		Model:       sess.Model,
	})
	if err != nil {
		logger.Error("Failed to create run", "thread_id", sess.ThreadID, "error", err)
		return failed(fmt.Errorf("create run: %w", err), result)
	}
	if run.ThreadID == "" {
		run.ThreadID = sess.ThreadID
	}
	result.RunID = run.ID
	if onStatus != nil {
		onStatus(run.Status)
	}

	run, polls, err := o.poller.Wait(ctx, run, onStatus)
	result.Polls = polls
	result.Status = run.Status
	if err != nil {
		logger.Error("Run polling failed", "run_id", run.ID, "polls", polls, "error", err)
		return failed(err, result)
	}

	if !run.Status.Succeeded() {
		logger.Warn("Run ended without completing",
			"run_id", run.ID,
			"status", string(run.Status),
			"last_error", run.LastError)
		result.Outcome = OutcomeRunFailed
		return result
	}

	text, err = o.latestReply(ctx, sess.ThreadID)
	if err != nil {
		logger.Error("Failed to read reply", "thread_id", sess.ThreadID, "error", err)
		return failed(fmt.Errorf("list messages: %w", err), result)
	}
	result.Outcome = OutcomeCompleted
	result.Text = text
	return result
}

func (o *Orchestrator) ensureAssistant(ctx context.Context, sess *domain.Session) error {
	if sess.AssistantID != "" {
		return nil
	}
	id, err := o.client.CreateAssistant(ctx, assistants.AssistantSpec{
		Name:         AssistantName,
		Model:        sess.Model,
		Instructions: AssistantInstructions,
		Tools:        assistantTools,
	})
	if err != nil {
		return err
	}
	sess.AssistantID = id
	return nil
}

func (o *Orchestrator) ensureThread(ctx context.Context, sess *domain.Session) error {
	if sess.ThreadID != "" {
		return nil
	}
	id, err := o.client.CreateThread(ctx)
	if err != nil {
		return err
	}
	sess.ThreadID = id
	return nil
}

func (o *Orchestrator) latestReply(ctx context.Context, threadID string) (string, error) {
	msgs, err := o.client.ListMessages(ctx, threadID, 1)
	if err != nil {
		return "", err
	}
	if len(msgs) == 0 {
		return "", assistants.ErrNoMessages
	}
	text, ok := msgs[0].FirstText()
	if !ok {
		return "", errors.New("latest message has no text content")
	}
	return text, nil
}
