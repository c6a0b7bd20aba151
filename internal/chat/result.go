package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashureev/docchat/internal/domain"
)

// Outcome tags how a chat turn ended.
type Outcome string

const (
	// OutcomeCompleted means the run completed and Text holds the reply.
	OutcomeCompleted Outcome = "completed"
	// OutcomeRunFailed means the run reached a terminal status other than completed.
	OutcomeRunFailed Outcome = "run_failed"
	// OutcomeTimeout means the run did not finish within the time budget.
	OutcomeTimeout Outcome = "timeout"
	// OutcomeError means a remote call failed before the run finished.
	OutcomeError Outcome = "error"
)

var (
	// ErrRunTimeout is returned when a run outlives the poll budget.
	ErrRunTimeout = errors.New("run did not finish before the timeout")
	// ErrEmptyMessage is returned for blank chat input.
	ErrEmptyMessage = errors.New("message is required")
	// ErrUnauthenticated is returned when a turn is sent on an anonymous session.
	ErrUnauthenticated = errors.New("session is not authenticated")
)

// TurnResult is the typed outcome of one conversation turn.
type TurnResult struct {
	Outcome Outcome
	Text    string
	Status  domain.RunStatus
	RunID   string
	// MessageID is set once the user message reached the thread.
	MessageID string
	Polls     int
	Err       error
}

// OK reports whether the turn produced an assistant answer.
func (r TurnResult) OK() bool {
	return r.Outcome == OutcomeCompleted
}

// Reply renders the result as assistant text for the transcript.
func (r TurnResult) Reply() string {
	switch r.Outcome {
	case OutcomeCompleted:
		return r.Text
	case OutcomeRunFailed:
		return fmt.Sprintf("❌ Run failed with status: %s", r.Status)
	case OutcomeTimeout:
		return "❌ Error: the assistant did not answer in time, please try again"
	default:
		if r.Err == nil {
			return "❌ Error: unknown failure"
		}
		return fmt.Sprintf("❌ Error: %s", r.Err)
	}
}

// failed tags partial with err. Deadline errors from the turn budget are
// reported as ErrRunTimeout.
func failed(err error, partial TurnResult) TurnResult {
	partial.Outcome = OutcomeError
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrRunTimeout) {
		err = fmt.Errorf("%w: %w", ErrRunTimeout, err)
	}
	partial.Err = err
	if errors.Is(err, ErrRunTimeout) {
		partial.Outcome = OutcomeTimeout
	}
	return partial
}
