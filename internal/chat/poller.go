package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ashureev/docchat/internal/assistants"
	"github.com/ashureev/docchat/internal/domain"
)

// cancelTimeout bounds the best-effort remote cancel after a timeout.
const cancelTimeout = 10 * time.Second

// Clock is the time source used by the poll loop.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// WaitStrategy decides how long to wait before the next status check.
type WaitStrategy interface {
	Next(attempt int) time.Duration
}

// FixedBackoff waits the same interval between every check.
type FixedBackoff struct {
	Interval time.Duration
}

// Next implements WaitStrategy.
func (b FixedBackoff) Next(int) time.Duration {
	return b.Interval
}

// StatusFunc observes every status a run goes through.
type StatusFunc func(status domain.RunStatus)

// Poller waits for a run to reach a terminal status.
type Poller struct {
	client  assistants.Client
	wait    WaitStrategy
	clock   Clock
	timeout time.Duration
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithPollClock replaces the real clock.
func WithPollClock(c Clock) PollerOption {
	return func(p *Poller) { p.clock = c }
}

// WithWaitStrategy replaces the fixed backoff.
func WithWaitStrategy(w WaitStrategy) PollerOption {
	return func(p *Poller) { p.wait = w }
}

// NewPoller creates a poller that checks every interval and gives up after
// timeout. A zero timeout waits indefinitely.
func NewPoller(client assistants.Client, interval, timeout time.Duration, opts ...PollerOption) *Poller {
	p := &Poller{
		client:  client,
		wait:    FixedBackoff{Interval: interval},
		clock:   realClock{},
		timeout: timeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Wait re-fetches the run until its status is terminal. It returns the last
// observed run and the number of status checks made. On timeout the run is
// cancelled remotely on a best-effort basis and ErrRunTimeout is returned.
func (p *Poller) Wait(ctx context.Context, run assistants.Run, onStatus StatusFunc) (assistants.Run, int, error) {
	start := p.clock.Now()
	deadline := start.Add(p.timeout)
	phase := run.Status.Phase()
	polls := 0

	for phase != domain.PhaseTerminal {
		delay := p.wait.Next(polls)
		if p.timeout > 0 {
			remaining := deadline.Sub(p.clock.Now())
			if remaining <= 0 {
				return run, polls, p.timedOut(ctx, run, polls)
			}
			delay = min(delay, remaining)
		}

		select {
		case <-ctx.Done():
			return run, polls, p.interrupted(ctx, run, polls)
		case <-p.clock.After(delay):
		}

		next, err := p.client.RetrieveRun(ctx, run.ThreadID, run.ID)
		polls++
		if err != nil {
			if ctx.Err() != nil {
				return run, polls, p.interrupted(ctx, run, polls)
			}
			return run, polls, err
		}
		if next.ThreadID == "" {
			next.ThreadID = run.ThreadID
		}
		run = next

		if nextPhase := run.Status.Phase(); nextPhase != phase {
			slog.Debug("Run phase changed", "run_id", run.ID, "from", phase.String(), "to", nextPhase.String())
			phase = nextPhase
		}
		if onStatus != nil {
			onStatus(run.Status)
		}
	}
	return run, polls, nil
}

// interrupted reports why ctx ended the wait. A passed deadline is a timeout
// and cancels the run like the poll budget does.
func (p *Poller) interrupted(ctx context.Context, run assistants.Run, polls int) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return p.timedOut(ctx, run, polls)
	}
	return ctx.Err()
}

func (p *Poller) timedOut(ctx context.Context, run assistants.Run, polls int) error {
	p.cancel(ctx, run)
	slog.Warn("Run timed out",
		"run_id", run.ID,
		"status", string(run.Status),
		"polls", polls,
		"timeout", p.timeout)
	return ErrRunTimeout
}

func (p *Poller) cancel(ctx context.Context, run assistants.Run) {
	if run.Status == domain.RunCancelling {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelTimeout)
	defer cancel()
	if _, err := p.client.CancelRun(cctx, run.ThreadID, run.ID); err != nil {
		slog.Warn("Failed to cancel timed out run", "run_id", run.ID, "error", err)
	}
}
