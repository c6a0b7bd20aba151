package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/docchat/internal/assistants/assistantstest"
	"github.com/ashureev/docchat/internal/domain"
	"github.com/ashureev/docchat/internal/files"
)

// fakeClock advances instantly on every wait and records the delays.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
	// block makes After never fire.
	block bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waits = append(c.waits, d)
	ch := make(chan time.Time, 1)
	if c.block {
		return ch
	}
	c.now = c.now.Add(d)
	ch <- c.now
	return ch
}

func (c *fakeClock) waitCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waits)
}

func newTestOrchestrator(fake *assistantstest.Fake, clock *fakeClock, timeout time.Duration) *Orchestrator {
	poller := NewPoller(fake, time.Second, timeout, WithPollClock(clock))
	return NewOrchestrator(fake, files.NewRouter(fake, 0), poller)
}

func newTestSession() *domain.Session {
	return &domain.Session{ID: "sess-1", AuthStatus: domain.AuthAuthenticated, Model: "gpt-4.1-mini"}
}

func TestConversePollsUntilCompleted(t *testing.T) {
	fake := assistantstest.New("Here is the summary.",
		domain.RunQueued, domain.RunInProgress, domain.RunCompleted)
	clock := newFakeClock()
	o := newTestOrchestrator(fake, clock, 0)

	result := o.Converse(context.Background(), newTestSession(), "hello", nil)

	if !result.OK() {
		t.Fatalf("expected completed turn, got %+v", result)
	}
	if result.Reply() != "Here is the summary." {
		t.Errorf("unexpected reply %q", result.Reply())
	}
	if fake.Retrieves != 2 {
		t.Errorf("expected 2 status polls, got %d", fake.Retrieves)
	}
	if clock.waitCount() != 2 {
		t.Errorf("expected 2 waits, got %d", clock.waitCount())
	}
	for _, d := range clock.waits {
		if d != time.Second {
			t.Errorf("expected fixed 1s wait, got %s", d)
		}
	}
	if result.Polls != 2 || result.Status != domain.RunCompleted {
		t.Errorf("unexpected result bookkeeping: %+v", result)
	}
}

func TestConverseReportsFailedRun(t *testing.T) {
	fake := assistantstest.New("unused", domain.RunQueued, domain.RunFailed)
	o := newTestOrchestrator(fake, newFakeClock(), 0)

	result := o.Converse(context.Background(), newTestSession(), "hello", nil)

	if result.Outcome != OutcomeRunFailed {
		t.Fatalf("expected run_failed, got %s", result.Outcome)
	}
	if !strings.Contains(result.Reply(), "failed") {
		t.Errorf("reply should name the status, got %q", result.Reply())
	}
	if result.Err != nil {
		t.Errorf("a failed run is not an error, got %v", result.Err)
	}
	if fake.Retrieves != 1 {
		t.Errorf("expected 1 status poll, got %d", fake.Retrieves)
	}
}

func TestConverseTimesOut(t *testing.T) {
	fake := assistantstest.New("unused", domain.RunQueued)
	o := newTestOrchestrator(fake, newFakeClock(), 3*time.Second)

	result := o.Converse(context.Background(), newTestSession(), "hello", nil)

	if result.Outcome != OutcomeTimeout || !errors.Is(result.Err, ErrRunTimeout) {
		t.Fatalf("expected timeout, got %+v", result)
	}
	if result.Polls != 3 {
		t.Errorf("expected 3 polls within the budget, got %d", result.Polls)
	}
	if fake.Cancels != 1 {
		t.Errorf("expected the run to be cancelled once, got %d", fake.Cancels)
	}
	if !strings.HasPrefix(result.Reply(), "❌ Error:") {
		t.Errorf("unexpected timeout reply %q", result.Reply())
	}
}

func TestConverseTimeoutBoundsStalledRemoteCalls(t *testing.T) {
	fake := assistantstest.New("unused", domain.RunQueued)
	fake.StallRetrieve = true
	poller := NewPoller(fake, 10*time.Millisecond, 200*time.Millisecond)
	o := NewOrchestrator(fake, files.NewRouter(fake, 0), poller)

	done := make(chan TurnResult, 1)
	go func() {
		done <- o.Converse(context.WithoutCancel(context.Background()), newTestSession(), "hello", nil)
	}()

	var result TurnResult
	select {
	case result = <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("turn still blocked on a stalled status check after the run timeout")
	}

	if result.Outcome != OutcomeTimeout || !errors.Is(result.Err, ErrRunTimeout) {
		t.Fatalf("expected timeout, got %+v", result)
	}
	if fake.Cancels != 1 {
		t.Errorf("expected the run to be cancelled once, got %d", fake.Cancels)
	}
}

func TestConverseHonorsContextCancellation(t *testing.T) {
	fake := assistantstest.New("unused", domain.RunQueued)
	clock := newFakeClock()
	clock.block = true
	o := newTestOrchestrator(fake, clock, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := o.Converse(ctx, newTestSession(), "hello", nil)

	if result.Outcome != OutcomeError || !errors.Is(result.Err, context.Canceled) {
		t.Fatalf("expected cancellation error, got %+v", result)
	}
}

func TestConverseMemoizesAssistantAndThread(t *testing.T) {
	fake := assistantstest.New("ok")
	o := newTestOrchestrator(fake, newFakeClock(), 0)
	sess := newTestSession()

	o.Converse(context.Background(), sess, "one", nil)
	assistantID, threadID := sess.AssistantID, sess.ThreadID
	sess.Model = "gpt-4o-mini"
	o.Converse(context.Background(), sess, "two", nil)

	if len(fake.Assistants) != 1 || fake.Threads != 1 {
		t.Fatalf("expected one assistant and one thread, got %d and %d", len(fake.Assistants), fake.Threads)
	}
	if sess.AssistantID != assistantID || sess.ThreadID != threadID {
		t.Error("memoized ids changed between turns")
	}
	if fake.MessageCount() != 2 || fake.RunCount() != 2 {
		t.Errorf("expected one message and run per turn, got %d and %d", fake.MessageCount(), fake.RunCount())
	}
	if fake.Runs[1].Model != "gpt-4o-mini" {
		t.Errorf("expected run-level model override, got %q", fake.Runs[1].Model)
	}

	created := fake.Assistants[0]
	if created.Name != AssistantName || created.Model != "gpt-4.1-mini" || len(created.Tools) != 2 {
		t.Errorf("unexpected assistant: %+v", created)
	}
}

func TestConverseReportsRemoteErrors(t *testing.T) {
	fake := assistantstest.New("ok")
	fake.CreateAssistantErr = errors.New("invalid api key")
	o := newTestOrchestrator(fake, newFakeClock(), 0)
	sess := newTestSession()

	result := o.Converse(context.Background(), sess, "hello", nil)

	if result.Outcome != OutcomeError {
		t.Fatalf("expected error outcome, got %s", result.Outcome)
	}
	if !strings.Contains(result.Reply(), "invalid api key") {
		t.Errorf("reply should carry the cause, got %q", result.Reply())
	}
	if result.MessageID != "" || fake.MessageCount() != 0 {
		t.Error("no message may be sent when the assistant is missing")
	}
	if sess.AssistantID != "" {
		t.Error("failed creation must not be memoized")
	}
}
