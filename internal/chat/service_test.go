package chat

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/ashureev/docchat/internal/assistants/assistantstest"
	"github.com/ashureev/docchat/internal/config"
	"github.com/ashureev/docchat/internal/credentials"
	"github.com/ashureev/docchat/internal/domain"
	"github.com/ashureev/docchat/internal/files"
	"github.com/ashureev/docchat/internal/session"
	"github.com/ashureev/docchat/internal/store"
	"golang.org/x/crypto/bcrypt"
)

type serviceFixture struct {
	fake     *assistantstest.Fake
	sessions *session.Manager
	router   *files.Router
	service  *Service
	creds    *credentials.Store
}

func newServiceFixture(t *testing.T, policy string, statuses ...domain.RunStatus) *serviceFixture {
	t.Helper()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	hash, err := bcrypt.GenerateFromPassword([]byte("admin123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword failed: %v", err)
	}
	creds, err := credentials.New([]domain.User{{Username: "admin", Name: "Administrator", PasswordHash: string(hash)}})
	if err != nil {
		t.Fatalf("credentials.New failed: %v", err)
	}

	fake := assistantstest.New("The CSV has 2 rows.", statuses...)
	router := files.NewRouter(fake, 0)
	sessions := session.NewManager(repo, time.Hour, "gpt-4.1-mini")
	poller := NewPoller(fake, time.Second, time.Minute, WithPollClock(newFakeClock()))

	return &serviceFixture{
		fake:     fake,
		sessions: sessions,
		router:   router,
		service:  NewService(sessions, NewOrchestrator(fake, router, poller), policy, nil),
		creds:    creds,
	}
}

func (f *serviceFixture) login(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	sess, err := f.sessions.GetOrCreate(ctx, "")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	user, err := f.creds.Validate("admin", "admin123")
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if err := f.sessions.Authenticate(ctx, sess.ID, user); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	return sess.ID
}

func (f *serviceFixture) upload(t *testing.T, sessionID string, uploads ...files.Upload) []domain.FileRef {
	t.Helper()
	refs := files.Refs(f.router.Upload(context.Background(), uploads))
	if err := f.sessions.SetFileRefs(context.Background(), sessionID, refs); err != nil {
		t.Fatalf("SetFileRefs failed: %v", err)
	}
	return refs
}

func TestSendEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, config.AttachNextTurn, domain.RunQueued, domain.RunInProgress, domain.RunCompleted)
	sessionID := f.login(t)
	refs := f.upload(t, sessionID, files.Upload{Filename: "report.csv", Data: []byte("a,b\n1,2\n3,4\n")})

	var seen []domain.RunStatus
	result, err := f.service.Send(ctx, sessionID, "summarize this", "chat_http", func(s domain.RunStatus) {
		seen = append(seen, s)
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if !result.OK() || result.Reply() != "The CSV has 2 rows." {
		t.Fatalf("unexpected result: %+v", result)
	}

	if f.fake.MessageCount() != 1 || f.fake.RunCount() != 1 {
		t.Fatalf("expected one message and one run, got %d and %d", f.fake.MessageCount(), f.fake.RunCount())
	}
	attachments := f.fake.Messages[0].Attachments
	if len(attachments) != 1 || attachments[0].FileID != refs[0].FileID {
		t.Fatalf("unexpected attachments: %+v", attachments)
	}
	if !slices.Equal(attachments[0].Tools, []domain.Tool{domain.ToolCodeInterpreter}) {
		t.Errorf("report.csv should use code_interpreter, got %v", attachments[0].Tools)
	}
	if want := []domain.RunStatus{domain.RunQueued, domain.RunInProgress, domain.RunCompleted}; !slices.Equal(seen, want) {
		t.Errorf("status updates = %v, want %v", seen, want)
	}

	sess, err := f.sessions.Get(ctx, sessionID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(sess.Messages) != 2 {
		t.Fatalf("expected 2 transcript messages, got %d", len(sess.Messages))
	}
	if sess.Messages[0].Role != domain.RoleUser || sess.Messages[0].Content != "summarize this" {
		t.Errorf("unexpected first message: %+v", sess.Messages[0])
	}
	if sess.Messages[1].Role != domain.RoleAssistant || sess.Messages[1].Content != "The CSV has 2 rows." {
		t.Errorf("unexpected second message: %+v", sess.Messages[1])
	}
	if sess.AssistantID == "" || sess.ThreadID == "" {
		t.Error("assistant and thread ids should be memoized")
	}
	if len(sess.FileRefs) != 1 || !sess.FileRefs[0].Attached {
		t.Errorf("file should be marked attached: %+v", sess.FileRefs)
	}
}

func TestSendAttachPolicies(t *testing.T) {
	tests := []struct {
		policy          string
		wantSecondTurns int
	}{
		{config.AttachNextTurn, 0},
		{config.AttachEveryTurn, 1},
	}
	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			ctx := context.Background()
			f := newServiceFixture(t, tt.policy)
			sessionID := f.login(t)
			f.upload(t, sessionID, files.Upload{Filename: "paper.pdf", Data: []byte("%PDF")})

			for _, text := range []string{"first", "second"} {
				if _, err := f.service.Send(ctx, sessionID, text, "chat_http", nil); err != nil {
					t.Fatalf("Send failed: %v", err)
				}
			}

			if got := len(f.fake.Messages[0].Attachments); got != 1 {
				t.Errorf("first turn attachments = %d, want 1", got)
			}
			if got := len(f.fake.Messages[1].Attachments); got != tt.wantSecondTurns {
				t.Errorf("second turn attachments = %d, want %d", got, tt.wantSecondTurns)
			}
		})
	}
}

func TestSendRecordsFailuresInTranscript(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, config.AttachNextTurn, domain.RunQueued, domain.RunFailed)
	sessionID := f.login(t)
	f.upload(t, sessionID, files.Upload{Filename: "notes.txt", Data: []byte("x")})

	result, err := f.service.Send(ctx, sessionID, "hello", "chat_http", nil)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if result.Outcome != OutcomeRunFailed {
		t.Fatalf("expected run_failed, got %s", result.Outcome)
	}

	sess, _ := f.sessions.Get(ctx, sessionID)
	if len(sess.Messages) != 2 || sess.Messages[1].Content != "❌ Run failed with status: failed" {
		t.Errorf("unexpected transcript: %+v", sess.Messages)
	}
	if !sess.FileRefs[0].Attached {
		t.Error("files sent with the message are attached even if the run failed")
	}
}

func TestSendKeepsFilesPendingWhenMessageNotSent(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, config.AttachNextTurn)
	f.fake.CreateThreadErr = errors.New("service unavailable")
	sessionID := f.login(t)
	f.upload(t, sessionID, files.Upload{Filename: "notes.txt", Data: []byte("x")})

	result, err := f.service.Send(ctx, sessionID, "hello", "chat_http", nil)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if result.Outcome != OutcomeError {
		t.Fatalf("expected error outcome, got %s", result.Outcome)
	}

	sess, _ := f.sessions.Get(ctx, sessionID)
	if sess.FileRefs[0].Attached {
		t.Error("file must stay pending when no message was sent")
	}
	if sess.AssistantID == "" {
		t.Error("assistant created before the failure should be kept")
	}
	if len(sess.Messages) != 2 {
		t.Errorf("expected user and error messages, got %d", len(sess.Messages))
	}
}

func TestSendRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, config.AttachNextTurn)

	anon, err := f.sessions.GetOrCreate(ctx, "")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if _, err := f.service.Send(ctx, anon.ID, "hello", "chat_http", nil); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("expected ErrUnauthenticated, got %v", err)
	}

	sessionID := f.login(t)
	if _, err := f.service.Send(ctx, sessionID, "   ", "chat_http", nil); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("expected ErrEmptyMessage, got %v", err)
	}
	if f.fake.MessageCount() != 0 {
		t.Error("rejected input must not reach the remote thread")
	}
}

func TestSendTimesOutStalledTurnAndReleasesSession(t *testing.T) {
	f := newServiceFixture(t, config.AttachNextTurn, domain.RunQueued)
	f.fake.StallRetrieve = true
	poller := NewPoller(f.fake, 10*time.Millisecond, 200*time.Millisecond)
	f.service = NewService(f.sessions, NewOrchestrator(f.fake, f.router, poller), config.AttachNextTurn, nil)
	sessionID := f.login(t)

	// A disconnected client does not end the turn; the run timeout does.
	reqCtx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan TurnResult, 1)
	go func() {
		result, err := f.service.Send(reqCtx, sessionID, "hello", "chat_http", nil)
		if err != nil {
			t.Errorf("Send failed: %v", err)
		}
		done <- result
	}()

	var result TurnResult
	select {
	case result = <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("turn did not end within the run timeout")
	}
	if result.Outcome != OutcomeTimeout {
		t.Fatalf("expected timeout outcome, got %+v", result)
	}

	ctx := context.Background()
	sess, err := f.sessions.Get(ctx, sessionID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(sess.Messages) != 2 || sess.Messages[1].Content != result.Reply() {
		t.Errorf("unexpected transcript: %+v", sess.Messages)
	}
	if err := f.sessions.Destroy(ctx, sessionID); err != nil {
		t.Errorf("Destroy failed after timed out turn: %v", err)
	}
}
