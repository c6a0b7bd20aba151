// Package session owns per-browser session state: authentication, the
// memoized remote assistant and thread, the transcript and the file set.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/docchat/internal/domain"
	"github.com/ashureev/docchat/internal/store"
	"github.com/google/uuid"
)

// ErrNotFound is returned when a session does not exist or has expired.
var ErrNotFound = errors.New("session not found")

// touchInterval rate-limits expiry extension on plain reads.
const touchInterval = time.Minute

// Manager serializes all mutations of a session behind a per-session mutex
// and persists the result through the repository.
type Manager struct {
	repo         store.Repository
	ttl          time.Duration
	defaultModel string
	now          func() time.Time

	// locks holds a mutex only while some caller holds or waits for it.
	locksMu sync.Mutex
	locks   map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a session manager. ttl is the sliding expiry applied on
// every access.
func NewManager(repo store.Repository, ttl time.Duration, defaultModel string, opts ...Option) *Manager {
	m := &Manager{
		repo:         repo,
		ttl:          ttl,
		defaultModel: defaultModel,
		now:          time.Now,
		locks:        make(map[string]*sessionLock),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) acquire(id string) *sessionLock {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sessionLock{}
		m.locks[id] = l
	}
	l.refs++
	return l
}

func (m *Manager) release(id string, l *sessionLock) {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, id)
	}
}

func (m *Manager) lock(id string) func() {
	l := m.acquire(id)
	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.release(id, l)
	}
}

// tryLock is lock without waiting; ok is false when the session is busy.
func (m *Manager) tryLock(id string) (unlock func(), ok bool) {
	l := m.acquire(id)
	if !l.mu.TryLock() {
		m.release(id, l)
		return nil, false
	}
	return func() {
		l.mu.Unlock()
		m.release(id, l)
	}, true
}

func (m *Manager) lockCount() int {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	return len(m.locks)
}

// GetOrCreate returns the live session for id. A new anonymous session with a
// fresh ID is created when id is empty, unknown or expired. Calling it again
// with the returned ID yields the same session, memoized IDs included.
//
// Reads never wait on the session lock, so they stay responsive while a chat
// turn is in flight.
func (m *Manager) GetOrCreate(ctx context.Context, id string) (*domain.Session, error) {
	if id != "" {
		sess, err := m.load(ctx, id)
		if err == nil {
			if m.now().Sub(sess.UpdatedAt) >= touchInterval {
				m.tryTouch(ctx, id)
			}
			return sess, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	now := m.now()
	sess := &domain.Session{
		ID:         uuid.NewString(),
		AuthStatus: domain.AuthUnauthenticated,
		Model:      m.defaultModel,
		CreatedAt:  now,
		UpdatedAt:  now,
		ExpiresAt:  now.Add(m.ttl),
	}
	if err := m.repo.SaveSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	slog.Info("Session created", "session_id", sess.ID)
	return sess, nil
}

// tryTouch extends the expiry unless a writer holds the session; the writer
// extends it when it saves.
func (m *Manager) tryTouch(ctx context.Context, id string) {
	unlock, ok := m.tryLock(id)
	if !ok {
		return
	}
	defer unlock()

	sess, err := m.load(ctx, id)
	if err != nil {
		return
	}
	m.touch(sess)
	if err := m.repo.SaveSession(ctx, sess); err != nil {
		slog.Warn("Failed to extend session expiry", "session_id", id, "error", err)
	}
}

// Get returns a live session without extending its expiry.
func (m *Manager) Get(ctx context.Context, id string) (*domain.Session, error) {
	return m.load(ctx, id)
}

func (m *Manager) load(ctx context.Context, id string) (*domain.Session, error) {
	sess, err := m.repo.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return nil, ErrNotFound
	}
	if sess.IsExpired(m.now()) {
		return nil, ErrNotFound
	}
	return sess, nil
}

func (m *Manager) touch(sess *domain.Session) {
	now := m.now()
	sess.UpdatedAt = now
	sess.ExpiresAt = now.Add(m.ttl)
}

// WithSession runs fn against the session while holding its lock and
// persists the session afterwards. Nothing is persisted when fn fails.
// The session passed to fn must not be retained after fn returns.
func (m *Manager) WithSession(ctx context.Context, id string, fn func(*domain.Session) error) (*domain.Session, error) {
	unlock := m.lock(id)
	defer unlock()

	sess, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(sess); err != nil {
		return nil, err
	}
	m.touch(sess)
	if err := m.repo.SaveSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	return sess.Clone(), nil
}

// RecordMessage appends a message to the tail of the transcript.
func (m *Manager) RecordMessage(ctx context.Context, id string, role domain.Role, text string) error {
	if !role.Valid() {
		return fmt.Errorf("invalid role %q", role)
	}
	_, err := m.WithSession(ctx, id, func(s *domain.Session) error {
		s.AppendMessage(role, text, m.now())
		return nil
	})
	return err
}

// SetFileRefs replaces the session's file set.
func (m *Manager) SetFileRefs(ctx context.Context, id string, refs []domain.FileRef) error {
	_, err := m.WithSession(ctx, id, func(s *domain.Session) error {
		s.ReplaceFileRefs(refs)
		return nil
	})
	return err
}

// Authenticate marks the session as signed in by user.
func (m *Manager) Authenticate(ctx context.Context, id string, user domain.User) error {
	_, err := m.WithSession(ctx, id, func(s *domain.Session) error {
		s.AuthStatus = domain.AuthAuthenticated
		s.Username = user.Username
		s.DisplayName = user.DisplayName()
		return nil
	})
	return err
}

// MarkFailed records a rejected sign-in attempt.
func (m *Manager) MarkFailed(ctx context.Context, id string) error {
	_, err := m.WithSession(ctx, id, func(s *domain.Session) error {
		s.AuthStatus = domain.AuthFailed
		s.Username = ""
		s.DisplayName = ""
		return nil
	})
	return err
}

// SetModel changes the model used for subsequent turns.
func (m *Manager) SetModel(ctx context.Context, id, model string) error {
	_, err := m.WithSession(ctx, id, func(s *domain.Session) error {
		s.Model = model
		return nil
	})
	return err
}

// Destroy deletes a session and all its state.
func (m *Manager) Destroy(ctx context.Context, id string) error {
	unlock := m.lock(id)
	defer unlock()
	if err := m.repo.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("destroy session: %w", err)
	}
	slog.Info("Session destroyed", "session_id", id)
	return nil
}
