// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/docchat/internal/domain"
)

// Repository defines the interface for persisting browser sessions.
type Repository interface {
	// GetSession retrieves a session with its transcript and file set.
	// It returns nil, nil when the session does not exist.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// SaveSession creates or updates a session. Transcript messages are
	// append-only: entries already stored are never rewritten. The file set
	// is replaced as a whole.
	SaveSession(ctx context.Context, session *domain.Session) error

	// DeleteSession removes a session and everything attached to it.
	DeleteSession(ctx context.Context, sessionID string) error

	// DeleteExpiredSessions removes sessions whose expiry is at or before now.
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
