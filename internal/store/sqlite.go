package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/docchat/internal/domain"
	"github.com/ashureev/docchat/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		auth_status TEXT NOT NULL,
		username TEXT NOT NULL DEFAULT '',
		display_name TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		assistant_id TEXT,
		thread_id TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);

	CREATE TABLE IF NOT EXISTS messages (
		session_id TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, seq)
	);

	CREATE TABLE IF NOT EXISTS file_refs (
		session_id TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		file_id TEXT NOT NULL,
		filename TEXT NOT NULL,
		capability TEXT NOT NULL,
		attached INTEGER NOT NULL DEFAULT 0,
		uploaded_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, position)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetSession retrieves a session with its transcript and file set.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	query := `
		SELECT session_id, auth_status, username, display_name, model,
		       assistant_id, thread_id, created_at, updated_at, expires_at
		FROM sessions WHERE session_id = ?`

	row := s.db.QueryRowContext(ctx, query, sessionID)

	var sess domain.Session
	var authStatus string
	var assistantID, threadID sql.NullString
	var createdAt, updatedAt, expiresAt int64

	err := row.Scan(
		&sess.ID, &authStatus, &sess.Username, &sess.DisplayName, &sess.Model,
		&assistantID, &threadID, &createdAt, &updatedAt, &expiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	sess.AuthStatus = domain.AuthStatus(authStatus)
	sess.AssistantID = assistantID.String
	sess.ThreadID = threadID.String
	sess.CreatedAt = time.Unix(createdAt, 0)
	sess.UpdatedAt = time.Unix(updatedAt, 0)
	sess.ExpiresAt = time.Unix(expiresAt, 0)

	if sess.Messages, err = s.loadMessages(ctx, sessionID); err != nil {
		return nil, err
	}
	if sess.FileRefs, err = s.loadFileRefs(ctx, sessionID); err != nil {
		return nil, err
	}

	return &sess, nil
}

func (s *SQLiteStore) loadMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM messages WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var messages []domain.Message
	for rows.Next() {
		var msg domain.Message
		var role string
		var createdAt int64
		if err := rows.Scan(&role, &msg.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.Role = domain.Role(role)
		msg.CreatedAt = time.Unix(createdAt, 0)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

func (s *SQLiteStore) loadFileRefs(ctx context.Context, sessionID string) ([]domain.FileRef, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT file_id, filename, capability, attached, uploaded_at
		FROM file_refs WHERE session_id = ? ORDER BY position`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query file refs: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close file ref rows", "error", closeErr)
		}
	}()

	var refs []domain.FileRef
	for rows.Next() {
		var ref domain.FileRef
		var capability string
		var uploadedAt int64
		if err := rows.Scan(&ref.FileID, &ref.Filename, &capability, &ref.Attached, &uploadedAt); err != nil {
			return nil, fmt.Errorf("scan file ref row: %w", err)
		}
		ref.Capability = domain.Capability(capability)
		ref.UploadedAt = time.Unix(uploadedAt, 0)
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate file refs: %w", err)
	}
	return refs, nil
}

// SaveSession creates or updates a session in a single transaction.
func (s *SQLiteStore) SaveSession(ctx context.Context, session *domain.Session) error {
	return shared.RetryOnConflict(ctx, "save session", func() error {
		return s.saveSessionOnce(ctx, session)
	})
}

func (s *SQLiteStore) saveSessionOnce(ctx context.Context, session *domain.Session) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				slog.Warn("failed to roll back session save", "error", rbErr, "session_id", session.ID)
			}
		}
	}()

	upsert := `
	INSERT INTO sessions (session_id, auth_status, username, display_name, model,
		assistant_id, thread_id, created_at, updated_at, expires_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		auth_status = excluded.auth_status,
		username = excluded.username,
		display_name = excluded.display_name,
		model = excluded.model,
		assistant_id = COALESCE(sessions.assistant_id, excluded.assistant_id),
		thread_id = COALESCE(sessions.thread_id, excluded.thread_id),
		updated_at = excluded.updated_at,
		expires_at = excluded.expires_at`

	if _, err = tx.ExecContext(ctx, upsert,
		session.ID, string(session.AuthStatus), session.Username, session.DisplayName, session.Model,
		nullable(session.AssistantID), nullable(session.ThreadID),
		session.CreatedAt.Unix(), session.UpdatedAt.Unix(), session.ExpiresAt.Unix(),
	); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	for i, msg := range session.Messages {
		if _, err = tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO messages (session_id, seq, role, content, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			session.ID, i, string(msg.Role), msg.Content, msg.CreatedAt.Unix(),
		); err != nil {
			return fmt.Errorf("insert message %d: %w", i, err)
		}
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM file_refs WHERE session_id = ?`, session.ID); err != nil {
		return fmt.Errorf("clear file refs: %w", err)
	}
	for i, ref := range session.FileRefs {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO file_refs (session_id, position, file_id, filename, capability, attached, uploaded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			session.ID, i, ref.FileID, ref.Filename, string(ref.Capability), ref.Attached, ref.UploadedAt.Unix(),
		); err != nil {
			return fmt.Errorf("insert file ref %d: %w", i, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit session: %w", err)
	}
	return nil
}

// DeleteSession removes a session and everything attached to it.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	return shared.RetryOnConflict(ctx, "delete session", func() error {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		return nil
	})
}

// DeleteExpiredSessions removes sessions whose expiry is at or before now.
func (s *SQLiteStore) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return result.RowsAffected()
}

func nullable(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}
