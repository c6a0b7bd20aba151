package domain

import (
	"slices"
	"time"
)

// AuthStatus is the authentication state of a browser session.
type AuthStatus string

const (
	AuthUnauthenticated AuthStatus = "unauthenticated"
	AuthAuthenticated   AuthStatus = "authenticated"
	AuthFailed          AuthStatus = "failed"
)

// Role identifies the author of a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is a single transcript entry.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// FileRef points at a document stored by the remote assistant API.
type FileRef struct {
	FileID     string     `json:"file_id"`
	Filename   string     `json:"filename"`
	Capability Capability `json:"capability"`
	UploadedAt time.Time  `json:"uploaded_at"`
	// Attached is set once the file has been sent with a chat message.
	Attached bool `json:"attached"`
}

// Session holds the state of one browser session.
//
// AssistantID and ThreadID are created at most once and then reused for
// every turn; recreating either would split the remote conversation.
type Session struct {
	ID          string
	AuthStatus  AuthStatus
	Username    string
	DisplayName string
	Model       string
	AssistantID string
	ThreadID    string
	Messages    []Message
	FileRefs    []FileRef
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ExpiresAt   time.Time
}

// IsAuthenticated returns true once a user has signed in to the session.
func (s *Session) IsAuthenticated() bool {
	return s.AuthStatus == AuthAuthenticated
}

// IsExpired reports whether the session expired at or before now.
func (s *Session) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// AppendMessage adds a message to the tail of the transcript.
func (s *Session) AppendMessage(role Role, content string, at time.Time) {
	s.Messages = append(s.Messages, Message{Role: role, Content: content, CreatedAt: at})
}

// ReplaceFileRefs swaps the whole file set for refs.
func (s *Session) ReplaceFileRefs(refs []FileRef) {
	s.FileRefs = slices.Clone(refs)
}

// PendingFileRefs returns the files that have not been sent yet.
func (s *Session) PendingFileRefs() []FileRef {
	var pending []FileRef
	for _, ref := range s.FileRefs {
		if !ref.Attached {
			pending = append(pending, ref)
		}
	}
	return pending
}

// MarkFilesAttached flags every file in the set as sent.
func (s *Session) MarkFilesAttached() {
	for i := range s.FileRefs {
		s.FileRefs[i].Attached = true
	}
}

// Clone returns a deep copy safe to hand outside the session lock.
func (s *Session) Clone() *Session {
	c := *s
	c.Messages = slices.Clone(s.Messages)
	c.FileRefs = slices.Clone(s.FileRefs)
	return &c
}
