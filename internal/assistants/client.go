// Package assistants is the boundary to the hosted assistant API. The rest of
// the application depends only on the Client interface.
package assistants

import (
	"context"
	"errors"

	"github.com/ashureev/docchat/internal/domain"
)

// PurposeAssistants is the storage purpose for documents used by assistants.
const PurposeAssistants = "assistants"

// ErrNoMessages is returned when a thread has no messages to read.
var ErrNoMessages = errors.New("thread has no messages")

// AssistantSpec describes an assistant to create.
type AssistantSpec struct {
	Name         string
	Model        string
	Instructions string
	Tools        []domain.Tool
}

// Attachment binds an uploaded file to a message with the tools that may read it.
type Attachment struct {
	FileID string
	Tools  []domain.Tool
}

// MessageInput is a user message posted to a thread.
type MessageInput struct {
	Content     string
	Attachments []Attachment
}

// RunInput starts an assistant run on a thread.
type RunInput struct {
	ThreadID    string
	AssistantID string
	// Model overrides the assistant's model for this run when set.
	Model string
}

// Run is a snapshot of a remote run.
type Run struct {
	ID        string
	ThreadID  string
	Status    domain.RunStatus
	LastError string
}

// ThreadMessage is a message read back from a thread.
type ThreadMessage struct {
	ID    string
	Role  string
	Texts []string
}

// FirstText returns the message's primary text content.
func (m ThreadMessage) FirstText() (string, bool) {
	if len(m.Texts) == 0 {
		return "", false
	}
	return m.Texts[0], true
}

// File is remote file metadata.
type File struct {
	ID       string
	Filename string
	Bytes    int64
	Purpose  string
}

// FileUpload is a document to store remotely.
type FileUpload struct {
	Filename string
	Data     []byte
	Purpose  string
}

// Client is the subset of the hosted assistant API this service uses.
type Client interface {
	CreateAssistant(ctx context.Context, spec AssistantSpec) (string, error)
	CreateThread(ctx context.Context) (string, error)
	CreateMessage(ctx context.Context, threadID string, msg MessageInput) (string, error)
	CreateRun(ctx context.Context, in RunInput) (Run, error)
	RetrieveRun(ctx context.Context, threadID, runID string) (Run, error)
	CancelRun(ctx context.Context, threadID, runID string) (Run, error)
	// ListMessages returns up to limit messages, newest first.
	ListMessages(ctx context.Context, threadID string, limit int) ([]ThreadMessage, error)
	CreateFile(ctx context.Context, upload FileUpload) (File, error)
	RetrieveFile(ctx context.Context, fileID string) (File, error)
}
