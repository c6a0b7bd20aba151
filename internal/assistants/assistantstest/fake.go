// Package assistantstest provides an in-memory assistants.Client for tests.
package assistantstest

import (
	"context"
	"fmt"
	"sync"

	"github.com/ashureev/docchat/internal/assistants"
	"github.com/ashureev/docchat/internal/domain"
)

// Fake is an in-memory assistants.Client. Runs step through RunStatuses: the
// first status is returned by CreateRun and each RetrieveRun advances one
// step, repeating the last status once the script is exhausted.
type Fake struct {
	mu sync.Mutex

	RunStatuses []domain.RunStatus
	Reply       string
	// UploadErrors fails CreateFile for the named files.
	UploadErrors map[string]error
	// LookupErrors fails RetrieveFile for the given file IDs.
	LookupErrors map[string]error

	CreateAssistantErr error
	CreateThreadErr    error
	CreateMessageErr   error
	CreateRunErr       error
	RetrieveRunErr     error

	// StallRetrieve makes RetrieveRun block until its context ends.
	StallRetrieve bool

	Assistants []assistants.AssistantSpec
	Threads    int
	Messages   []assistants.MessageInput
	Runs       []assistants.RunInput
	Retrieves  int
	Cancels    int
	Files      map[string]assistants.File

	step int
	seq  int
}

var _ assistants.Client = (*Fake)(nil)

// New returns a fake whose runs complete with reply.
func New(reply string, statuses ...domain.RunStatus) *Fake {
	if len(statuses) == 0 {
		statuses = []domain.RunStatus{domain.RunCompleted}
	}
	return &Fake{
		RunStatuses: statuses,
		Reply:       reply,
		Files:       make(map[string]assistants.File),
	}
}

func (f *Fake) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s_%d", prefix, f.seq)
}

func (f *Fake) status() domain.RunStatus {
	i := f.step
	if i >= len(f.RunStatuses) {
		i = len(f.RunStatuses) - 1
	}
	return f.RunStatuses[i]
}

func (f *Fake) CreateAssistant(_ context.Context, spec assistants.AssistantSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateAssistantErr != nil {
		return "", f.CreateAssistantErr
	}
	f.Assistants = append(f.Assistants, spec)
	return f.nextID("asst"), nil
}

func (f *Fake) CreateThread(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateThreadErr != nil {
		return "", f.CreateThreadErr
	}
	f.Threads++
	return f.nextID("thread"), nil
}

func (f *Fake) CreateMessage(_ context.Context, _ string, msg assistants.MessageInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateMessageErr != nil {
		return "", f.CreateMessageErr
	}
	f.Messages = append(f.Messages, msg)
	return f.nextID("msg"), nil
}

func (f *Fake) CreateRun(_ context.Context, in assistants.RunInput) (assistants.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateRunErr != nil {
		return assistants.Run{}, f.CreateRunErr
	}
	f.Runs = append(f.Runs, in)
	f.step = 0
	return assistants.Run{ID: f.nextID("run"), ThreadID: in.ThreadID, Status: f.status()}, nil
}

func (f *Fake) RetrieveRun(ctx context.Context, threadID, runID string) (assistants.Run, error) {
	f.mu.Lock()
	f.Retrieves++
	stall := f.StallRetrieve
	f.mu.Unlock()
	if stall {
		<-ctx.Done()
		return assistants.Run{}, ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RetrieveRunErr != nil {
		return assistants.Run{}, f.RetrieveRunErr
	}
	f.step++
	return assistants.Run{ID: runID, ThreadID: threadID, Status: f.status()}, nil
}

func (f *Fake) CancelRun(_ context.Context, threadID, runID string) (assistants.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Cancels++
	return assistants.Run{ID: runID, ThreadID: threadID, Status: domain.RunCancelling}, nil
}

func (f *Fake) ListMessages(_ context.Context, _ string, limit int) ([]assistants.ThreadMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit <= 0 {
		return nil, nil
	}
	return []assistants.ThreadMessage{{
		ID:    "msg_reply",
		Role:  string(domain.RoleAssistant),
		Texts: []string{f.Reply},
	}}, nil
}

func (f *Fake) CreateFile(_ context.Context, upload assistants.FileUpload) (assistants.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.UploadErrors[upload.Filename]; err != nil {
		return assistants.File{}, err
	}
	file := assistants.File{
		ID:       f.nextID("file"),
		Filename: upload.Filename,
		Bytes:    int64(len(upload.Data)),
		Purpose:  upload.Purpose,
	}
	f.Files[file.ID] = file
	return file, nil
}

func (f *Fake) RetrieveFile(_ context.Context, fileID string) (assistants.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.LookupErrors[fileID]; err != nil {
		return assistants.File{}, err
	}
	file, ok := f.Files[fileID]
	if !ok {
		return assistants.File{}, fmt.Errorf("file %s not found", fileID)
	}
	return file, nil
}

// MessageCount returns the number of messages created so far.
func (f *Fake) MessageCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Messages)
}

// RunCount returns the number of runs created so far.
func (f *Fake) RunCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Runs)
}
