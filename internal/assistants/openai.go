package assistants

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/docchat/internal/domain"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient implements Client on top of the OpenAI Assistants v2 API.
type OpenAIClient struct {
	client *openai.Client
	logger *slog.Logger
}

// Ensure OpenAIClient implements Client.
var _ Client = (*OpenAIClient)(nil)

// NewOpenAIClient creates a client. baseURL may be empty for the default
// endpoint. requestTimeout bounds each HTTP call; zero leaves it unbounded.
func NewOpenAIClient(apiKey, baseURL string, requestTimeout time.Duration, logger *slog.Logger) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	config.HTTPClient = &http.Client{Timeout: requestTimeout}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(config),
		logger: logger,
	}, nil
}

// CreateAssistant creates a remote assistant and returns its ID.
func (c *OpenAIClient) CreateAssistant(ctx context.Context, spec AssistantSpec) (string, error) {
	req := openai.AssistantRequest{
		Model: spec.Model,
		Tools: toAssistantTools(spec.Tools),
	}
	if spec.Name != "" {
		req.Name = &spec.Name
	}
	if spec.Instructions != "" {
		req.Instructions = &spec.Instructions
	}

	assistant, err := c.client.CreateAssistant(ctx, req)
	if err != nil {
		return "", wrapAPIError("create assistant", err)
	}
	c.logger.Info("Assistant created", "assistant_id", assistant.ID, "model", spec.Model)
	return assistant.ID, nil
}

// CreateThread creates an empty thread and returns its ID.
func (c *OpenAIClient) CreateThread(ctx context.Context) (string, error) {
	thread, err := c.client.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return "", wrapAPIError("create thread", err)
	}
	c.logger.Info("Thread created", "thread_id", thread.ID)
	return thread.ID, nil
}

// CreateMessage posts a user message with optional attachments.
func (c *OpenAIClient) CreateMessage(ctx context.Context, threadID string, msg MessageInput) (string, error) {
	req := openai.MessageRequest{
		Role:    string(openai.ThreadMessageRoleUser),
		Content: msg.Content,
	}
	for _, a := range msg.Attachments {
		tools := make([]openai.ThreadAttachmentTool, 0, len(a.Tools))
		for _, t := range a.Tools {
			tools = append(tools, openai.ThreadAttachmentTool{Type: string(t)})
		}
		req.Attachments = append(req.Attachments, openai.ThreadAttachment{
			FileID: a.FileID,
			Tools:  tools,
		})
	}

	created, err := c.client.CreateMessage(ctx, threadID, req)
	if err != nil {
		return "", wrapAPIError("create message", err)
	}
	return created.ID, nil
}

// CreateRun starts an assistant run on a thread.
func (c *OpenAIClient) CreateRun(ctx context.Context, in RunInput) (Run, error) {
	run, err := c.client.CreateRun(ctx, in.ThreadID, openai.RunRequest{
		AssistantID: in.AssistantID,
		Model:       in.Model,
	})
	if err != nil {
		return Run{}, wrapAPIError("create run", err)
	}
	return fromRun(run), nil
}

// RetrieveRun fetches the current state of a run.
func (c *OpenAIClient) RetrieveRun(ctx context.Context, threadID, runID string) (Run, error) {
	run, err := c.client.RetrieveRun(ctx, threadID, runID)
	if err != nil {
		return Run{}, wrapAPIError("retrieve run", err)
	}
	return fromRun(run), nil
}

// CancelRun asks the remote side to stop a run.
func (c *OpenAIClient) CancelRun(ctx context.Context, threadID, runID string) (Run, error) {
	run, err := c.client.CancelRun(ctx, threadID, runID)
	if err != nil {
		return Run{}, wrapAPIError("cancel run", err)
	}
	return fromRun(run), nil
}

// ListMessages returns up to limit messages, newest first.
func (c *OpenAIClient) ListMessages(ctx context.Context, threadID string, limit int) ([]ThreadMessage, error) {
	order := "desc"
	list, err := c.client.ListMessage(ctx, threadID, &limit, &order, nil, nil, nil)
	if err != nil {
		return nil, wrapAPIError("list messages", err)
	}

	out := make([]ThreadMessage, 0, len(list.Messages))
	for _, m := range list.Messages {
		tm := ThreadMessage{ID: m.ID, Role: m.Role}
		for _, content := range m.Content {
			if content.Text != nil {
				tm.Texts = append(tm.Texts, content.Text.Value)
			}
		}
		out = append(out, tm)
	}
	return out, nil
}

// CreateFile uploads a document.
func (c *OpenAIClient) CreateFile(ctx context.Context, upload FileUpload) (File, error) {
	purpose := upload.Purpose
	if purpose == "" {
		purpose = PurposeAssistants
	}
	f, err := c.client.CreateFileBytes(ctx, openai.FileBytesRequest{
		Name:    upload.Filename,
		Bytes:   upload.Data,
		Purpose: openai.PurposeType(purpose),
	})
	if err != nil {
		return File{}, wrapAPIError("create file", err)
	}
	return fromFile(f), nil
}

// RetrieveFile fetches file metadata.
func (c *OpenAIClient) RetrieveFile(ctx context.Context, fileID string) (File, error) {
	f, err := c.client.GetFile(ctx, fileID)
	if err != nil {
		return File{}, wrapAPIError("retrieve file", err)
	}
	return fromFile(f), nil
}

func toAssistantTools(tools []domain.Tool) []openai.AssistantTool {
	out := make([]openai.AssistantTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.AssistantTool{Type: openai.AssistantToolType(t)})
	}
	return out
}

func fromRun(run openai.Run) Run {
	r := Run{
		ID:       run.ID,
		ThreadID: run.ThreadID,
		Status:   domain.RunStatus(run.Status),
	}
	if run.LastError != nil {
		r.LastError = run.LastError.Message
	}
	return r
}

func fromFile(f openai.File) File {
	return File{
		ID:       f.ID,
		Filename: f.FileName,
		Bytes:    int64(f.Bytes),
		Purpose:  f.Purpose,
	}
}

// APIError is a failed call to the remote API.
type APIError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

func wrapAPIError(op string, err error) error {
	apiErr := &APIError{Op: op, Err: err}

	var openaiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &openaiErr):
		apiErr.StatusCode = openaiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		apiErr.StatusCode = reqErr.HTTPStatusCode
	}
	return apiErr
}
