package files

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/docchat/internal/assistants"
	"github.com/ashureev/docchat/internal/domain"
)

// Upload is one file submitted by the user.
type Upload struct {
	Filename string
	Data     []byte
}

// UploadResult is the outcome for one file of a batch. Exactly one of Ref and
// Err is set.
type UploadResult struct {
	Filename string
	Ref      *domain.FileRef
	Err      error
}

// Router uploads documents and builds message attachments.
type Router struct {
	client  assistants.Client
	maxSize int64
	now     func() time.Time
}

// NewRouter creates a router. maxSize <= 0 disables the size check.
func NewRouter(client assistants.Client, maxSize int64) *Router {
	return &Router{
		client:  client,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Upload stores every file of the batch remotely. A failure affects only that
// file's result; the rest of the batch is still uploaded.
func (r *Router) Upload(ctx context.Context, uploads []Upload) []UploadResult {
	results := make([]UploadResult, 0, len(uploads))
	for _, u := range uploads {
		ref, err := r.uploadOne(ctx, u)
		if err != nil {
			slog.Warn("File upload failed", "filename", u.Filename, "error", err)
			results = append(results, UploadResult{Filename: u.Filename, Err: err})
			continue
		}
		slog.Info("File uploaded",
			"filename", u.Filename,
			"file_id", ref.FileID,
			"capability", string(ref.Capability))
		results = append(results, UploadResult{Filename: u.Filename, Ref: ref})
	}
	return results
}

func (r *Router) uploadOne(ctx context.Context, u Upload) (*domain.FileRef, error) {
	if !Accepted(u.Filename) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, u.Filename)
	}
	if r.maxSize > 0 && int64(len(u.Data)) > r.maxSize {
		return nil, fmt.Errorf("%s exceeds the %d byte limit", u.Filename, r.maxSize)
	}

	f, err := r.client.CreateFile(ctx, assistants.FileUpload{
		Filename: u.Filename,
		Data:     u.Data,
		Purpose:  assistants.PurposeAssistants,
	})
	if err != nil {
		return nil, err
	}
	return &domain.FileRef{
		FileID:     f.ID,
		Filename:   u.Filename,
		Capability: Classify(u.Filename),
		UploadedAt: r.now(),
	}, nil
}

// Refs returns the successful refs of a batch in submission order.
func Refs(results []UploadResult) []domain.FileRef {
	var refs []domain.FileRef
	for _, res := range results {
		if res.Ref != nil {
			refs = append(refs, *res.Ref)
		}
	}
	return refs
}

// Attachments builds the attachment list for refs. The capability is read
// again from the remote file's metadata; when that lookup fails the file is
// attached with every tool instead of being dropped.
func (r *Router) Attachments(ctx context.Context, refs []domain.FileRef) []assistants.Attachment {
	attachments := make([]assistants.Attachment, 0, len(refs))
	for _, ref := range refs {
		capability := domain.CapabilityUnspecified
		f, err := r.client.RetrieveFile(ctx, ref.FileID)
		if err != nil {
			slog.Warn("File lookup failed, attaching with all tools",
				"file_id", ref.FileID, "error", err)
		} else {
			capability = Classify(f.Filename)
		}
		attachments = append(attachments, assistants.Attachment{
			FileID: ref.FileID,
			Tools:  ToolsFor(capability),
		})
	}
	return attachments
}
