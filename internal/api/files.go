package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/ashureev/docchat/internal/domain"
	"github.com/ashureev/docchat/internal/files"
	"github.com/ashureev/docchat/internal/identity"
)

const (
	uploadFormField = "files"
	// multipartMemory is kept in memory before parts spill to temp files.
	multipartMemory = 8 << 20
)

type uploadResult struct {
	Filename   string `json:"filename"`
	FileID     string `json:"file_id,omitempty"`
	Capability string `json:"capability,omitempty"`
	Label      string `json:"label,omitempty"`
	Error      string `json:"error,omitempty"`
}

// UploadFiles stores a multipart batch remotely and replaces the session's
// file set with the files that succeeded. Results follow submission order.
func (h *Handler) UploadFiles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := identity.SessionFromContext(ctx)

	if !h.limiter.Allow(sess.ID) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	maxBody := h.cfg.Upload.MaxFileBytes*int64(h.cfg.Upload.MaxFiles) + 1<<20
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		Error(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			slog.Debug("Failed to remove multipart temp files", "error", err)
		}
	}()

	headers := r.MultipartForm.File[uploadFormField]
	if len(headers) == 0 {
		Error(w, http.StatusBadRequest, "no files uploaded")
		return
	}
	if len(headers) > h.cfg.Upload.MaxFiles {
		Error(w, http.StatusBadRequest, fmt.Sprintf("at most %d files per upload", h.cfg.Upload.MaxFiles))
		return
	}

	// readErrs[i] is set for parts that never reach the router, so the
	// response keeps submission order.
	uploads := make([]files.Upload, 0, len(headers))
	readErrs := make([]error, len(headers))
	for i, fh := range headers {
		data, err := h.readPart(fh)
		if err != nil {
			readErrs[i] = err
			continue
		}
		uploads = append(uploads, files.Upload{Filename: fh.Filename, Data: data})
	}

	results := h.files.Upload(ctx, uploads)
	refs := files.Refs(results)
	replaced := len(refs) > 0
	if replaced {
		if err := h.sessions.SetFileRefs(ctx, sess.ID, refs); err != nil {
			slog.Error("Failed to store file refs", "session_id", sess.ID, "error", err)
			Error(w, http.StatusInternalServerError, "failed to store uploaded files")
			return
		}
	}

	out := make([]uploadResult, 0, len(headers))
	next := 0
	for i, fh := range headers {
		if readErrs[i] != nil {
			out = append(out, uploadResult{Filename: fh.Filename, Error: readErrs[i].Error()})
			continue
		}
		out = append(out, toUploadResult(results[next]))
		next++
	}

	slog.Info("Upload batch processed",
		"session_id", sess.ID,
		"submitted", len(headers),
		"stored", len(refs))

	// A batch with no successful file leaves the previous set in place.
	current := refs
	if !replaced {
		current = sess.FileRefs
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"results":  out,
		"files":    nonNilRefs(current),
		"replaced": replaced,
	})
}

func (h *Handler) readPart(fh *multipart.FileHeader) ([]byte, error) {
	if fh.Size > h.cfg.Upload.MaxFileBytes {
		return nil, fmt.Errorf("%s exceeds the %d byte limit", fh.Filename, h.cfg.Upload.MaxFileBytes)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", fh.Filename, err)
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(io.LimitReader(f, h.cfg.Upload.MaxFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", fh.Filename, err)
	}
	return data, nil
}

func toUploadResult(res files.UploadResult) uploadResult {
	out := uploadResult{Filename: res.Filename}
	if res.Err != nil {
		out.Error = res.Err.Error()
		return out
	}
	out.FileID = res.Ref.FileID
	out.Capability = string(res.Ref.Capability)
	out.Label = res.Ref.Capability.Label()
	return out
}

// ListFiles returns the session's current file set.
func (h *Handler) ListFiles(w http.ResponseWriter, r *http.Request) {
	sess := identity.SessionFromContext(r.Context())
	JSON(w, http.StatusOK, map[string]interface{}{"files": nonNilRefs(sess.FileRefs)})
}

func nonNilRefs(refs []domain.FileRef) []domain.FileRef {
	if refs == nil {
		return []domain.FileRef{}
	}
	return refs
}
