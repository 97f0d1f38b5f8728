// Package attachment turns a local file into a URL the agent can read, by
// uploading it out of band, and splices that URL into the next message.
package attachment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/comigor/tenant-chat/internal/backend"
	"github.com/comigor/tenant-chat/internal/logger"
	"github.com/comigor/tenant-chat/internal/session"
)

// ErrEmptyFile is returned for a file with no content.
var ErrEmptyFile = errors.New("attachment is empty")

// File is a file picked by the user.
type File struct {
	Name string
	Data []byte
}

// Reference is the durable pointer returned for an uploaded file.
type Reference struct {
	URL string
}

// UploadError reports a failed upload. Uploads are never retried.
type UploadError struct {
	File string
	Err  error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %q: %v", e.File, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// Backend is the upload call the Uploader depends on.
type Backend interface {
	UploadAttachment(ctx context.Context, slug, filename string, data []byte) (backend.UploadResponse, error)
}

// Uploader performs single-attempt uploads for a tenant session.
type Uploader struct {
	backend Backend
	timeout time.Duration
}

// NewUploader creates an Uploader. A non-positive timeout leaves the
// caller's context in charge.
func NewUploader(b Backend, timeout time.Duration) *Uploader {
	return &Uploader{backend: b, timeout: timeout}
}

// Upload sends f to the tenant bound to s and returns its reference.
func (u *Uploader) Upload(ctx context.Context, s session.Session, f File) (Reference, error) {
	if len(f.Data) == 0 {
		return Reference{}, &UploadError{File: f.Name, Err: ErrEmptyFile}
	}

	if u.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.timeout)
		defer cancel()
	}

	resp, err := u.backend.UploadAttachment(ctx, s.Tenant.Slug, f.Name, f.Data)
	if err != nil {
		logger.L.Error("attachment upload failed", "tenant", s.Tenant.Slug, "session", s.ShortID(), "file", f.Name, "error", err)
		return Reference{}, &UploadError{File: f.Name, Err: err}
	}

	logger.L.Info("attachment uploaded", "tenant", s.Tenant.Slug, "session", s.ShortID(), "file", f.Name, "bytes", len(f.Data))
	return Reference{URL: resp.ImageURL}, nil
}

// Line is the text that carries ref inside a message.
func Line(ref Reference) string {
	return "I've uploaded payment proof. Image URL: " + ref.URL
}

// Compose merges ref into the pending draft. The reference URL appears
// exactly once in the result; a draft already carrying it is returned as is.
func Compose(draft string, ref Reference) string {
	line := Line(ref)
	if ref.URL != "" && strings.Contains(draft, ref.URL) {
		return draft
	}
	trimmed := strings.TrimRight(draft, " \t\r\n")
	if strings.TrimSpace(trimmed) == "" {
		return line
	}
	return trimmed + "\n" + line
}

// Join prefixes a pending draft that already carries reference lines with
// newly typed text.
func Join(text, pending string) string {
	text = strings.TrimSpace(text)
	switch {
	case strings.TrimSpace(pending) == "":
		return text
	case text == "":
		return pending
	default:
		return text + "\n" + pending
	}
}
