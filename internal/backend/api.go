// Package backend speaks the tenant chat backend's HTTP contract. Responses
// are decoded into fixed structs and validated; anything that does not fit
// is reported as a failure instead of being passed along half-filled.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/comigor/tenant-chat/internal/transport"
)

var (
	ErrMalformedResponse = errors.New("malformed response")
	ErrEmptyResponse     = errors.New("empty response from server")
)

// OutcomeError wraps a non-OK transport outcome returned by a call that
// does not go through the retry policy.
type OutcomeError struct {
	Op      string
	Outcome transport.Outcome
}

func (e *OutcomeError) Error() string {
	if detail := errorDetail(e.Outcome.Body); detail != "" && e.Outcome.Kind == transport.KindHTTPError {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Outcome, detail)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Outcome)
}

func (e *OutcomeError) Unwrap() error { return e.Outcome.Err }

// API is a typed client for one backend.
type API struct {
	client *transport.Client
}

// New creates an API on top of a transport client.
func New(client *transport.Client) *API {
	return &API{client: client}
}

func tenantPath(slug string, parts ...string) string {
	p := "tenant/" + url.PathEscape(slug)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

// ListTenants returns the tenant directory.
func (a *API) ListTenants(ctx context.Context) ([]Tenant, error) {
	out := a.client.Get(ctx, "tenant/restaurants")
	if !out.OK() {
		return nil, &OutcomeError{Op: "list tenants", Outcome: out}
	}
	var tenants []Tenant
	if err := json.Unmarshal(out.Body, &tenants); err != nil {
		return nil, fmt.Errorf("list tenants: %w: %v", ErrMalformedResponse, err)
	}
	return tenants, nil
}

// CreateSession asks the backend for a new session bound to slug. It makes
// exactly one request.
func (a *API) CreateSession(ctx context.Context, slug string) (SessionResponse, error) {
	out := a.client.Post(ctx, tenantPath(slug, "session"), "application/json", []byte("{}"))
	if !out.OK() {
		return SessionResponse{}, &OutcomeError{Op: "create session", Outcome: out}
	}

	var resp SessionResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return SessionResponse{}, fmt.Errorf("create session: %w: %v", ErrMalformedResponse, err)
	}
	if resp.SessionID == "" {
		return SessionResponse{}, fmt.Errorf("create session: %w: missing session_id", ErrMalformedResponse)
	}
	if resp.Tenant == nil || resp.Tenant.Slug == "" {
		return SessionResponse{}, fmt.Errorf("create session: %w: missing restaurant", ErrMalformedResponse)
	}
	return resp, nil
}

// SendMessage performs one chat attempt. A 2xx response whose body does not
// decode, or whose reply text is empty, is reported as an HTTP error outcome
// so the retry policy treats it like any other failed attempt.
func (a *API) SendMessage(ctx context.Context, slug string, req ChatRequest) (ChatResponse, transport.Outcome) {
	body, err := json.Marshal(req)
	if err != nil {
		return ChatResponse{}, transport.NetworkError(fmt.Errorf("encode chat request: %w", err))
	}

	out := a.client.Post(ctx, tenantPath(slug, "chat"), "application/json", body)
	if !out.OK() {
		return ChatResponse{}, out
	}

	resp, err := DecodeChatResponse(out.Body)
	if err != nil {
		return ChatResponse{}, transport.HTTPError(out.Status, out.Body, err)
	}
	return resp, out
}

// DecodeChatResponse validates a chat reply body.
func DecodeChatResponse(body []byte) (ChatResponse, error) {
	var resp ChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return ChatResponse{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if strings.TrimSpace(resp.Response) == "" {
		return ChatResponse{}, ErrEmptyResponse
	}
	if resp.TokenCount != nil && *resp.TokenCount < 0 {
		return ChatResponse{}, fmt.Errorf("%w: negative token_count %d", ErrMalformedResponse, *resp.TokenCount)
	}
	return resp, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// UploadAttachment sends one file as multipart field "file" and returns the
// URL the backend stored it under. It makes exactly one request.
func (a *API) UploadAttachment(ctx context.Context, slug, filename string, data []byte) (UploadResponse, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(filename)))
	h.Set("Content-Type", http.DetectContentType(data))
	part, err := mw.CreatePart(h)
	if err != nil {
		return UploadResponse{}, fmt.Errorf("upload attachment: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return UploadResponse{}, fmt.Errorf("upload attachment: %w", err)
	}
	if err := mw.Close(); err != nil {
		return UploadResponse{}, fmt.Errorf("upload attachment: %w", err)
	}

	out := a.client.Post(ctx, tenantPath(slug, "upload-payment-proof"), mw.FormDataContentType(), buf.Bytes())
	if !out.OK() {
		return UploadResponse{}, &OutcomeError{Op: "upload attachment", Outcome: out}
	}

	var resp UploadResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return UploadResponse{}, fmt.Errorf("upload attachment: %w: %v", ErrMalformedResponse, err)
	}
	if resp.ImageURL == "" {
		return UploadResponse{}, fmt.Errorf("upload attachment: %w: missing image_url", ErrMalformedResponse)
	}
	return resp, nil
}

// errorDetail extracts the backend's {"detail": "..."} message, if any.
func errorDetail(body []byte) string {
	var e ErrorResponse
	if len(body) == 0 || json.Unmarshal(body, &e) != nil {
		return ""
	}
	return e.Detail
}
