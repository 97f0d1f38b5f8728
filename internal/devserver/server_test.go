package devserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/comigor/tenant-chat/internal/backend"
	"github.com/comigor/tenant-chat/internal/config"
	"github.com/comigor/tenant-chat/internal/llm"
)

type replierFunc func(ctx context.Context, tenantName string, history []llm.Turn) (llm.Reply, error)

func (f replierFunc) Reply(ctx context.Context, tenantName string, history []llm.Turn) (llm.Reply, error) {
	return f(ctx, tenantName, history)
}

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func newTestService(r Replier) *Service {
	return NewService(config.DevServerConfig{PublicURL: "http://dev.local/"}, r)
}

func do(t *testing.T, h http.Handler, method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

func decode[T any](t *testing.T, resp *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &v), resp.Body.String())
	return v
}

func multipartBody(t *testing.T, contentType string, data []byte) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="proof.png"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return buf.Bytes(), mw.FormDataContentType()
}

func TestListTenants(t *testing.T) {
	h := NewRouter(newTestService(nil))

	resp := do(t, h, http.MethodGet, "/api/tenant/restaurants", nil, "")
	require.Equal(t, http.StatusOK, resp.Code)

	tenants := decode[[]backend.Tenant](t, resp)
	require.Len(t, tenants, 2)
	require.Equal(t, "pizza-palace", tenants[0].Slug)
	require.Equal(t, "1", tenants[0].ID)
}

func TestCreateSession(t *testing.T) {
	h := NewRouter(newTestService(nil))

	resp := do(t, h, http.MethodPost, "/api/tenant/pizza-palace/session", []byte("{}"), "application/json")
	require.Equal(t, http.StatusOK, resp.Code)

	sess := decode[backend.SessionResponse](t, resp)
	require.NotEmpty(t, sess.SessionID)
	require.NotNil(t, sess.Tenant)
	require.Equal(t, "Pizza Palace", sess.Tenant.Name)
	require.Contains(t, sess.Tenant.Description, "Welcome to Pizza Palace!")
}

func TestUnknownTenant(t *testing.T) {
	h := NewRouter(newTestService(nil))

	resp := do(t, h, http.MethodPost, "/api/tenant/nope/session", []byte("{}"), "application/json")
	require.Equal(t, http.StatusNotFound, resp.Code)
	require.Equal(t, "Restaurant not found", decode[backend.ErrorResponse](t, resp).Detail)
}

func TestChat_EchoAndHistory(t *testing.T) {
	svc := newTestService(nil)
	h := NewRouter(svc)

	sess := decode[backend.SessionResponse](t, do(t, h, http.MethodPost, "/api/tenant/burger-barn/session", nil, ""))

	body, _ := json.Marshal(backend.ChatRequest{Content: "two smash burgers", SessionID: sess.SessionID})
	resp := do(t, h, http.MethodPost, "/api/tenant/burger-barn/chat", body, "application/json")
	require.Equal(t, http.StatusOK, resp.Code)

	reply := decode[backend.ChatResponse](t, resp)
	require.Equal(t, sess.SessionID, reply.SessionID)
	require.Contains(t, reply.Response, "two smash burgers")
	require.NotNil(t, reply.TokenCount)
	// 3 input words plus twice the 9 reply words
	require.Equal(t, 3+2*9, *reply.TokenCount)

	msgs := decode[[]backend.MessageRecord](t, do(t, h, http.MethodGet, "/api/tenant/burger-barn/session/"+sess.SessionID+"/messages?limit=1", nil, ""))
	require.Len(t, msgs, 1)
	require.Equal(t, "bot", msgs[0].Sender)

	msgs = decode[[]backend.MessageRecord](t, do(t, h, http.MethodGet, "/api/tenant/burger-barn/session/"+sess.SessionID+"/messages", nil, ""))
	require.Len(t, msgs, 2)
	require.Equal(t, "user", msgs[0].Sender)
}

func TestChat_Validation(t *testing.T) {
	h := NewRouter(newTestService(nil))

	resp := do(t, h, http.MethodPost, "/api/tenant/pizza-palace/chat", []byte(`{"content":"   "}`), "application/json")
	require.Equal(t, http.StatusBadRequest, resp.Code)

	resp = do(t, h, http.MethodPost, "/api/tenant/pizza-palace/chat", []byte(`not json`), "application/json")
	require.Equal(t, http.StatusBadRequest, resp.Code)

	resp = do(t, h, http.MethodGet, "/api/tenant/pizza-palace/session/missing/messages", nil, "")
	require.Equal(t, http.StatusNotFound, resp.Code)

	resp = do(t, h, http.MethodGet, "/api/tenant/pizza-palace/session/missing/messages?limit=x", nil, "")
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestChat_RateLimit(t *testing.T) {
	svc := newTestService(replierFunc(func(ctx context.Context, tenantName string, history []llm.Turn) (llm.Reply, error) {
		return llm.Reply{Content: "ok", TokenCount: 6000}, nil
	}))
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	h := NewRouter(svc)

	send := func() int {
		body, _ := json.Marshal(backend.ChatRequest{Content: "hi", SessionID: "fixed"})
		return do(t, h, http.MethodPost, "/api/tenant/pizza-palace/chat", body, "application/json").Code
	}

	require.Equal(t, http.StatusOK, send())
	require.Equal(t, http.StatusOK, send())
	require.Equal(t, http.StatusTooManyRequests, send())

	now = now.Add(TokenWindow)
	require.Equal(t, http.StatusOK, send())
}

func TestChat_ReplierFailure(t *testing.T) {
	h := NewRouter(newTestService(replierFunc(func(ctx context.Context, tenantName string, history []llm.Turn) (llm.Reply, error) {
		return llm.Reply{}, errors.New("model down")
	})))

	resp := do(t, h, http.MethodPost, "/api/tenant/pizza-palace/chat", []byte(`{"content":"hi"}`), "application/json")
	require.Equal(t, http.StatusInternalServerError, resp.Code)
	require.Equal(t, "Chat processing failed", decode[backend.ErrorResponse](t, resp).Detail)
}

func TestUpload(t *testing.T) {
	svc := newTestService(nil)
	h := NewRouter(svc)

	body, ct := multipartBody(t, "image/png", pngBytes)
	resp := do(t, h, http.MethodPost, "/api/tenant/pizza-palace/upload-payment-proof", body, ct)
	require.Equal(t, http.StatusOK, resp.Code)

	up := decode[backend.UploadResponse](t, resp)
	require.Contains(t, up.ImageURL, "http://dev.local/api/uploads/")

	path := up.ImageURL[len("http://dev.local"):]
	got := do(t, h, http.MethodGet, path, nil, "")
	require.Equal(t, http.StatusOK, got.Code)
	require.Equal(t, "image/png", got.Header().Get("Content-Type"))
	require.Equal(t, pngBytes, got.Body.Bytes())
}

func TestUpload_RejectsNonImage(t *testing.T) {
	h := NewRouter(newTestService(nil))

	body, ct := multipartBody(t, "text/plain", []byte("hello"))
	resp := do(t, h, http.MethodPost, "/api/tenant/pizza-palace/upload-payment-proof", body, ct)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Equal(t, "File must be an image", decode[backend.ErrorResponse](t, resp).Detail)

	resp = do(t, h, http.MethodPost, "/api/tenant/pizza-palace/upload-payment-proof", []byte("{}"), "application/json")
	require.Equal(t, http.StatusBadRequest, resp.Code)
}
