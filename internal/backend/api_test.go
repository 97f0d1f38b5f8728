package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/comigor/tenant-chat/internal/transport"
)

func newAPI(t *testing.T, h http.HandlerFunc) *API {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(transport.NewClient(srv.URL+"/api", nil))
}

func TestCreateSession(t *testing.T) {
	api := newAPI(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tenant/pizza-palace/session", r.URL.Path)
		w.Write([]byte(`{"session_id":"s-1","restaurant":{"id":"7","slug":"pizza-palace","name":"Pizza Palace","description":"Welcome"}}`))
	})

	resp, err := api.CreateSession(context.Background(), "pizza-palace")
	require.NoError(t, err)
	require.Equal(t, "s-1", resp.SessionID)
	require.Equal(t, "Pizza Palace", resp.Tenant.Name)
}

func TestCreateSession_Failures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name: "not found", status: http.StatusNotFound, body: `{"detail":"Restaurant not found"}`,
			check: func(t *testing.T, err error) {
				var oe *OutcomeError
				require.ErrorAs(t, err, &oe)
				require.Equal(t, http.StatusNotFound, oe.Outcome.Status)
				require.Contains(t, err.Error(), "Restaurant not found")
			},
		},
		{
			name: "missing session id", status: http.StatusOK, body: `{"restaurant":{"slug":"x"}}`,
			check: func(t *testing.T, err error) { require.ErrorIs(t, err, ErrMalformedResponse) },
		},
		{
			name: "missing tenant", status: http.StatusOK, body: `{"session_id":"s"}`,
			check: func(t *testing.T, err error) { require.ErrorIs(t, err, ErrMalformedResponse) },
		},
		{
			name: "not json", status: http.StatusOK, body: `<html>`,
			check: func(t *testing.T, err error) { require.ErrorIs(t, err, ErrMalformedResponse) },
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			api := newAPI(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			})
			_, err := api.CreateSession(context.Background(), "x")
			require.Error(t, err)
			tc.check(t, err)
		})
	}
}

func TestSendMessage(t *testing.T) {
	api := newAPI(t, func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, ChatRequest{Content: "hello", SessionID: "s-1"}, req)
		w.Write([]byte(`{"response":"Hi there","session_id":"s-1","token_count":12,"function_calls":[]}`))
	})

	resp, out := api.SendMessage(context.Background(), "pizza", ChatRequest{Content: "hello", SessionID: "s-1"})
	require.True(t, out.OK())
	require.Equal(t, "Hi there", resp.Response)
	require.NotNil(t, resp.TokenCount)
	require.Equal(t, 12, *resp.TokenCount)
}

func TestSendMessage_EmptyResponseIsFailure(t *testing.T) {
	api := newAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":"","session_id":"s-1"}`))
	})

	_, out := api.SendMessage(context.Background(), "pizza", ChatRequest{Content: "hello", SessionID: "s-1"})
	require.Equal(t, transport.KindHTTPError, out.Kind)
	require.ErrorIs(t, out.Err, ErrEmptyResponse)
}

func TestDecodeChatResponse(t *testing.T) {
	_, err := DecodeChatResponse([]byte(`{"response": 42}`))
	require.ErrorIs(t, err, ErrMalformedResponse)

	_, err = DecodeChatResponse([]byte(`{"response":"ok","token_count":-1}`))
	require.ErrorIs(t, err, ErrMalformedResponse)

	_, err = DecodeChatResponse([]byte(`{"response":"   "}`))
	require.ErrorIs(t, err, ErrEmptyResponse)

	resp, err := DecodeChatResponse([]byte(`{"response":"ok"}`))
	require.NoError(t, err)
	require.Nil(t, resp.TokenCount)
}

func TestUploadAttachment(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n0000")
	api := newAPI(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tenant/pizza/upload-payment-proof", r.URL.Path)
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		require.Equal(t, `receipt "1".png`, header.Filename)
		require.Equal(t, "image/png", header.Header.Get("Content-Type"))
		data, _ := io.ReadAll(file)
		require.Equal(t, png, data)
		w.Write([]byte(`{"image_url":"https://cdn.example.com/r1.png"}`))
	})

	resp, err := api.UploadAttachment(context.Background(), "pizza", `receipt "1".png`, png)
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example.com/r1.png", resp.ImageURL)
}

func TestUploadAttachment_Rejected(t *testing.T) {
	api := newAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"detail":"File must be an image"}`))
	})

	_, err := api.UploadAttachment(context.Background(), "pizza", "notes.txt", []byte("hello"))
	var oe *OutcomeError
	require.True(t, errors.As(err, &oe))
	require.Equal(t, transport.KindHTTPError, oe.Outcome.Kind)
	require.Contains(t, err.Error(), "File must be an image")
}

func TestListTenants(t *testing.T) {
	api := newAPI(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tenant/restaurants", r.URL.Path)
		w.Write([]byte(`[{"id":"1","slug":"a","name":"A","description":"d","location":"City Center"}]`))
	})

	tenants, err := api.ListTenants(context.Background())
	require.NoError(t, err)
	require.Len(t, tenants, 1)
	require.Equal(t, "City Center", tenants[0].Location)
}
