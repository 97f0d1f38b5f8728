package devserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/comigor/tenant-chat/internal/attachment"
	"github.com/comigor/tenant-chat/internal/backend"
	"github.com/comigor/tenant-chat/internal/chat"
	"github.com/comigor/tenant-chat/internal/chatlog"
	"github.com/comigor/tenant-chat/internal/config"
	"github.com/comigor/tenant-chat/internal/history"
	"github.com/comigor/tenant-chat/internal/retry"
	"github.com/comigor/tenant-chat/internal/session"
	"github.com/comigor/tenant-chat/internal/transport"
)

type stack struct {
	url   string
	svc   *Service
	api   *backend.API
	orch  *chat.Orchestrator
	store *history.Store
}

func newStack(t *testing.T, h func(http.Handler) http.Handler) *stack {
	t.Helper()
	svc := NewService(config.DevServerConfig{}, nil)

	var handler http.Handler = NewRouter(svc)
	if h != nil {
		handler = h(handler)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := &http.Client{}
	t.Cleanup(client.CloseIdleConnections)
	api := backend.New(transport.NewClient(srv.URL+"/api", client))

	store := history.Open(filepath.Join(t.TempDir(), "history.db"))
	t.Cleanup(func() { store.Close() })

	orch := chat.New(
		session.NewManager(api, session.WithTimeout(5*time.Second)),
		api,
		attachment.NewUploader(api, 5*time.Second),
		chat.WithPolicy(retry.Policy{
			MaxAttempts:     3,
			AttemptTimeout:  2 * time.Second,
			BaseDelay:       time.Millisecond,
			RetryHTTPErrors: true,
			Sleep:           retry.Sleep,
		}),
		chat.WithSinks(store),
	)
	t.Cleanup(orch.Close)

	return &stack{url: srv.URL, svc: svc, api: api, orch: orch, store: store}
}

func TestEndToEnd_Conversation(t *testing.T) {
	s := newStack(t, nil)
	ctx := context.Background()

	tenants, err := s.api.ListTenants(ctx)
	require.NoError(t, err)
	require.Len(t, tenants, 2)

	sess, err := s.orch.Bootstrap(ctx, "pizza-palace")
	require.NoError(t, err)
	require.Equal(t, "Pizza Palace", sess.Tenant.DisplayName)
	require.True(t, s.orch.CanSubmit())

	accepted, err := s.orch.Submit(ctx, "one margherita please")
	require.NoError(t, err)
	require.True(t, accepted)

	log := s.orch.Snapshot()
	require.Len(t, log, 2)
	require.Equal(t, chatlog.SenderUser, log[0].Sender)
	require.Equal(t, chatlog.SenderAgent, log[1].Sender)
	require.Contains(t, log[1].Content, "one margherita please")
	require.Positive(t, s.orch.TotalTokens())

	// the backend saw the same exchange under the same session
	msgs, ok := s.svc.Messages(sess.ID, 0)
	require.True(t, ok)
	require.Len(t, msgs, 2)

	// every appended message reached the transcript
	require.Len(t, s.store.List(sess.ID), 2)
}

func TestEndToEnd_AttachThenSend(t *testing.T) {
	s := newStack(t, nil)
	ctx := context.Background()

	_, err := s.orch.Bootstrap(ctx, "burger-barn")
	require.NoError(t, err)

	draft, err := s.orch.AttachFile(ctx, "paid for order 7", attachment.File{Name: "proof.png", Data: pngBytes})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(draft, "paid for order 7\nI've uploaded payment proof. Image URL: "+s.url+"/api/uploads/"))
	require.Empty(t, s.orch.Snapshot())

	_, err = s.orch.Submit(ctx, draft)
	require.NoError(t, err)

	log := s.orch.Snapshot()
	require.Len(t, log, 2)
	require.Equal(t, draft, log[0].Content)
}

func TestEndToEnd_NonImageUploadFails(t *testing.T) {
	s := newStack(t, nil)
	ctx := context.Background()

	_, err := s.orch.Bootstrap(ctx, "burger-barn")
	require.NoError(t, err)

	draft, err := s.orch.AttachFile(ctx, "keep me", attachment.File{Name: "notes.txt", Data: []byte("plain text")})
	var ue *attachment.UploadError
	require.ErrorAs(t, err, &ue)
	require.Equal(t, "keep me", draft)

	log := s.orch.Snapshot()
	require.Len(t, log, 1)
	require.True(t, log[0].Synthetic)
	require.True(t, s.orch.CanSubmit())
}

func TestEndToEnd_RetriesTransientServerErrors(t *testing.T) {
	var failures atomic.Int32
	failures.Store(2)
	s := newStack(t, func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, "/chat") && failures.Add(-1) >= 0 {
				http.Error(w, `{"detail":"upstream busy"}`, http.StatusBadGateway)
				return
			}
			next.ServeHTTP(w, r)
		})
	})
	ctx := context.Background()

	_, err := s.orch.Bootstrap(ctx, "pizza-palace")
	require.NoError(t, err)

	_, err = s.orch.Submit(ctx, "anything vegetarian?")
	require.NoError(t, err)

	log := s.orch.Snapshot()
	require.Len(t, log, 2)
	require.False(t, log[1].Synthetic)
}

func TestEndToEnd_UnknownTenant(t *testing.T) {
	s := newStack(t, nil)

	_, err := s.orch.Bootstrap(context.Background(), "closed-down")
	var be *session.BootstrapError
	require.ErrorAs(t, err, &be)
	require.False(t, s.orch.CanSubmit())

	accepted, err := s.orch.Submit(context.Background(), "hello?")
	require.NoError(t, err)
	require.False(t, accepted)
}
