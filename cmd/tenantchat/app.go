package main

import (
	"net/http"

	"github.com/comigor/tenant-chat/internal/attachment"
	"github.com/comigor/tenant-chat/internal/backend"
	"github.com/comigor/tenant-chat/internal/chat"
	"github.com/comigor/tenant-chat/internal/config"
	"github.com/comigor/tenant-chat/internal/history"
	"github.com/comigor/tenant-chat/internal/logger"
	"github.com/comigor/tenant-chat/internal/retry"
	"github.com/comigor/tenant-chat/internal/session"
	"github.com/comigor/tenant-chat/internal/transport"
)

func newAPI(c *config.Config) *backend.API {
	return backend.New(transport.NewClient(c.Backend.BaseURL, &http.Client{}))
}

func retryPolicy(c config.RetryConfig) retry.Policy {
	p := retry.Default()
	p.MaxAttempts = c.MaxAttempts
	p.AttemptTimeout = c.AttemptTimeout
	p.BaseDelay = c.BaseDelay
	p.RetryHTTPErrors = c.RetryHTTPErrors
	return p
}

// newConversation wires one orchestrator against the configured backend.
// The returned close func releases the session and the transcript.
func newConversation(c *config.Config) (*chat.Orchestrator, func()) {
	api := newAPI(c)
	store := history.Open(c.History.Path)

	orch := chat.New(
		session.NewManager(api, session.WithTimeout(c.BootstrapTimeout)),
		api,
		attachment.NewUploader(api, c.UploadTimeout),
		chat.WithPolicy(retryPolicy(c.Retry)),
		chat.WithSinks(store),
	)

	return orch, func() {
		orch.Close()
		if err := store.Close(); err != nil {
			logger.L.Warn("close transcript", "error", err)
		}
	}
}
