// Package session owns the identity of one conversation: the backend-issued
// session id and the tenant it is bound to.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/comigor/tenant-chat/internal/backend"
	"github.com/comigor/tenant-chat/internal/logger"
)

var (
	ErrNoSession           = errors.New("no active session")
	ErrAlreadyBootstrapped = errors.New("session already bootstrapped")
	ErrBootstrapInProgress = errors.New("session bootstrap already in progress")
	ErrEmptySlug           = errors.New("tenant slug is required")
)

// Tenant is the business whose backend the conversation addresses.
type Tenant struct {
	ID          string
	Slug        string
	DisplayName string
	Description string
}

// Session is immutable once created; copies are safe to share.
type Session struct {
	ID        string
	Tenant    Tenant
	CreatedAt time.Time
}

// ShortID returns the first eight characters of the id, for display.
func (s Session) ShortID() string {
	if len(s.ID) <= 8 {
		return s.ID
	}
	return s.ID[:8]
}

// BootstrapError reports a failed session bootstrap. It is fatal to the
// conversation until the caller explicitly tries again.
type BootstrapError struct {
	Tenant string
	Err    error
}

func (e *BootstrapError) Error() string {
	return fmt.Sprintf("bootstrap session for tenant %q: %v", e.Tenant, e.Err)
}

func (e *BootstrapError) Unwrap() error { return e.Err }

// Creator is the backend call the manager depends on.
type Creator interface {
	CreateSession(ctx context.Context, slug string) (backend.SessionResponse, error)
}

// Manager creates at most one live session and hands it out read-only.
type Manager struct {
	creator Creator
	timeout time.Duration
	now     func() time.Time

	mu            sync.RWMutex
	current       *Session
	bootstrapping bool

	// generation changes on Discard so a bootstrap that was in flight
	// cannot install its session afterwards.
	generation uint64
}

// Option customizes a Manager.
type Option func(*Manager)

// WithTimeout bounds the bootstrap request.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// WithClock overrides the time source for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager backed by creator.
func NewManager(creator Creator, opts ...Option) *Manager {
	m := &Manager{
		creator: creator,
		timeout: 30 * time.Second,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Bootstrap performs exactly one create-session request for slug. It is not
// retried; on failure no session is stored and a *BootstrapError is returned.
func (m *Manager) Bootstrap(ctx context.Context, slug string) (Session, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return Session{}, &BootstrapError{Tenant: slug, Err: ErrEmptySlug}
	}

	m.mu.Lock()
	switch {
	case m.current != nil:
		m.mu.Unlock()
		return Session{}, ErrAlreadyBootstrapped
	case m.bootstrapping:
		m.mu.Unlock()
		return Session{}, ErrBootstrapInProgress
	}
	m.bootstrapping = true
	gen := m.generation
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		if m.generation == gen {
			m.bootstrapping = false
		}
		m.mu.Unlock()
	}()

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	resp, err := m.creator.CreateSession(ctx, slug)
	if err != nil {
		logger.L.Error("session bootstrap failed", "tenant", slug, "error", err)
		return Session{}, &BootstrapError{Tenant: slug, Err: err}
	}

	s := Session{
		ID: resp.SessionID,
		Tenant: Tenant{
			ID:          resp.Tenant.ID,
			Slug:        resp.Tenant.Slug,
			DisplayName: resp.Tenant.Name,
			Description: resp.Tenant.Description,
		},
		CreatedAt: m.now().UTC(),
	}

	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return Session{}, &BootstrapError{Tenant: slug, Err: ErrNoSession}
	}
	m.current = &s
	m.mu.Unlock()

	logger.L.Info("session bootstrapped", "tenant", s.Tenant.Slug, "session", s.ShortID())
	return s, nil
}

// Current returns the live session, if any.
func (m *Manager) Current() (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return Session{}, false
	}
	return *m.current, true
}

// Discard drops the live session, e.g. when the conversation view goes away.
func (m *Manager) Discard() {
	m.mu.Lock()
	m.current = nil
	m.bootstrapping = false
	m.generation++
	m.mu.Unlock()
}
