// Package devserver is a local, in-memory implementation of the tenant chat
// backend. It serves the same routes the client calls so the client can be
// exercised end to end without the production stack.
package devserver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/comigor/tenant-chat/internal/backend"
	"github.com/comigor/tenant-chat/internal/config"
	"github.com/comigor/tenant-chat/internal/llm"
)

// TokenBudget is the number of tokens one session may consume per window.
const (
	TokenBudget = 10000
	TokenWindow = 24 * time.Hour
)

// Replier generates the agent's answer.
type Replier interface {
	Reply(ctx context.Context, tenantName string, history []llm.Turn) (llm.Reply, error)
}

// EchoReplier answers deterministically without a model.
type EchoReplier struct{}

// Reply echoes the last user message and estimates tokens the way the
// production backend does: input words plus twice the output words.
func (EchoReplier) Reply(_ context.Context, tenantName string, history []llm.Turn) (llm.Reply, error) {
	var last string
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].FromUser {
			last = history[i].Content
			break
		}
	}
	content := fmt.Sprintf("%s assistant here. You said: %s", tenantName, last)
	return llm.Reply{
		Content:    content,
		TokenCount: len(strings.Fields(last)) + 2*len(strings.Fields(content)),
	}, nil
}

type tokenUse struct {
	at     time.Time
	tokens int
}

type chatSession struct {
	id       string
	tenant   backend.Tenant
	messages []backend.MessageRecord
	usage    []tokenUse
}

type upload struct {
	contentType string
	data        []byte
}

// Service holds tenants, sessions and uploads in memory.
type Service struct {
	replier   Replier
	publicURL string
	now       func() time.Time

	mu       sync.RWMutex
	tenants  map[string]backend.Tenant
	order    []string
	sessions map[string]*chatSession
	uploads  map[string]upload
}

// NewService creates a Service for the configured tenants. A nil replier
// echoes messages back.
func NewService(cfg config.DevServerConfig, replier Replier) *Service {
	if replier == nil {
		replier = EchoReplier{}
	}
	s := &Service{
		replier:   replier,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		now:       time.Now,
		tenants:   make(map[string]backend.Tenant),
		sessions:  make(map[string]*chatSession),
		uploads:   make(map[string]upload),
	}
	tenants := cfg.Tenants
	if len(tenants) == 0 {
		tenants = Seed()
	}
	for i, t := range tenants {
		s.tenants[t.Slug] = backend.Tenant{
			ID:          fmt.Sprintf("%d", i+1),
			Slug:        t.Slug,
			Name:        t.Name,
			Description: t.Description,
			Location:    "City Center",
		}
		s.order = append(s.order, t.Slug)
	}
	return s
}

// Seed returns the tenants served when none are configured.
func Seed() []config.TenantConfig {
	return []config.TenantConfig{
		{Slug: "pizza-palace", Name: "Pizza Palace", Description: "Wood-fired pizza and fresh pasta"},
		{Slug: "burger-barn", Name: "Burger Barn", Description: "Smash burgers and shakes"},
	}
}

// Tenants lists tenants in configuration order.
func (s *Service) Tenants() []backend.Tenant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]backend.Tenant, 0, len(s.order))
	for _, slug := range s.order {
		t := s.tenants[slug]
		if t.Description == "" {
			t.Description = "Delicious food from " + t.Name
		}
		out = append(out, t)
	}
	return out
}

// Tenant looks a tenant up by slug.
func (s *Service) Tenant(slug string) (backend.Tenant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[slug]
	return t, ok
}

// CreateSession opens a new session for tenant.
func (s *Service) CreateSession(tenant backend.Tenant) backend.SessionResponse {
	id := uuid.NewString()

	s.mu.Lock()
	s.sessions[id] = &chatSession{id: id, tenant: tenant}
	s.mu.Unlock()

	greeting := tenant
	greeting.Description = fmt.Sprintf("Welcome to %s! I'm your AI assistant ready to help you order delicious food.", tenant.Name)
	greeting.Location = ""
	return backend.SessionResponse{SessionID: id, Tenant: &greeting}
}

// ErrRateLimited is returned when a session exhausted its token budget.
var ErrRateLimited = errors.New("rate limit exceeded. Please try again later")

// Chat records the user message, generates a reply and records it. Unknown
// or empty session ids get a session on the fly.
func (s *Service) Chat(ctx context.Context, tenant backend.Tenant, req backend.ChatRequest) (backend.ChatResponse, error) {
	now := s.now().UTC()

	s.mu.Lock()
	sess := s.sessionLocked(tenant, req.SessionID)
	if s.usedLocked(sess, now) >= TokenBudget {
		s.mu.Unlock()
		return backend.ChatResponse{}, ErrRateLimited
	}
	sess.messages = append(sess.messages, backend.MessageRecord{
		ID:        uuid.NewString(),
		Sender:    "user",
		Content:   req.Content,
		CreatedAt: now.Format(time.RFC3339Nano),
	})
	history := make([]llm.Turn, 0, len(sess.messages))
	for _, m := range sess.messages {
		history = append(history, llm.Turn{FromUser: m.Sender == "user", Content: m.Content})
	}
	sessionID := sess.id
	s.mu.Unlock()

	reply, err := s.replier.Reply(ctx, tenant.Name, history)
	if err != nil {
		return backend.ChatResponse{}, fmt.Errorf("chat processing failed: %w", err)
	}

	tokens := reply.TokenCount
	s.mu.Lock()
	sess.messages = append(sess.messages, backend.MessageRecord{
		ID:         uuid.NewString(),
		Sender:     "bot",
		Content:    reply.Content,
		CreatedAt:  s.now().UTC().Format(time.RFC3339Nano),
		TokenCount: &tokens,
	})
	sess.usage = append(sess.usage, tokenUse{at: now, tokens: tokens})
	s.mu.Unlock()

	return backend.ChatResponse{Response: reply.Content, SessionID: sessionID, TokenCount: &tokens}, nil
}

func (s *Service) sessionLocked(tenant backend.Tenant, id string) *chatSession {
	if id == "" {
		id = uuid.NewString()
	}
	sess, ok := s.sessions[id]
	if !ok {
		sess = &chatSession{id: id, tenant: tenant}
		s.sessions[id] = sess
	}
	return sess
}

func (s *Service) usedLocked(sess *chatSession, now time.Time) int {
	total := 0
	for _, u := range sess.usage {
		if now.Sub(u.at) < TokenWindow {
			total += u.tokens
		}
	}
	return total
}

// Messages returns the newest limit messages of a session, oldest first.
func (s *Service) Messages(sessionID string, limit int) ([]backend.MessageRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, false
	}
	msgs := sess.messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]backend.MessageRecord, len(msgs))
	copy(out, msgs)
	return out, true
}

// StoreUpload keeps an uploaded file and returns its id.
func (s *Service) StoreUpload(contentType string, data []byte) string {
	id := uuid.NewString()
	s.mu.Lock()
	s.uploads[id] = upload{contentType: contentType, data: data}
	s.mu.Unlock()
	return id
}

// UploadURL is the public address of an upload. Without a configured public
// URL the request's host is used.
func (s *Service) UploadURL(host, id string) string {
	base := s.publicURL
	if base == "" {
		base = "http://" + host
	}
	return base + "/api/uploads/" + id
}

// Upload returns a stored file.
func (s *Service) Upload(id string) (string, []byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.uploads[id]
	return u.contentType, u.data, ok
}
