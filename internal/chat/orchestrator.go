// Package chat coordinates one customer conversation: it owns the message
// log, drives sends through the retry policy and hands attachments to the
// uploader, allowing at most one operation in flight.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qmuntal/stateless"

	"github.com/comigor/tenant-chat/internal/attachment"
	"github.com/comigor/tenant-chat/internal/backend"
	"github.com/comigor/tenant-chat/internal/chatlog"
	"github.com/comigor/tenant-chat/internal/logger"
	"github.com/comigor/tenant-chat/internal/retry"
	"github.com/comigor/tenant-chat/internal/session"
	"github.com/comigor/tenant-chat/internal/transport"
)

// FSM states
type State string

const (
	StateIdle          State = "Idle"
	StateAwaitingReply State = "AwaitingReply"
	StateUploading     State = "Uploading"
)

// FSM triggers
type Trigger string

const (
	TriggerSubmit       Trigger = "Submit"
	TriggerReplied      Trigger = "Replied"
	TriggerFailed       Trigger = "Failed"
	TriggerAttach       Trigger = "Attach"
	TriggerUploaded     Trigger = "Uploaded"
	TriggerUploadFailed Trigger = "UploadFailed"
)

const (
	connectivityText = "I'm having trouble connecting right now. Please check your internet connection and try again."
	timedOutSuffix   = " (Request timed out)"
	canceledText     = "The request was cancelled before a reply arrived. Please try again."
	uploadFailedText = "Failed to upload image. Please try again."
)

var (
	// ErrBusy is returned by AttachFile while another operation is in flight.
	ErrBusy = errors.New("another operation is in flight")
	// ErrClosed is returned by an operation whose conversation was closed
	// while it was on the network. Its result was dropped.
	ErrClosed = errors.New("conversation closed")
)

// TerminalFailure describes a send that will not be retried further. The
// log already holds the synthetic agent message reporting it.
type TerminalFailure struct {
	Kind     transport.Kind
	Attempts int
	Canceled bool
	Err      error
}

func (f *TerminalFailure) Error() string {
	if f.Canceled {
		return fmt.Sprintf("send cancelled after %d attempt(s)", f.Attempts)
	}
	return fmt.Sprintf("send failed after %d attempt(s): %s: %v", f.Attempts, f.Kind, f.Err)
}

func (f *TerminalFailure) Unwrap() error { return f.Err }

// Backend is the chat call the orchestrator retries.
type Backend interface {
	SendMessage(ctx context.Context, slug string, req backend.ChatRequest) (backend.ChatResponse, transport.Outcome)
}

// Sessions is the session lifecycle the orchestrator depends on.
type Sessions interface {
	Bootstrap(ctx context.Context, slug string) (session.Session, error)
	Current() (session.Session, bool)
	Discard()
}

// Uploader converts a file into a reference.
type Uploader interface {
	Upload(ctx context.Context, s session.Session, f attachment.File) (attachment.Reference, error)
}

// Orchestrator is safe for concurrent use: rendering may call Snapshot and
// IsAwaitingReply while Submit or AttachFile is blocked on the network.
type Orchestrator struct {
	sessions Sessions
	backend  Backend
	uploader Uploader
	policy   retry.Policy
	sinks    []chatlog.Sink
	now      func() time.Time
	newID    func() string

	mu  sync.Mutex
	fsm *stateless.StateMachine
	log *chatlog.Log
	// gen is bumped by Close; operations started under an older gen drop
	// their results.
	gen uint64
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithPolicy replaces the default retry policy.
func WithPolicy(p retry.Policy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

// WithSinks registers observers for every appended message.
func WithSinks(sinks ...chatlog.Sink) Option {
	return func(o *Orchestrator) { o.sinks = append(o.sinks, sinks...) }
}

// WithClock overrides the time source for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithIDs overrides message id generation.
func WithIDs(newID func() string) Option {
	return func(o *Orchestrator) { o.newID = newID }
}

// New creates an Orchestrator in the Idle state with no session.
func New(sessions Sessions, b Backend, u Uploader, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		sessions: sessions,
		backend:  b,
		uploader: u,
		policy:   retry.Default(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.fsm = o.newStateMachine()
	return o
}

func (o *Orchestrator) newStateMachine() *stateless.StateMachine {
	fsm := stateless.NewStateMachine(StateIdle)

	hasSession := func(_ context.Context, _ ...any) bool {
		return o.log != nil
	}
	hasText := func(_ context.Context, args ...any) bool {
		text, _ := argAt[string](args, 0)
		return strings.TrimSpace(text) != ""
	}

	// State: Idle
	// Entry from a finished operation appends its result to the log.
	fsm.Configure(StateIdle).
		Permit(TriggerSubmit, StateAwaitingReply, hasSession, hasText).
		Permit(TriggerAttach, StateUploading, hasSession).
		OnEntryFrom(TriggerReplied, func(_ context.Context, args ...any) error {
			resp, _ := argAt[backend.ChatResponse](args, 0)
			o.append(chatlog.SenderAgent, resp.Response, resp.TokenCount, false)
			return nil
		}).
		OnEntryFrom(TriggerFailed, func(_ context.Context, args ...any) error {
			res, _ := argAt[retry.Result](args, 0)
			o.append(chatlog.SenderAgent, failureText(res), nil, true)
			return nil
		}).
		OnEntryFrom(TriggerUploadFailed, func(_ context.Context, _ ...any) error {
			o.append(chatlog.SenderAgent, uploadFailedText, nil, true)
			return nil
		})

	// State: AwaitingReply
	// The user message is appended on entry, before any network round-trip.
	fsm.Configure(StateAwaitingReply).
		OnEntryFrom(TriggerSubmit, func(_ context.Context, args ...any) error {
			text, _ := argAt[string](args, 0)
			o.append(chatlog.SenderUser, text, nil, false)
			return nil
		}).
		Permit(TriggerReplied, StateIdle).
		Permit(TriggerFailed, StateIdle)

	// State: Uploading
	fsm.Configure(StateUploading).
		Permit(TriggerUploaded, StateIdle).
		Permit(TriggerUploadFailed, StateIdle)

	fsm.OnTransitioned(func(_ context.Context, t stateless.Transition) {
		logger.L.Debug("chat transition", "from", t.Source, "to", t.Destination, "trigger", t.Trigger)
	})

	return fsm
}

func argAt[T any](args []any, i int) (T, bool) {
	var zero T
	if i >= len(args) {
		return zero, false
	}
	v, ok := args[i].(T)
	return v, ok
}

func failureText(res retry.Result) string {
	if res.Canceled {
		return canceledText
	}
	if res.TimedOut() {
		return connectivityText + timedOutSuffix
	}
	return connectivityText
}

// append must be called with o.mu held (it runs inside FSM actions).
func (o *Orchestrator) append(sender chatlog.Sender, content string, tokens *int, synthetic bool) {
	if o.log == nil {
		return
	}
	o.log.Append(chatlog.Message{
		ID:         o.newID(),
		Sender:     sender,
		Content:    content,
		CreatedAt:  o.now().UTC(),
		TokenCount: tokens,
		Synthetic:  synthetic,
	})
}

// Bootstrap creates the conversation's session. It must succeed before any
// send or upload is accepted. Failures are returned as *session.BootstrapError
// and are not retried.
func (o *Orchestrator) Bootstrap(ctx context.Context, slug string) (session.Session, error) {
	s, err := o.sessions.Bootstrap(ctx, slug)
	if err != nil {
		return session.Session{}, err
	}

	o.mu.Lock()
	o.log = chatlog.New(s.ID, o.sinks...)
	o.mu.Unlock()
	return s, nil
}

// Session returns the live session, if bootstrapped.
func (o *Orchestrator) Session() (session.Session, bool) {
	return o.sessions.Current()
}

// Submit sends text as the next user message and blocks until the reply or
// a terminal failure has been appended. It reports false, without touching
// the log or the network, for blank text, before bootstrap, or while another
// operation is in flight. A terminal failure is also returned as a
// *TerminalFailure.
func (o *Orchestrator) Submit(ctx context.Context, text string) (bool, error) {
	o.mu.Lock()
	if err := o.fsm.Fire(TriggerSubmit, text); err != nil {
		o.mu.Unlock()
		logger.L.Debug("submit ignored", "error", err)
		return false, nil
	}
	s, _ := o.sessions.Current()
	gen := o.gen
	o.mu.Unlock()

	var reply backend.ChatResponse
	res := o.policy.Execute(ctx, func(attemptCtx context.Context) transport.Outcome {
		resp, out := o.backend.SendMessage(attemptCtx, s.Tenant.Slug, backend.ChatRequest{
			Content:   text,
			SessionID: s.ID,
		})
		if out.OK() {
			reply = resp
		}
		return out
	})

	o.mu.Lock()
	defer o.mu.Unlock()

	if gen != o.gen {
		logger.L.Debug("dropping reply for closed conversation", "session", s.ShortID(), "attempts", res.Attempts)
		return true, ErrClosed
	}

	if res.Succeeded() {
		logger.L.Debug("reply received", "tenant", s.Tenant.Slug, "session", s.ShortID(), "attempts", res.Attempts)
		if err := o.fsm.Fire(TriggerReplied, reply); err != nil {
			return true, fmt.Errorf("record reply: %w", err)
		}
		return true, nil
	}

	failure := &TerminalFailure{
		Kind:     res.Outcome.Kind,
		Attempts: res.Attempts,
		Canceled: res.Canceled,
		Err:      res.Outcome.Err,
	}
	if failure.Err == nil {
		failure.Err = errors.New(res.Outcome.String())
	}
	logger.L.Error("send failed", "tenant", s.Tenant.Slug, "session", s.ShortID(), "attempts", res.Attempts, "kind", res.Outcome.Kind.String(), "canceled", res.Canceled)
	if err := o.fsm.Fire(TriggerFailed, res); err != nil {
		return true, fmt.Errorf("record failure: %w", err)
	}
	return true, failure
}

// AttachFile uploads f once and returns draft with the reference merged in.
// On failure the draft is returned unchanged and an agent message reporting
// the failure is appended.
func (o *Orchestrator) AttachFile(ctx context.Context, draft string, f attachment.File) (string, error) {
	o.mu.Lock()
	if o.log == nil {
		o.mu.Unlock()
		return draft, session.ErrNoSession
	}
	if err := o.fsm.Fire(TriggerAttach); err != nil {
		o.mu.Unlock()
		return draft, ErrBusy
	}
	s, _ := o.sessions.Current()
	gen := o.gen
	o.mu.Unlock()

	ref, err := o.uploader.Upload(ctx, s, f)

	o.mu.Lock()
	defer o.mu.Unlock()

	if gen != o.gen {
		logger.L.Debug("dropping upload for closed conversation", "session", s.ShortID())
		return draft, ErrClosed
	}

	if err != nil {
		if ferr := o.fsm.Fire(TriggerUploadFailed, err); ferr != nil {
			logger.L.Warn("record upload failure", "error", ferr)
		}
		return draft, err
	}
	if ferr := o.fsm.Fire(TriggerUploaded, ref); ferr != nil {
		logger.L.Warn("record upload", "error", ferr)
	}
	return attachment.Compose(draft, ref), nil
}

// Snapshot returns the log in append order. It is empty before bootstrap.
func (o *Orchestrator) Snapshot() []chatlog.Message {
	o.mu.Lock()
	log := o.log
	o.mu.Unlock()
	if log == nil {
		return nil
	}
	return log.Snapshot()
}

// TotalTokens sums token counts over the conversation.
func (o *Orchestrator) TotalTokens() int {
	o.mu.Lock()
	log := o.log
	o.mu.Unlock()
	if log == nil {
		return 0
	}
	return log.TotalTokens()
}

// State returns the current FSM state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, _ := o.fsm.MustState().(State)
	return st
}

// IsAwaitingReply is true exactly while a send, including its retries, is in flight.
func (o *Orchestrator) IsAwaitingReply() bool {
	return o.State() == StateAwaitingReply
}

// CanSubmit reports whether the input affordance should be enabled.
func (o *Orchestrator) CanSubmit() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, _ := o.fsm.MustState().(State)
	return st == StateIdle && o.log != nil
}

// Close discards the session and resets to Idle. Later operations are
// ignored until the next Bootstrap; an in-flight send or upload finishes
// with ErrClosed and never touches a later conversation's log.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.log = nil
	o.gen++
	o.fsm = o.newStateMachine()
	o.mu.Unlock()
	o.sessions.Discard()
}
