// Package chatlog holds the ordered, append-only record of a conversation.
package chatlog

import (
	"sync"
	"time"

	"github.com/comigor/tenant-chat/internal/logger"
)

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser  Sender = "user"
	SenderAgent Sender = "agent"
)

// Message is one entry of the log. It is never modified after Append.
type Message struct {
	ID         string
	Sender     Sender
	Content    string
	CreatedAt  time.Time
	TokenCount *int
	// Synthetic marks agent messages produced locally to report a failure.
	Synthetic bool
}

// Sink observes appended messages, e.g. to mirror them into a transcript.
// Sinks must not block for long; they run inside Append.
type Sink interface {
	Save(sessionID string, msg Message) error
}

// Log is safe for concurrent readers; the orchestrator is its only writer.
type Log struct {
	sessionID string

	mu       sync.RWMutex
	messages []Message
	sinks    []Sink
}

// New creates an empty log for the given session.
func New(sessionID string, sinks ...Sink) *Log {
	return &Log{
		sessionID: sessionID,
		messages:  make([]Message, 0, 16),
		sinks:     sinks,
	}
}

// SessionID returns the session the log belongs to.
func (l *Log) SessionID() string { return l.sessionID }

// Append adds msg at the end of the log. Insertion order is the order.
func (l *Log) Append(msg Message) {
	if msg.TokenCount != nil {
		tc := *msg.TokenCount
		msg.TokenCount = &tc
	}

	l.mu.Lock()
	l.messages = append(l.messages, msg)
	sinks := l.sinks
	l.mu.Unlock()

	for _, s := range sinks {
		if err := s.Save(l.sessionID, msg); err != nil {
			logger.L.Warn("message sink failed", "session", l.sessionID, "message", msg.ID, "error", err)
		}
	}
}

// Snapshot returns a copy of the log in append order.
func (l *Log) Snapshot() []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// Len returns the number of messages.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

// Last returns the most recent message.
func (l *Log) Last() (Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.messages) == 0 {
		return Message{}, false
	}
	return l.messages[len(l.messages)-1], true
}

// TotalTokens sums the token counts reported for agent replies.
func (l *Log) TotalTokens() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := 0
	for _, m := range l.messages {
		if m.TokenCount != nil {
			total += *m.TokenCount
		}
	}
	return total
}
