// ABOUTME: Append-only, per-conversation ordered message log
// ABOUTME: Messages are immutable once appended; the log is sealed when its conversation closes

package chatlog

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSealed is returned when appending to a log whose conversation has closed
var ErrSealed = errors.New("message log is sealed")

// ErrInvalidRole is returned when a message carries an unknown role
var ErrInvalidRole = errors.New("invalid message role")

// Role identifies who authored a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message is a single entry in a conversation log
type Message struct {
	ID        string
	Role      Role
	Content   string
	CreatedAt time.Time

	// Sources holds retrieved context snippets the backend used for this reply
	Sources []string

	// Fallback marks a synthetic assistant reply standing in for a failed turn
	Fallback bool
}

// NewMessage builds a message with a fresh ID and the current time
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// Log is an append-only ordered sequence of messages.
// Safe for concurrent use; readers always receive copies.
type Log struct {
	mu       sync.RWMutex
	messages []Message
	sealed   bool
}

// New creates an empty log
func New() *Log {
	return &Log{}
}

// Append adds msg to the end of the log. A missing ID or timestamp is filled in.
func (l *Log) Append(msg Message) (Message, error) {
	if !msg.Role.Valid() {
		return Message{}, ErrInvalidRole
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if len(msg.Sources) > 0 {
		msg.Sources = append([]string(nil), msg.Sources...)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sealed {
		return Message{}, ErrSealed
	}
	l.messages = append(l.messages, msg)
	return msg, nil
}

// Messages returns a copy of every message in append order
func (l *Log) Messages() []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// Len returns the number of messages
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

// Last returns the most recent message, if any
func (l *Log) Last() (Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.messages) == 0 {
		return Message{}, false
	}
	return l.messages[len(l.messages)-1], true
}

// Seal makes the log read-only. Sealing twice is a no-op.
func (l *Log) Seal() {
	l.mu.Lock()
	l.sealed = true
	l.mu.Unlock()
}

// Sealed reports whether the log accepts further appends
func (l *Log) Sealed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sealed
}

// Transcript renders the log as "role: content" lines, mostly for debugging
func (l *Log) Transcript() string {
	var b strings.Builder
	for _, m := range l.Messages() {
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}
