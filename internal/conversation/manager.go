// ABOUTME: Registry of open conversation sessions keyed by surface id
// ABOUTME: Hands sealed transcripts to an optional TranscriptSink on close

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/fanlink/internal/backend"
	"github.com/2389/fanlink/internal/chatlog"
)

// Transcript is the sealed record of a closed conversation
type Transcript struct {
	SurfaceID      string            `json:"id"`
	ConversationID string            `json:"conversation_id,omitempty"`
	Subject        string            `json:"subject"`
	Messages       []chatlog.Message `json:"messages"`
	ClosedAt       time.Time         `json:"closed_at"`
}

// TranscriptSink receives transcripts of closed sessions
type TranscriptSink interface {
	SaveTranscript(ctx context.Context, t *Transcript) error
}

// ManagerConfig configures a Manager. Session fields are applied to every
// session the manager opens.
type ManagerConfig struct {
	Client      backend.Client
	MaxInFlight int
	TurnTimeout time.Duration
	Greeting    string
	Suggestions []string

	// Sink is optional; when nil transcripts are only returned to the caller
	Sink   TranscriptSink
	Logger *slog.Logger
}

// Entry pairs a surface id with its session
type Entry struct {
	ID       string
	OpenedAt time.Time
	Session  *Session
}

// Manager tracks one session per open chat surface
type Manager struct {
	cfg    ManagerConfig
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Entry
}

// NewManager creates an empty registry
func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:      cfg,
		logger:   logger.With("component", "conversations"),
		sessions: make(map[string]*Entry),
	}
}

// Open registers a new session for subject and starts it. The session stays
// registered when the handshake fails so the caller can inspect or reset it.
func (m *Manager) Open(ctx context.Context, subject string) (*Entry, error) {
	sess := NewSession(Config{
		Subject:     subject,
		Client:      m.cfg.Client,
		MaxInFlight: m.cfg.MaxInFlight,
		TurnTimeout: m.cfg.TurnTimeout,
		Greeting:    m.cfg.Greeting,
		Suggestions: m.cfg.Suggestions,
		Logger:      m.cfg.Logger,
	})

	entry := &Entry{
		ID:       uuid.New().String(),
		OpenedAt: time.Now(),
		Session:  sess,
	}

	m.mu.Lock()
	m.sessions[entry.ID] = entry
	m.mu.Unlock()

	m.logger.Debug("session registered", "surface_id", entry.ID, "subject", subject)

	if err := sess.Start(ctx); err != nil {
		return entry, err
	}
	return entry, nil
}

// Get returns the session registered under id
func (m *Manager) Get(id string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return entry, nil
}

// List returns every registered session, oldest first
func (m *Manager) List() []*Entry {
	m.mu.RLock()
	entries := make([]*Entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].OpenedAt.Before(entries[j].OpenedAt)
	})
	return entries
}

// Close unregisters and closes the session. When the session had a log to
// hand off, the transcript is returned and passed to the sink. A sink failure
// is returned alongside the transcript.
func (m *Manager) Close(ctx context.Context, id string) (*Transcript, error) {
	m.mu.Lock()
	entry, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	// Keep the id for the transcript; Close does not clear it.
	log, err := entry.Session.Close()
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			m.logger.Debug("closed session that never started", "surface_id", id)
			return nil, nil
		}
		return nil, err
	}
	if log == nil {
		return nil, nil
	}

	t := &Transcript{
		SurfaceID:      id,
		ConversationID: entry.Session.ID(),
		Subject:        entry.Session.Subject(),
		Messages:       log.Messages(),
		ClosedAt:       time.Now(),
	}

	if m.cfg.Sink != nil && len(t.Messages) > 0 {
		if err := m.cfg.Sink.SaveTranscript(ctx, t); err != nil {
			m.logger.Error("failed to archive transcript",
				"surface_id", id,
				"error", err)
			return t, fmt.Errorf("archiving transcript: %w", err)
		}
		m.logger.Debug("transcript archived",
			"surface_id", id,
			"messages", len(t.Messages))
	}

	return t, nil
}

// CloseAll closes every registered session
func (m *Manager) CloseAll(ctx context.Context) error {
	var errs []error
	for _, e := range m.List() {
		if _, err := m.Close(ctx, e.ID); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of registered sessions
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
