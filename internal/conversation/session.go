// ABOUTME: ConversationSession drives one AI conversation against the backend
// ABOUTME: Ordered turn dispatch, reorder buffer, fallback replies, epoch-based invalidation

package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/2389/fanlink/internal/backend"
	"github.com/2389/fanlink/internal/chatlog"
)

const (
	// DefaultGreeting is the assistant's opening line; {subject} is replaced
	// with the session subject.
	DefaultGreeting = "Hello! I'm an AI trained on {subject}'s published works and interviews. " +
		"I can discuss their characters, themes, writing process, and answer questions about their stories. " +
		"What would you like to know?"

	// FallbackReply is appended in place of a reply when a turn fails
	FallbackReply = "I'm sorry, I encountered an error. Please try again."
)

// DefaultSuggestions are the quick prompts offered before the first user turn
var DefaultSuggestions = []string{
	"Tell me about your writing process",
	"What inspired your latest book?",
	"How do you develop characters?",
	"What's your favorite scene you've written?",
}

// Config configures a Session
type Config struct {
	Subject string
	Client  backend.Client

	// MaxInFlight bounds concurrent backend turns; 1 (the default) is strictly sequential
	MaxInFlight int

	// TurnTimeout bounds each SendTurn call; zero means no per-turn deadline
	TurnTimeout time.Duration

	Greeting    string
	Suggestions []string
	Logger      *slog.Logger
}

// Snapshot is a read-only view of a session
type Snapshot struct {
	ID          string            `json:"conversation_id,omitempty"`
	Subject     string            `json:"subject"`
	Status      Status            `json:"status"`
	Messages    []chatlog.Message `json:"messages"`
	Pending     int               `json:"pending"`
	Suggestions []string          `json:"suggestions,omitempty"`
}

type turn struct {
	seq  uint64
	text string
}

type turnResult struct {
	reply *backend.TurnReply
	err   error
}

// run is the per-epoch dispatch state. Close and Reset cancel the current run;
// completions that belong to a stale run are discarded.
type run struct {
	epoch  uint64
	ctx    context.Context
	cancel context.CancelFunc
	sem    *semaphore.Weighted
	wake   chan struct{}

	queue     []turn
	nextSeq   uint64
	nextFlush uint64
	results   map[uint64]turnResult
}

func newRun(epoch uint64, maxInFlight int) *run {
	ctx, cancel := context.WithCancel(context.Background())
	return &run{
		epoch:   epoch,
		ctx:     ctx,
		cancel:  cancel,
		sem:     semaphore.NewWeighted(int64(maxInFlight)),
		wake:    make(chan struct{}, 1),
		results: make(map[uint64]turnResult),
	}
}

// Session is one conversation with the backend. It is safe for concurrent use.
type Session struct {
	client      backend.Client
	subject     string
	maxInFlight int
	turnTimeout time.Duration
	greeting    string
	suggestions []string
	logger      *slog.Logger

	mu      sync.Mutex
	status  Status
	id      string
	log     *chatlog.Log
	cur     *run
	pending int
	idle    chan struct{} // non-nil while turns are pending; closed when they drain
	feed    *snapshotFeed
}

// NewSession creates an uninitialized session
func NewSession(cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "session", "subject", cfg.Subject)

	maxInFlight := cfg.MaxInFlight
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	greeting := cfg.Greeting
	if greeting == "" {
		greeting = DefaultGreeting
	}
	suggestions := cfg.Suggestions
	if suggestions == nil {
		suggestions = DefaultSuggestions
	}

	return &Session{
		client:      cfg.Client,
		subject:     cfg.Subject,
		maxInFlight: maxInFlight,
		turnTimeout: cfg.TurnTimeout,
		greeting:    strings.ReplaceAll(greeting, "{subject}", cfg.Subject),
		suggestions: append([]string(nil), suggestions...),
		logger:      logger,
		status:      StatusUninitialized,
		log:         chatlog.New(),
		cur:         newRun(0, maxInFlight),
		feed:        newSnapshotFeed(logger),
	}
}

// Start performs the backend handshake. On success the session holds the
// backend-issued id, one greeting message, and is Active. If the session is
// closed or reset before the handshake returns, the result is discarded and
// ErrSessionClosed is returned.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	next, err := Transition(s.status, TriggerStart)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.status = next
	r := s.cur
	s.notifyLocked()
	s.mu.Unlock()

	hsCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(r.ctx, cancel)
	defer stop()

	id, openErr := s.client.OpenConversation(hsCtx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cur != r || s.status != StatusStarting {
		s.logger.Debug("discarding handshake result", "epoch", r.epoch)
		return ErrSessionClosed
	}

	if openErr != nil {
		s.status, _ = Transition(s.status, TriggerStartFailed)
		s.notifyLocked()
		s.logger.Warn("session start failed", "error", openErr)
		return fmt.Errorf("%w: %w", ErrSessionStart, openErr)
	}

	if _, err := s.log.Append(chatlog.NewMessage(chatlog.RoleAssistant, s.greeting)); err != nil {
		return fmt.Errorf("appending greeting: %w", err)
	}
	s.id = id
	s.status, _ = Transition(s.status, TriggerStartOK)
	s.notifyLocked()

	go s.dispatch(r)

	s.logger.Info("session started", "conversation_id", id)
	return nil
}

// Send appends the user message and queues a backend turn. It returns without
// waiting for the reply; replies are appended in send order.
func (s *Session) Send(text string) (chatlog.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return chatlog.Message{}, ErrEmptyMessage
	}

	s.mu.Lock()
	if _, err := Transition(s.status, TriggerSend); err != nil {
		s.mu.Unlock()
		return chatlog.Message{}, err
	}

	msg, err := s.log.Append(chatlog.NewMessage(chatlog.RoleUser, text))
	if err != nil {
		s.mu.Unlock()
		return chatlog.Message{}, err
	}

	r := s.cur
	r.queue = append(r.queue, turn{seq: r.nextSeq, text: text})
	r.nextSeq++
	s.pending++
	if s.idle == nil {
		s.idle = make(chan struct{})
	}
	s.notifyLocked()
	s.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
	return msg, nil
}

// Close ends the session, cancels outstanding turns, seals the log and
// returns it. A second Close returns a nil log.
func (s *Session) Close() (*chatlog.Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusClosed {
		return nil, nil
	}
	next, err := Transition(s.status, TriggerClose)
	if err != nil {
		return nil, err
	}

	s.cur.cancel()
	s.status = next
	s.log.Seal()
	s.drainLocked()
	s.feed.finish(s.snapshotLocked())

	s.logger.Info("session closed",
		"conversation_id", s.id,
		"messages", s.log.Len())
	return s.log, nil
}

// Reset returns the session to Uninitialized with an empty log. Outstanding
// work from before the reset is discarded.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status, _ = Transition(s.status, TriggerReset)
	s.cur.cancel()
	s.cur = newRun(s.cur.epoch+1, s.maxInFlight)
	s.id = ""
	s.log = chatlog.New()
	s.drainLocked()
	s.notifyLocked()

	s.logger.Debug("session reset", "epoch", s.cur.epoch)
}

// Wait blocks until no turns are pending or ctx is done
func (s *Session) Wait(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()

	if idle == nil {
		return nil
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns a copy of the session's current state
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Status returns the lifecycle state
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// ID returns the backend-issued conversation id, empty until Start succeeds
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Subject returns the identity the AI speaks as
func (s *Session) Subject() string {
	return s.subject
}

func (s *Session) snapshotLocked() Snapshot {
	msgs := s.log.Messages()
	snap := Snapshot{
		ID:       s.id,
		Subject:  s.subject,
		Status:   s.status,
		Messages: msgs,
		Pending:  s.pending,
	}
	if s.status == StatusActive && len(msgs) == 1 && msgs[0].Role == chatlog.RoleAssistant {
		snap.Suggestions = append([]string(nil), s.suggestions...)
	}
	return snap
}

func (s *Session) notifyLocked() {
	s.feed.publish(s.snapshotLocked())
}

// drainLocked forgets pending turns and releases Wait callers
func (s *Session) drainLocked() {
	s.pending = 0
	if s.idle != nil {
		close(s.idle)
		s.idle = nil
	}
}

// dispatch issues queued turns in send order, at most maxInFlight at a time,
// until the run is cancelled.
func (s *Session) dispatch(r *run) {
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.wake:
		}

		for {
			t, ok := s.dequeue(r)
			if !ok {
				break
			}
			if err := r.sem.Acquire(r.ctx, 1); err != nil {
				return
			}
			go s.runTurn(r, t)
		}
	}
}

func (s *Session) dequeue(r *run) (turn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cur != r || len(r.queue) == 0 {
		return turn{}, false
	}
	t := r.queue[0]
	r.queue = r.queue[1:]
	return t, true
}

func (s *Session) runTurn(r *run, t turn) {
	defer r.sem.Release(1)

	s.mu.Lock()
	req := &backend.TurnRequest{
		ConversationID: s.id,
		Subject:        s.subject,
		Text:           t.text,
	}
	s.mu.Unlock()

	ctx := r.ctx
	if s.turnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.turnTimeout)
		defer cancel()
	}

	reply, err := s.client.SendTurn(ctx, req)
	s.complete(r, t.seq, turnResult{reply: reply, err: err})
}

// complete records a turn result and flushes every result that is next in
// send order.
func (s *Session) complete(r *run, seq uint64, res turnResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cur != r || s.status != StatusActive {
		s.logger.Debug("discarding stale turn result", "epoch", r.epoch, "seq", seq)
		return
	}

	r.results[seq] = res
	flushed := false
	for {
		next, ok := r.results[r.nextFlush]
		if !ok {
			break
		}
		delete(r.results, r.nextFlush)
		r.nextFlush++

		if _, err := s.log.Append(s.replyMessage(next)); err != nil {
			s.logger.Error("appending reply", "error", err)
		}
		s.pending--
		flushed = true
	}
	if !flushed {
		return
	}

	if s.pending == 0 && s.idle != nil {
		close(s.idle)
		s.idle = nil
	}
	s.notifyLocked()
}

func (s *Session) replyMessage(res turnResult) chatlog.Message {
	if res.err == nil && res.reply == nil {
		res.err = fmt.Errorf("%w: empty reply", backend.ErrRejected)
	}
	if res.err != nil {
		s.logger.Warn("backend turn failed",
			"conversation_id", s.id,
			"error", fmt.Errorf("%w: %w", ErrTurnFailed, res.err))

		msg := chatlog.NewMessage(chatlog.RoleAssistant, FallbackReply)
		msg.Fallback = true
		return msg
	}

	msg := chatlog.NewMessage(chatlog.RoleAssistant, res.reply.Text)
	msg.Sources = res.reply.Sources
	return msg
}
