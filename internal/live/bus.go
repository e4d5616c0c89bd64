// ABOUTME: LiveEventBus accepts events in one total order and fans them out
// ABOUTME: Synchronous handlers under a publish lock, bounded history, id-collision rejection

package live

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/fanlink/internal/dedupe"
)

const (
	DefaultHistoryLimit = 500
	DefaultDedupeWindow = 10_000

	// defaultChanBuffer is the channel buffer for Watch callers that pass zero
	defaultChanBuffer = 64
)

// Handler observes accepted events. It runs while the bus holds its publish
// lock, so it must not call Post, Subscribe or an unsubscribe func.
type Handler func(Event)

// BusConfig configures a Bus
type BusConfig struct {
	// HistoryLimit bounds how many events Events returns
	HistoryLimit int

	// DedupeWindow bounds how many recent ids are checked for collisions
	DedupeWindow int

	// DedupeTTL also forgets ids older than this; zero keeps them until the
	// window is full
	DedupeTTL time.Duration

	Logger *slog.Logger
}

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is the live-session event stream. Every accepted event gets the next
// sequence number and reaches every subscriber in that order.
type Bus struct {
	historyLimit int
	seen         *dedupe.Cache
	logger       *slog.Logger

	mu      sync.Mutex
	seq     uint64
	history []Event
	subs    []subscription
	nextSub uint64
}

// NewBus creates an empty bus
func NewBus(cfg BusConfig) *Bus {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	window := cfg.DedupeWindow
	if window <= 0 {
		window = DefaultDedupeWindow
	}

	return &Bus{
		historyLimit: limit,
		seen:         dedupe.New(cfg.DedupeTTL, window),
		logger:       logger.With("component", "live_bus"),
	}
}

// Post validates ev, assigns its id (when empty), timestamp (when zero) and
// sequence number, records it, and delivers it to every subscriber before
// returning. The returned event is the one subscribers saw.
func (b *Bus) Post(ev Event) (Event, error) {
	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	if ev.Amount != nil {
		amount := *ev.Amount
		ev.Amount = &amount
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if b.seen.CheckAndMark(ev.ID) {
		return Event{}, fmt.Errorf("%w: %s", ErrDuplicateEvent, ev.ID)
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	b.seq++
	ev.Seq = b.seq

	b.history = append(b.history, ev)
	if len(b.history) >= 2*b.historyLimit {
		b.history = slices.Clone(b.history[len(b.history)-b.historyLimit:])
	}

	for _, s := range b.subs {
		s.handler(ev)
	}

	b.logger.Debug("event accepted",
		"event_id", ev.ID,
		"seq", ev.Seq,
		"kind", ev.Kind)
	return ev, nil
}

// Subscribe registers h for events accepted from now on
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unsubscribeFunc(b.addLocked(h))
}

// Watch delivers events on a buffered channel until ctx is done, then closes
// it. Events are dropped, never reordered, when the reader falls behind.
// atSubscribe, when set, runs under the publish lock just before the
// subscription is added; it receives the retained history and can capture
// any state derived from it without a gap.
func (b *Bus) Watch(ctx context.Context, buffer int, atSubscribe func(history []Event)) <-chan Event {
	if buffer <= 0 {
		buffer = defaultChanBuffer
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	if atSubscribe != nil {
		atSubscribe(b.eventsLocked())
	}
	subID := b.addLocked(func(ev Event) {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("dropped event for slow subscriber",
				"event_id", ev.ID,
				"seq", ev.Seq)
		}
	})
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		b.removeLocked(subID)
		b.mu.Unlock()
		close(ch)
	}()

	return ch
}

// Events returns a copy of the retained history in arrival order
func (b *Bus) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.eventsLocked()
}

// Len returns the number of events accepted since the bus was created
func (b *Bus) Len() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// Close releases the id window
func (b *Bus) Close() {
	b.seen.Close()
}

func (b *Bus) eventsLocked() []Event {
	start := max(0, len(b.history)-b.historyLimit)
	out := make([]Event, len(b.history)-start)
	copy(out, b.history[start:])
	return out
}

func (b *Bus) addLocked(h Handler) uint64 {
	b.nextSub++
	b.subs = append(b.subs, subscription{id: b.nextSub, handler: h})
	return b.nextSub
}

func (b *Bus) unsubscribeFunc(id uint64) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			b.removeLocked(id)
			b.mu.Unlock()
		})
	}
}

func (b *Bus) removeLocked(id uint64) {
	b.subs = slices.DeleteFunc(b.subs, func(s subscription) bool { return s.id == id })
}
