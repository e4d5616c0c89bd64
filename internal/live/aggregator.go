// ABOUTME: LiveAggregator folds bus events into tips, viewer gauge and trending topics
// ABOUTME: Posts a periodic "AI Summary" system event on a cron schedule

package live

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

const (
	DefaultTopicWindow     = 50
	DefaultMaxTopics       = 4
	DefaultSummarySchedule = "@every 30s"

	// summaryTopics is how many topics a summary names
	summaryTopics = 3

	summaryPrefix = "AI Summary: Popular questions focus on "

	stateBufferSize = 16
)

// DefaultQuickTips are the one-tap tip amounts offered to viewers
var DefaultQuickTips = []float64{2, 5, 10, 20}

// scheduleParser accepts 5-field cron expressions and @every/@hourly descriptors
var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// AggregatorConfig configures an Aggregator
type AggregatorConfig struct {
	Title string
	Host  string

	TopicWindow int
	MaxTopics   int

	// SummarySchedule is a cron expression; empty uses DefaultSummarySchedule,
	// "off" disables the periodic summary.
	SummarySchedule string

	QuickTips []float64
	Logger    *slog.Logger
}

// State is a snapshot of the live session's aggregates
type State struct {
	Title          string    `json:"title"`
	Host           string    `json:"host"`
	ViewerCount    int       `json:"viewer_count"`
	CumulativeTips float64   `json:"cumulative_tips"`
	TipCount       int       `json:"tip_count"`
	TrendingTopics []Topic   `json:"trending_topics"`
	EventCount     uint64    `json:"event_count"`
	LastSummary    string    `json:"last_summary,omitempty"`
	QuickTips      []float64 `json:"quick_tips"`
}

// Snapshot is the live state together with the retained event history
type Snapshot struct {
	State  State   `json:"state"`
	Events []Event `json:"events"`
}

// Aggregator derives LiveSessionState from the events accepted by a Bus.
// It observes the bus synchronously, so its state always reflects a prefix of
// the bus's publication order.
type Aggregator struct {
	bus         *Bus
	maxTopics   int
	quickTips   []float64
	schedule    cron.Schedule
	logger      *slog.Logger
	unsubscribe func()

	mu          sync.RWMutex
	title, host string
	viewers     int
	tips        float64
	tipCount    int
	lastSeq     uint64
	window      *topicWindow
	topics      []Topic
	announced   []string
	lastSummary string
	stateSubs   map[string]chan State
	cron        *cron.Cron

	// summaryMu serializes Summarize so one topic list is announced once
	summaryMu sync.Mutex
}

// NewAggregator subscribes a new aggregator to bus. It returns an error when
// the summary schedule does not parse.
func NewAggregator(bus *Bus, cfg AggregatorConfig) (*Aggregator, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	windowSize := cfg.TopicWindow
	if windowSize <= 0 {
		windowSize = DefaultTopicWindow
	}
	maxTopics := cfg.MaxTopics
	if maxTopics <= 0 {
		maxTopics = DefaultMaxTopics
	}
	quickTips := cfg.QuickTips
	if len(quickTips) == 0 {
		quickTips = DefaultQuickTips
	}

	var schedule cron.Schedule
	switch expr := strings.TrimSpace(cfg.SummarySchedule); expr {
	case "off":
	case "":
		expr = DefaultSummarySchedule
		fallthrough
	default:
		sched, err := scheduleParser.Parse(expr)
		if err != nil {
			return nil, fmt.Errorf("parsing summary schedule %q: %w", expr, err)
		}
		schedule = sched
	}

	a := &Aggregator{
		bus:       bus,
		maxTopics: maxTopics,
		quickTips: slices.Clone(quickTips),
		schedule:  schedule,
		logger:    logger.With("component", "live_aggregator"),
		title:     cfg.Title,
		host:      cfg.Host,
		window:    newTopicWindow(windowSize),
		topics:    []Topic{},
		stateSubs: make(map[string]chan State),
	}
	a.unsubscribe = bus.Subscribe(a.observe)
	return a, nil
}

// Start begins the periodic summary. It is a no-op when the schedule is off
// or the summary is already running.
func (a *Aggregator) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.schedule == nil || a.cron != nil {
		return
	}
	a.cron = cron.New(cron.WithParser(scheduleParser))
	a.cron.Schedule(a.schedule, cron.FuncJob(a.runSummary))
	a.cron.Start()

	a.logger.Info("summary schedule started")
}

// Stop ends the periodic summary, waits for a running summary up to ctx, and
// detaches from the bus.
func (a *Aggregator) Stop(ctx context.Context) error {
	a.unsubscribe()

	a.mu.Lock()
	c := a.cron
	a.cron = nil
	for id, ch := range a.stateSubs {
		delete(a.stateSubs, id)
		close(ch)
	}
	a.mu.Unlock()

	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// observe is the bus handler. The bus has already validated ev.
func (a *Aggregator) observe(ev Event) {
	if err := a.Apply(ev); err != nil {
		a.logger.Warn("event not aggregated", "event_id", ev.ID, "error", err)
	}
}

// Apply folds one event into the aggregates. Tips with a non-finite or
// non-positive amount return ErrInvalidTipAmount and change nothing.
func (a *Aggregator) Apply(ev Event) error {
	if ev.Kind == KindTip {
		amount := ev.amount()
		if ev.Amount == nil || math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
			return fmt.Errorf("%w: %v", ErrInvalidTipAmount, amount)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	switch ev.Kind {
	case KindTip:
		a.tips += ev.amount()
		a.tipCount++
	case KindChat:
		a.window.add(ev.Seq, ExtractTopics(ev.Content))
		a.topics = a.window.rank(a.maxTopics)
	}
	a.lastSeq = max(a.lastSeq, ev.Seq)

	a.publishLocked()
	return nil
}

// SetViewerCount stores the externally supplied viewer gauge
func (a *Aggregator) SetViewerCount(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidViewerCount, n)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.viewers = n
	a.publishLocked()
	return nil
}

// State returns a copy of the current aggregates
func (a *Aggregator) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.stateLocked()
}

// Watch returns a snapshot plus channels of the events and states that
// follow it. Both channels are registered under the bus lock, so nothing
// falls between the snapshot and the first delivery. Both close when ctx is
// done; the state channel also closes when the aggregator stops.
func (a *Aggregator) Watch(ctx context.Context, buffer int) (Snapshot, <-chan Event, <-chan State) {
	var (
		snap   Snapshot
		states <-chan State
	)
	events := a.bus.Watch(ctx, buffer, func(history []Event) {
		snap = Snapshot{State: a.State(), Events: history}
		states = a.StateUpdates(ctx)
	})
	return snap, events, states
}

// StateUpdates delivers a fresh State after every aggregated event or viewer
// change until ctx is done. Slow readers miss intermediate states but always
// receive the latest one.
func (a *Aggregator) StateUpdates(ctx context.Context) <-chan State {
	id := uuid.New().String()
	ch := make(chan State, stateBufferSize)

	a.mu.Lock()
	a.stateSubs[id] = ch
	a.mu.Unlock()

	go func() {
		<-ctx.Done()
		a.mu.Lock()
		if _, ok := a.stateSubs[id]; ok {
			delete(a.stateSubs, id)
			close(ch)
		}
		a.mu.Unlock()
	}()

	return ch
}

// Summarize posts an "AI Summary" system event naming the top topics. It
// does nothing when there are no topics or they match the last summary.
func (a *Aggregator) Summarize() (Event, bool, error) {
	a.summaryMu.Lock()
	defer a.summaryMu.Unlock()

	a.mu.RLock()
	labels := make([]string, 0, summaryTopics)
	for i, t := range a.topics {
		if i == summaryTopics {
			break
		}
		labels = append(labels, t.Label)
	}
	unchanged := slices.Equal(labels, a.announced)
	a.mu.RUnlock()

	if len(labels) == 0 || unchanged {
		return Event{}, false, nil
	}

	text := SummaryText(labels)
	ev, err := a.bus.Post(System(text))
	if err != nil {
		return Event{}, false, fmt.Errorf("posting summary: %w", err)
	}

	a.mu.Lock()
	a.announced = labels
	a.lastSummary = text
	a.publishLocked()
	a.mu.Unlock()

	a.logger.Debug("summary posted", "seq", ev.Seq, "topics", labels)
	return ev, true, nil
}

func (a *Aggregator) runSummary() {
	if _, _, err := a.Summarize(); err != nil {
		a.logger.Error("periodic summary failed", "error", err)
	}
}

// SummaryText renders the summary sentence for the given topics
func SummaryText(topics []string) string {
	var list string
	switch len(topics) {
	case 0:
		return ""
	case 1:
		list = topics[0]
	case 2:
		list = topics[0] + " and " + topics[1]
	default:
		list = strings.Join(topics[:len(topics)-1], ", ") + ", and " + topics[len(topics)-1]
	}
	return summaryPrefix + list + "."
}

func (a *Aggregator) stateLocked() State {
	return State{
		Title:          a.title,
		Host:           a.host,
		ViewerCount:    a.viewers,
		CumulativeTips: a.tips,
		TipCount:       a.tipCount,
		TrendingTopics: slices.Clone(a.topics),
		EventCount:     a.lastSeq,
		LastSummary:    a.lastSummary,
		QuickTips:      slices.Clone(a.quickTips),
	}
}

func (a *Aggregator) publishLocked() {
	if len(a.stateSubs) == 0 {
		return
	}
	st := a.stateLocked()
	for id, ch := range a.stateSubs {
		select {
		case ch <- st:
			continue
		default:
		}
		// Full: replace the oldest pending state with this one.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st:
		default:
			a.logger.Debug("dropped state for slow subscriber", "sub_id", id)
		}
	}
}
