// ABOUTME: Tests for the live aggregator
// ABOUTME: Covers tip totals, viewer gauge, trending topics, summaries and the cron schedule

package live

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAggregator(t *testing.T, cfg AggregatorConfig) (*Bus, *Aggregator) {
	t.Helper()
	b := newTestBus(t, BusConfig{})
	if cfg.SummarySchedule == "" {
		cfg.SummarySchedule = "off"
	}
	a, err := NewAggregator(b, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Stop(context.Background()) })
	return b, a
}

func mustPost(t *testing.T, b *Bus, ev Event) Event {
	t.Helper()
	got, err := b.Post(ev)
	require.NoError(t, err)
	return got
}

func TestAggregator_TipsAccumulate(t *testing.T) {
	b, a := newTestAggregator(t, AggregatorConfig{})

	mustPost(t, b, Tip("FantasyFan88", 5))
	mustPost(t, b, Tip("BookLover23", 3))

	st := a.State()
	assert.Equal(t, 8.0, st.CumulativeTips)
	assert.Equal(t, 2, st.TipCount)
	assert.Equal(t, uint64(2), st.EventCount)
}

func TestAggregator_InvalidTipsLeaveStateUnchanged(t *testing.T) {
	b, a := newTestAggregator(t, AggregatorConfig{})
	mustPost(t, b, Tip("FantasyFan88", 5))

	for _, amount := range []float64{-1, 0, math.NaN(), math.Inf(1)} {
		_, err := b.Post(Tip("troll", amount))
		assert.ErrorIs(t, err, ErrInvalidTipAmount)

		err = a.Apply(Tip("troll", amount))
		assert.ErrorIs(t, err, ErrInvalidTipAmount)
	}

	st := a.State()
	assert.Equal(t, 5.0, st.CumulativeTips)
	assert.Equal(t, 1, st.TipCount)
}

func TestAggregator_SystemEventsChangeNothing(t *testing.T) {
	b, a := newTestAggregator(t, AggregatorConfig{})
	before := a.State()

	mustPost(t, b, System("Welcome everyone"))

	after := a.State()
	assert.Equal(t, before.CumulativeTips, after.CumulativeTips)
	assert.Equal(t, before.TrendingTopics, after.TrendingTopics)
	assert.Equal(t, uint64(1), after.EventCount)
}

func TestAggregator_ViewerCount(t *testing.T) {
	_, a := newTestAggregator(t, AggregatorConfig{})

	require.NoError(t, a.SetViewerCount(892))
	assert.Equal(t, 892, a.State().ViewerCount)

	assert.ErrorIs(t, a.SetViewerCount(-1), ErrInvalidViewerCount)
	assert.Equal(t, 892, a.State().ViewerCount)

	require.NoError(t, a.SetViewerCount(0))
	assert.Equal(t, 0, a.State().ViewerCount)
}

func TestAggregator_TrendingTopics(t *testing.T) {
	b, a := newTestAggregator(t, AggregatorConfig{})

	mustPost(t, b, Chat("u1", "character flaws"))
	mustPost(t, b, Chat("u2", "character flaws"))
	mustPost(t, b, Chat("u3", "dialogue"))

	topics := a.State().TrendingTopics
	require.Len(t, topics, 2)
	assert.Equal(t, Topic{Label: "character flaws", Count: 2}, topics[0])
	assert.Equal(t, Topic{Label: "dialogue", Count: 1}, topics[1])
}

func TestAggregator_TopicWindowAndLimit(t *testing.T) {
	b, a := newTestAggregator(t, AggregatorConfig{TopicWindow: 3, MaxTopics: 2})

	mustPost(t, b, Chat("u", "villains"))
	mustPost(t, b, Chat("u", "villains"))
	mustPost(t, b, Chat("u", "dialogue"))
	mustPost(t, b, Chat("u", "pacing"))
	mustPost(t, b, Chat("u", "pacing"))

	topics := a.State().TrendingTopics
	assert.Equal(t, []Topic{
		{Label: "pacing", Count: 2},
		{Label: "dialogue", Count: 1},
	}, topics)
}

func TestAggregator_InfoAndQuickTips(t *testing.T) {
	_, a := newTestAggregator(t, AggregatorConfig{
		Title: "Character Development Workshop",
		Host:  "Elena Rodriguez",
	})

	st := a.State()
	assert.Equal(t, "Character Development Workshop", st.Title)
	assert.Equal(t, "Elena Rodriguez", st.Host)
	assert.Equal(t, DefaultQuickTips, st.QuickTips)
	assert.NotNil(t, st.TrendingTopics)
}

func TestSummaryText(t *testing.T) {
	assert.Equal(t, "", SummaryText(nil))
	assert.Equal(t, "AI Summary: Popular questions focus on villains.", SummaryText([]string{"villains"}))
	assert.Equal(t, "AI Summary: Popular questions focus on villains and dialogue.",
		SummaryText([]string{"villains", "dialogue"}))
	assert.Equal(t, "AI Summary: Popular questions focus on character development, world building, and villain creation.",
		SummaryText([]string{"character development", "world building", "villain creation"}))
}

func TestAggregator_SummarizePostsSystemEvent(t *testing.T) {
	b, a := newTestAggregator(t, AggregatorConfig{})

	var observed []Event
	b.Subscribe(func(ev Event) { observed = append(observed, ev) })

	_, posted, err := a.Summarize()
	require.NoError(t, err)
	assert.False(t, posted, "no topics yet")

	mustPost(t, b, Chat("u1", "character flaws"))
	mustPost(t, b, Chat("u2", "character flaws"))
	mustPost(t, b, Chat("u3", "dialogue"))

	ev, posted, err := a.Summarize()
	require.NoError(t, err)
	require.True(t, posted)
	assert.Equal(t, KindSystem, ev.Kind)
	assert.Equal(t, SystemAuthor, ev.Author)
	assert.Equal(t, "AI Summary: Popular questions focus on character flaws and dialogue.", ev.Content)

	require.Len(t, observed, 4)
	assert.Equal(t, ev.ID, observed[3].ID)
	assert.Equal(t, ev.Content, a.State().LastSummary)

	_, posted, err = a.Summarize()
	require.NoError(t, err)
	assert.False(t, posted, "unchanged topics are not re-announced")

	mustPost(t, b, Chat("u4", "pacing"))
	_, posted, err = a.Summarize()
	require.NoError(t, err)
	assert.True(t, posted)
}

func TestAggregator_ScheduledSummary(t *testing.T) {
	b, a := newTestAggregator(t, AggregatorConfig{SummarySchedule: "@every 1s"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := b.Watch(ctx, 16, nil)

	mustPost(t, b, Chat("u", "world building"))
	a.Start()
	a.Start()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind == KindSystem {
				assert.Equal(t, "AI Summary: Popular questions focus on world building.", ev.Content)
				return
			}
		case <-deadline:
			t.Fatal("scheduled summary never arrived")
		}
	}
}

func TestNewAggregator_BadSchedule(t *testing.T) {
	b := newTestBus(t, BusConfig{})
	_, err := NewAggregator(b, AggregatorConfig{SummarySchedule: "every now and then"})
	assert.Error(t, err)
}

func TestAggregator_Watch(t *testing.T) {
	b, a := newTestAggregator(t, AggregatorConfig{})
	mustPost(t, b, Tip("FantasyFan88", 5))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	snap, events, states := a.Watch(ctx, 8)
	assert.Equal(t, 5.0, snap.State.CumulativeTips)
	require.Len(t, snap.Events, 1)

	mustPost(t, b, Tip("BookLover23", 3))
	ev := <-events
	assert.Equal(t, uint64(2), ev.Seq)
	st := <-states
	assert.Equal(t, 8.0, st.CumulativeTips)

	require.NoError(t, a.SetViewerCount(892))
	st = <-states
	assert.Equal(t, 892, st.ViewerCount)
}

func TestAggregator_WatchStatesCloseOnStop(t *testing.T) {
	_, a := newTestAggregator(t, AggregatorConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, _, states := a.Watch(ctx, 8)

	require.NoError(t, a.Stop(context.Background()))
	_, open := <-states
	assert.False(t, open)
}

func TestAggregator_SlowStateReaderGetsLatest(t *testing.T) {
	_, a := newTestAggregator(t, AggregatorConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := a.StateUpdates(ctx)

	for n := range stateBufferSize + 5 {
		require.NoError(t, a.SetViewerCount(n))
	}

	var last State
	for range stateBufferSize {
		last = <-updates
	}
	assert.Equal(t, stateBufferSize+4, last.ViewerCount)
}

func TestAggregator_StateUpdates(t *testing.T) {
	_, a := newTestAggregator(t, AggregatorConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	updates := a.StateUpdates(ctx)

	require.NoError(t, a.SetViewerCount(12))
	select {
	case st := <-updates:
		assert.Equal(t, 12, st.ViewerCount)
	case <-time.After(time.Second):
		t.Fatal("no state update")
	}
	cancel()
}

func TestAggregator_StopDetachesFromBus(t *testing.T) {
	b := newTestBus(t, BusConfig{})
	a, err := NewAggregator(b, AggregatorConfig{SummarySchedule: "off"})
	require.NoError(t, err)

	require.NoError(t, a.Stop(context.Background()))
	mustPost(t, b, Tip("late", 4))

	assert.Equal(t, 0.0, a.State().CumulativeTips)
}
