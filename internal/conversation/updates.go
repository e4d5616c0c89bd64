// ABOUTME: Fan-out of session snapshots to UI subscribers
// ABOUTME: Non-blocking sends; the closed snapshot is always delivered and ends the stream

package conversation

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// subscriberBufferSize is the channel buffer for each snapshot subscriber
const subscriberBufferSize = 16

// snapshotFeed holds the snapshot subscribers of one session.
// It has no lock of its own; the owning Session serializes access with its mutex.
type snapshotFeed struct {
	subs   map[string]chan Snapshot
	logger *slog.Logger
}

func newSnapshotFeed(logger *slog.Logger) *snapshotFeed {
	return &snapshotFeed{
		subs:   make(map[string]chan Snapshot),
		logger: logger,
	}
}

func (f *snapshotFeed) add(initial Snapshot) (string, chan Snapshot) {
	subID := uuid.New().String()
	ch := make(chan Snapshot, subscriberBufferSize)
	ch <- initial
	f.subs[subID] = ch

	f.logger.Debug("snapshot subscriber added", "sub_id", subID)
	return subID, ch
}

func (f *snapshotFeed) remove(subID string) {
	ch, ok := f.subs[subID]
	if !ok {
		return
	}
	delete(f.subs, subID)
	close(ch)

	f.logger.Debug("snapshot subscriber removed", "sub_id", subID)
}

func (f *snapshotFeed) publish(snap Snapshot) {
	for subID, ch := range f.subs {
		select {
		case ch <- snap:
		default:
			f.logger.Debug("dropped snapshot for slow subscriber",
				"sub_id", subID,
				"status", snap.Status)
		}
	}
}

// finish delivers final to every subscriber, displacing the oldest pending
// snapshot when a buffer is full, and closes their channels.
func (f *snapshotFeed) finish(final Snapshot) {
	for subID, ch := range f.subs {
		select {
		case ch <- final:
		default:
			<-ch
			ch <- final
		}
		delete(f.subs, subID)
		close(ch)
	}
	f.logger.Debug("snapshot subscribers finished", "status", final.Status)
}

// Updates returns a channel that receives the current snapshot immediately and
// a fresh one after every state change or append. The channel is closed when
// ctx is cancelled or after the closed snapshot is delivered.
func (s *Session) Updates(ctx context.Context) <-chan Snapshot {
	s.mu.Lock()
	if s.status == StatusClosed {
		ch := make(chan Snapshot, 1)
		ch <- s.snapshotLocked()
		close(ch)
		s.mu.Unlock()
		return ch
	}
	subID, ch := s.feed.add(s.snapshotLocked())
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.feed.remove(subID)
		s.mu.Unlock()
	}()

	return ch
}
