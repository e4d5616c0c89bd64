// Package live carries a multi-party live session: a stream of chat, tip and
// system events plus the aggregates derived from it.
//
// # Bus
//
// Bus.Post validates an event, rejects ids already seen in the dedupe
// window, assigns the next sequence number and calls every handler before
// returning. One publish lock covers all of that, so every subscriber
// observes the same total order. Handlers run under the lock and must not
// post.
//
// Network renderers use Watch, which adapts a handler to a buffered channel
// and drops events for readers that fall behind.
//
// # Aggregator
//
// Aggregator subscribes to a Bus and folds each event into:
//
//   - cumulative tips and tip count
//   - trending topics over a sliding window of recent chats
//   - the viewer count, which is set directly and is not an event
//
// Aggregator.Watch hands renderers a snapshot of state and history together
// with channels of the events and states that follow it. Slow state readers
// skip intermediate states but always end on the latest.
//
// A cron schedule calls Summarize, which posts an "AI Summary" system event
// whenever the leading topics change.
package live
