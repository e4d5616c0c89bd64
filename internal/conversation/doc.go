// Package conversation runs one-on-one AI conversations against the
// inference backend.
//
// # Lifecycle
//
// A Session moves through a small state machine:
//
//	Uninitialized -> Starting -> Active -> Closed
//	                     |                   ^
//	                     +----> Failed ------+
//
// Transition is the pure table; Session applies it and performs the effects.
// Reset returns any state to Uninitialized with a fresh log.
//
// # Turns
//
// Send appends the user message at once and queues a backend turn. A
// dispatcher goroutine issues queued turns in send order with at most
// MaxInFlight outstanding, and a reorder buffer appends replies in the same
// order even when completions arrive out of order. A failed turn appends a
// single fallback reply and leaves the session Active.
//
// Close and Reset cancel the current run. Every handshake and turn
// completion checks that its run is still current before touching state, so
// late results are dropped.
//
// # Registry
//
// Manager keys sessions by surface id and hands sealed transcripts to an
// optional TranscriptSink when a session closes.
package conversation
