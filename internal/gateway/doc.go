// Package gateway serves the fanlink HTTP API.
//
// # Routes
//
//	GET    /health                          liveness
//	GET    /health/ready                    503 once shutdown begins
//	POST   /api/conversations               open a session {subject}
//	GET    /api/conversations               list sessions
//	GET    /api/conversations/{id}          session snapshot
//	POST   /api/conversations/{id}/messages send {text}; ?wait=true blocks for replies
//	POST   /api/conversations/{id}/reset    empty and restart the session
//	GET    /api/conversations/{id}/stream   SSE "snapshot" events
//	GET    /api/conversations/{id}/history  backend-side history
//	DELETE /api/conversations/{id}          close; answers with the transcript
//	GET    /api/transcripts                 archived transcripts (archive enabled)
//	GET    /api/transcripts/{id}
//	DELETE /api/transcripts/{id}
//	GET    /api/live                        live session state
//	POST   /api/live/events                 post {author, kind, content, amount}
//	POST   /api/live/viewers                set {count}
//	GET    /api/live/stream                 SSE: "snapshot", then "event" per bus event and "state" per change
//	GET    /api/live/ws                     WebSocket with the same frames; inbound frames post chat
//
// # Errors
//
// Errors are JSON {"error": "..."} with the status chosen by the error kind:
// 400 for malformed requests, 404 for unknown ids, 409 for invalid state
// transitions and duplicate event ids, 422 for invalid tip amounts, and 502
// or 504 when the backend fails.
//
// # Streams
//
// Live streams are gap-free: the snapshot is taken under the bus's publish
// lock at the moment the subscription starts, so every later event is
// delivered exactly once after it. A "state" frame follows every change to
// the aggregates, including viewer counts and summaries. Slow readers drop
// events rather than stall the bus, and skip to the latest state. All streams end when the gateway shuts down.
package gateway
