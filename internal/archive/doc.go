// Package archive stores transcripts of closed conversations in SQLite.
//
// SQLiteArchive implements conversation.TranscriptSink. The session engine
// never reads it back; the gateway exposes it read-only so past
// conversations can be browsed after the in-memory session is gone.
//
// The database runs in WAL mode with foreign keys on. Timestamps are stored
// as RFC 3339 strings in UTC.
package archive
