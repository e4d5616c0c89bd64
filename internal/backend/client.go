// ABOUTME: Request/response contract with the remote conversational-AI backend
// ABOUTME: Defines the Client interface, request/reply types, and the backend error taxonomy

package backend

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable means the backend could not be reached
	ErrUnavailable = errors.New("backend unavailable")

	// ErrTimeout means the backend did not answer before the deadline
	ErrTimeout = errors.New("backend timeout")

	// ErrRejected means the backend answered with a non-success status or a malformed body
	ErrRejected = errors.New("backend rejected request")
)

// TurnRequest carries one user turn to the backend
type TurnRequest struct {
	ConversationID string
	Subject        string // identity the AI speaks as (influencer_name on the wire)
	Text           string
}

// TurnReply is the backend's answer to a single turn
type TurnReply struct {
	ConversationID string
	Text           string
	Sources        []string
}

// HistoryEntry is one message as the backend remembers it
type HistoryEntry struct {
	Role    string
	Content string
}

// Client is the boundary to the inference backend.
// Implementations never retry; each failure surfaces exactly once.
type Client interface {
	OpenConversation(ctx context.Context) (string, error)
	SendTurn(ctx context.Context, req *TurnRequest) (*TurnReply, error)
}

// HistoryReader is implemented by clients that can fetch server-side history
type HistoryReader interface {
	History(ctx context.Context, conversationID string) ([]HistoryEntry, error)
}
