// ABOUTME: HTTP handlers for one-on-one conversations and archived transcripts
// ABOUTME: Create, send, stream, reset and close sessions held by the conversation manager

package gateway

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/2389/fanlink/internal/conversation"
)

type createConversationRequest struct {
	Subject string `json:"subject" validate:"required,max=200"`
}

type sendMessageRequest struct {
	Text string `json:"text" validate:"required,max=4000"`
}

// handleCreateConversation handles POST /api/conversations.
// A failed handshake answers 502 with the id of the failed session so the
// client can reset it.
func (g *Gateway) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := decodeRequest(w, r, &req); err != nil {
		g.writeError(w, r, err, "")
		return
	}
	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		g.sendJSONError(w, http.StatusBadRequest, "subject is required")
		return
	}

	entry, err := g.conversations.Open(r.Context(), subject)
	if err != nil {
		id := ""
		if entry != nil {
			id = entry.ID
		}
		g.writeError(w, r, err, id)
		return
	}

	g.writeJSON(w, http.StatusCreated, g.entryView(entry))
}

// handleListConversations handles GET /api/conversations.
func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	entries := g.conversations.List()
	views := make([]conversationView, len(entries))
	for i, e := range entries {
		views[i] = g.entryView(e)
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"conversations": views})
}

// handleGetConversation handles GET /api/conversations/{id}.
func (g *Gateway) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	entry, ok := g.lookup(w, r)
	if !ok {
		return
	}
	g.writeJSON(w, http.StatusOK, g.entryView(entry))
}

// handleSendMessage handles POST /api/conversations/{id}/messages.
// The reply is queued; ?wait=true holds the response until every pending
// turn has been answered.
func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	entry, ok := g.lookup(w, r)
	if !ok {
		return
	}

	var req sendMessageRequest
	if err := decodeRequest(w, r, &req); err != nil {
		g.writeError(w, r, err, entry.ID)
		return
	}

	if _, err := entry.Session.Send(req.Text); err != nil {
		g.writeError(w, r, err, entry.ID)
		return
	}

	status := http.StatusAccepted
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		if err := entry.Session.Wait(r.Context()); err != nil {
			// client went away; nothing left to answer
			return
		}
		status = http.StatusOK
	}

	g.writeJSON(w, status, g.entryView(entry))
}

// handleConversationStream handles GET /api/conversations/{id}/stream.
// Every state change or append is sent as a "snapshot" event; the stream
// ends once the session closes.
func (g *Gateway) handleConversationStream(w http.ResponseWriter, r *http.Request) {
	entry, ok := g.lookup(w, r)
	if !ok {
		return
	}

	flusher, ok := g.startSSE(w)
	if !ok {
		return
	}

	ctx, cancel := g.streamContext(r)
	defer cancel()

	for snap := range entry.Session.Updates(ctx) {
		if err := g.writeSSEEvent(w, "snapshot", g.conversationView(entry.ID, entry.OpenedAt, snap)); err != nil {
			return
		}
		flusher.Flush()

		if snap.Status == conversation.StatusClosed {
			return
		}
	}
}

// handleConversationHistory handles GET /api/conversations/{id}/history,
// passing through what the backend remembers for the conversation.
func (g *Gateway) handleConversationHistory(w http.ResponseWriter, r *http.Request) {
	entry, ok := g.lookup(w, r)
	if !ok {
		return
	}
	if g.history == nil {
		g.sendJSONError(w, http.StatusNotImplemented, "backend history not available")
		return
	}

	convID := entry.Session.ID()
	if convID == "" {
		g.sendJSONError(w, http.StatusConflict, "conversation has not started")
		return
	}

	entries, err := g.history.History(r.Context(), convID)
	if err != nil {
		g.writeError(w, r, err, entry.ID)
		return
	}

	views := make([]historyView, len(entries))
	for i, e := range entries {
		views[i] = historyView{Role: e.Role, Content: e.Content}
	}
	g.writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": convID,
		"messages":        views,
	})
}

// handleResetConversation handles POST /api/conversations/{id}/reset.
// The session is emptied and a fresh handshake is performed.
func (g *Gateway) handleResetConversation(w http.ResponseWriter, r *http.Request) {
	entry, ok := g.lookup(w, r)
	if !ok {
		return
	}

	entry.Session.Reset()
	if err := entry.Session.Start(r.Context()); err != nil {
		g.writeError(w, r, err, entry.ID)
		return
	}

	g.writeJSON(w, http.StatusOK, g.entryView(entry))
}

// handleDeleteConversation handles DELETE /api/conversations/{id}.
// Answers with the final transcript, or 204 when the session never started.
func (g *Gateway) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Archiving must finish even if the client hangs up.
	ctx := context.WithoutCancel(r.Context())
	t, err := g.conversations.Close(ctx, id)
	if err != nil && t == nil {
		g.writeError(w, r, err, id)
		return
	}
	if t == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	view := g.transcriptView(t)
	if err != nil {
		view.ArchiveError = err.Error()
	}
	g.writeJSON(w, http.StatusOK, view)
}

// handleListTranscripts handles GET /api/transcripts?limit=N.
func (g *Gateway) handleListTranscripts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	summaries, err := g.archive.ListTranscripts(r.Context(), limit)
	if err != nil {
		g.writeError(w, r, err, "")
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"transcripts": summaries})
}

// handleGetTranscript handles GET /api/transcripts/{id}.
func (g *Gateway) handleGetTranscript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	t, err := g.archive.GetTranscript(r.Context(), id)
	if err != nil {
		g.writeError(w, r, err, id)
		return
	}
	g.writeJSON(w, http.StatusOK, g.transcriptView(t))
}

// handleDeleteTranscript handles DELETE /api/transcripts/{id}.
func (g *Gateway) handleDeleteTranscript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := g.archive.DeleteTranscript(r.Context(), id); err != nil {
		g.writeError(w, r, err, id)
		return
	}
	g.logger.Info("transcript deleted", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) lookup(w http.ResponseWriter, r *http.Request) (*conversation.Entry, bool) {
	id := chi.URLParam(r, "id")
	entry, err := g.conversations.Get(id)
	if err != nil {
		if !errors.Is(err, conversation.ErrNotFound) {
			g.logger.Error("conversation lookup failed", "id", id, "error", err)
		}
		g.writeError(w, r, err, id)
		return nil, false
	}
	return entry, true
}
