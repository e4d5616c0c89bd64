// ABOUTME: Tests for the HTTP backend client against an httptest server
// ABOUTME: Covers the wire format and the mapping of failures onto the error taxonomy

package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewHTTPClient(HTTPConfig{BaseURL: srv.URL + "/", Timeout: time.Second})
	require.NoError(t, err)
	return c
}

func TestNewHTTPClient_RequiresBaseURL(t *testing.T) {
	_, err := NewHTTPClient(HTTPConfig{BaseURL: "  "})
	assert.Error(t, err)
}

func TestOpenConversation_Success(t *testing.T) {
	var gotMethod, gotPath string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"conversation_id": 42, "messages": []}`))
	})

	id, err := c.OpenConversation(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "42", id)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/chat/start", gotPath)
}

func TestOpenConversation_MissingID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"messages": []}`))
	})

	_, err := c.OpenConversation(context.Background())
	assert.ErrorIs(t, err, ErrRejected)
}

func TestOpenConversation_NonSuccessStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"detail":"boom"}`))
	})

	_, err := c.OpenConversation(context.Background())
	assert.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "status 500")
}

func TestOpenConversation_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c, err := NewHTTPClient(HTTPConfig{BaseURL: url, Timeout: time.Second})
	require.NoError(t, err)

	_, err = c.OpenConversation(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestOpenConversation_TimeoutIsUnavailable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.OpenConversation(ctx)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestSendTurn_WireFormat(t *testing.T) {
	var got chatRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"conversation_id": 7, "ai_response": "Villains want something.", "retrieved_context": ["ch. 3"]}`))
	})

	reply, err := c.SendTurn(context.Background(), &TurnRequest{
		ConversationID: "7",
		Subject:        "Elena Rodriguez",
		Text:           "How do you write villains?",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(7), got.ConversationID)
	assert.Equal(t, "How do you write villains?", got.UserQuery)
	assert.Equal(t, "Elena Rodriguez", got.InfluencerName)

	assert.Equal(t, "Villains want something.", reply.Text)
	assert.Equal(t, []string{"ch. 3"}, reply.Sources)
	assert.Equal(t, "7", reply.ConversationID)
}

func TestSendTurn_MalformedBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	})

	_, err := c.SendTurn(context.Background(), &TurnRequest{ConversationID: "1", Text: "hi"})
	assert.ErrorIs(t, err, ErrRejected)
}

func TestSendTurn_MissingReply(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"conversation_id": 1}`))
	})

	_, err := c.SendTurn(context.Background(), &TurnRequest{ConversationID: "1", Text: "hi"})
	assert.ErrorIs(t, err, ErrRejected)
}

func TestSendTurn_NonNumericConversationID(t *testing.T) {
	called := false
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	_, err := c.SendTurn(context.Background(), &TurnRequest{ConversationID: "abc", Text: "hi"})
	assert.ErrorIs(t, err, ErrRejected)
	assert.False(t, called, "request should not reach the backend")
}

func TestSendTurn_Timeout(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		// drain the body so the server notices the client disconnect and cancels r.Context()
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.SendTurn(ctx, &TurnRequest{ConversationID: "1", Text: "hi"})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestHistory(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/chat/history/9", r.URL.Path)
		_, _ = w.Write([]byte(`{"conversation_id": 9, "messages": [{"role":"user","content":"hi"},{"role":"assistant","content":"hello"}]}`))
	})

	entries, err := c.History(context.Background(), "9")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, HistoryEntry{Role: "user", Content: "hi"}, entries[0])
	assert.Equal(t, HistoryEntry{Role: "assistant", Content: "hello"}, entries[1])
}

func TestHistory_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"Chat session not found."}`, http.StatusNotFound)
	})

	_, err := c.History(context.Background(), "9")
	assert.ErrorIs(t, err, ErrRejected)
}
