// ABOUTME: Tests for the conversation and transcript HTTP handlers
// ABOUTME: Covers open, send, stream, history, reset, close and archive lookups

package gateway

import (
	"bufio"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/fanlink/internal/archive"
	"github.com/2389/fanlink/internal/backend"
	"github.com/2389/fanlink/internal/chatlog"
	"github.com/2389/fanlink/internal/conversation"
)

func (f *fixture) open(t *testing.T, subject string) conversationView {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/conversations", map[string]string{"subject": subject})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[conversationView](t, rec)
}

func TestCreateConversation(t *testing.T) {
	f := newFixture(t)

	view := f.open(t, "Elena Rodriguez")

	assert.NotEmpty(t, view.ID)
	assert.Equal(t, "1", view.ConversationID)
	assert.Equal(t, "Elena Rodriguez", view.Subject)
	assert.Equal(t, conversation.StatusActive, view.Status)
	require.Len(t, view.Messages, 1)
	assert.Equal(t, chatlog.RoleAssistant, view.Messages[0].Role)
	assert.Contains(t, view.Messages[0].Content, "Elena Rodriguez")
	assert.Contains(t, view.Messages[0].ContentHTML, "<p>")
	assert.NotEmpty(t, view.Suggestions)
}

func TestCreateConversation_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body any
	}{
		{"missing subject", map[string]string{}},
		{"blank subject", map[string]string{"subject": "   "}},
		{"malformed JSON", "{not json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/conversations", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, decode[errorResponse](t, rec).Error)
		})
	}
	assert.Equal(t, 0, f.manager.Len())
}

func TestCreateConversation_BackendDown(t *testing.T) {
	f := newFixture(t)
	f.backend.setOpenErr(backend.ErrUnavailable)

	rec := f.do(t, http.MethodPost, "/api/conversations", map[string]string{"subject": "Elena Rodriguez"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	body := decode[errorResponse](t, rec)
	require.NotEmpty(t, body.ID)

	rec = f.do(t, http.MethodGet, "/api/conversations/"+body.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, conversation.StatusFailed, decode[conversationView](t, rec).Status)

	// a failed session refuses sends
	rec = f.do(t, http.MethodPost, "/api/conversations/"+body.ID+"/messages", map[string]string{"text": "hi"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListConversations(t *testing.T) {
	f := newFixture(t)

	first := f.open(t, "Elena Rodriguez")
	time.Sleep(time.Millisecond)
	second := f.open(t, "Marcus Chen")

	rec := f.do(t, http.MethodGet, "/api/conversations", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[struct {
		Conversations []conversationView `json:"conversations"`
	}](t, rec)
	require.Len(t, body.Conversations, 2)
	assert.Equal(t, first.ID, body.Conversations[0].ID)
	assert.Equal(t, second.ID, body.Conversations[1].ID)
}

func TestGetConversation_Unknown(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/conversations/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendMessage_Accepted(t *testing.T) {
	f := newFixture(t)
	view := f.open(t, "Elena Rodriguez")

	rec := f.do(t, http.MethodPost, "/api/conversations/"+view.ID+"/messages", map[string]string{"text": "  hello  "})
	require.Equal(t, http.StatusAccepted, rec.Code)

	got := decode[conversationView](t, rec)
	require.GreaterOrEqual(t, len(got.Messages), 2)
	assert.Equal(t, chatlog.RoleUser, got.Messages[1].Role)
	assert.Equal(t, "hello", got.Messages[1].Content)
	assert.Empty(t, got.Messages[1].ContentHTML, "user text is not rendered")
}

func TestSendMessage_WaitReturnsReplies(t *testing.T) {
	f := newFixture(t)
	view := f.open(t, "Elena Rodriguez")

	path := "/api/conversations/" + view.ID + "/messages?wait=true"
	rec := f.do(t, http.MethodPost, path, map[string]string{"text": "first"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodPost, path, map[string]string{"text": "second"})
	require.Equal(t, http.StatusOK, rec.Code)

	got := decode[conversationView](t, rec)
	require.Len(t, got.Messages, 5)
	assert.Equal(t, "first", got.Messages[1].Content)
	assert.Equal(t, "You said: first", got.Messages[2].Content)
	assert.Equal(t, "second", got.Messages[3].Content)
	assert.Equal(t, "You said: second", got.Messages[4].Content)
	assert.Zero(t, got.Pending)
	assert.Empty(t, got.Suggestions, "suggestions only accompany the greeting")
}

func TestSendMessage_Errors(t *testing.T) {
	f := newFixture(t)
	view := f.open(t, "Elena Rodriguez")

	rec := f.do(t, http.MethodPost, "/api/conversations/"+view.ID+"/messages", map[string]string{"text": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/conversations/"+view.ID+"/messages", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/conversations/missing/messages", map[string]string{"text": "hi"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendMessage_RendersMarkdownAndSources(t *testing.T) {
	f := newFixture(t)
	f.backend.reply = func(text string) (*backend.TurnReply, error) {
		return &backend.TurnReply{
			Text:    "I **love** <script>alert(1)</script> drafting",
			Sources: []string{"interview-2023.txt"},
		}, nil
	}
	view := f.open(t, "Elena Rodriguez")

	rec := f.do(t, http.MethodPost, "/api/conversations/"+view.ID+"/messages?wait=true", map[string]string{"text": "process?"})
	require.Equal(t, http.StatusOK, rec.Code)

	reply := decode[conversationView](t, rec).Messages[2]
	assert.Contains(t, reply.ContentHTML, "<strong>love</strong>")
	assert.NotContains(t, reply.ContentHTML, "<script>")
	assert.Equal(t, []string{"interview-2023.txt"}, reply.Sources)
}

func TestSendMessage_FallbackReply(t *testing.T) {
	f := newFixture(t)
	f.backend.reply = func(string) (*backend.TurnReply, error) {
		return nil, backend.ErrTimeout
	}
	view := f.open(t, "Elena Rodriguez")

	rec := f.do(t, http.MethodPost, "/api/conversations/"+view.ID+"/messages?wait=true", map[string]string{"text": "hello"})
	require.Equal(t, http.StatusOK, rec.Code)

	reply := decode[conversationView](t, rec).Messages[2]
	assert.True(t, reply.Fallback)
	assert.Equal(t, conversation.FallbackReply, reply.Content)
}

func TestConversationHistory(t *testing.T) {
	f := newFixture(t)
	f.backend.history = []backend.HistoryEntry{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi there"},
	}
	view := f.open(t, "Elena Rodriguez")

	rec := f.do(t, http.MethodGet, "/api/conversations/"+view.ID+"/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[struct {
		ConversationID string        `json:"conversation_id"`
		Messages       []historyView `json:"messages"`
	}](t, rec)
	assert.Equal(t, "1", body.ConversationID)
	assert.Equal(t, []historyView{{"user", "hello"}, {"assistant", "hi there"}}, body.Messages)
}

func TestConversationHistory_Unavailable(t *testing.T) {
	f := newFixture(t, withoutHistory())
	view := f.open(t, "Elena Rodriguez")

	rec := f.do(t, http.MethodGet, "/api/conversations/"+view.ID+"/history", nil)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestResetConversation(t *testing.T) {
	f := newFixture(t)
	view := f.open(t, "Elena Rodriguez")

	rec := f.do(t, http.MethodPost, "/api/conversations/"+view.ID+"/messages?wait=true", map[string]string{"text": "hello"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/conversations/"+view.ID+"/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	got := decode[conversationView](t, rec)
	assert.Equal(t, view.ID, got.ID)
	assert.Equal(t, "2", got.ConversationID, "reset performs a fresh handshake")
	assert.Equal(t, conversation.StatusActive, got.Status)
	assert.Len(t, got.Messages, 1)
}

func TestResetConversation_RecoversFailedStart(t *testing.T) {
	f := newFixture(t)
	f.backend.setOpenErr(backend.ErrUnavailable)

	rec := f.do(t, http.MethodPost, "/api/conversations", map[string]string{"subject": "Elena Rodriguez"})
	require.Equal(t, http.StatusBadGateway, rec.Code)
	id := decode[errorResponse](t, rec).ID

	f.backend.setOpenErr(nil)
	rec = f.do(t, http.MethodPost, "/api/conversations/"+id+"/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, conversation.StatusActive, decode[conversationView](t, rec).Status)
}

func TestDeleteConversation(t *testing.T) {
	f := newFixture(t)
	view := f.open(t, "Elena Rodriguez")

	rec := f.do(t, http.MethodPost, "/api/conversations/"+view.ID+"/messages?wait=true", map[string]string{"text": "hello"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/conversations/"+view.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	tr := decode[transcriptView](t, rec)
	assert.Equal(t, view.ID, tr.ID)
	assert.Equal(t, "1", tr.ConversationID)
	assert.Len(t, tr.Messages, 3)
	assert.Empty(t, tr.ArchiveError)

	rec = f.do(t, http.MethodGet, "/api/conversations/"+view.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/conversations/"+view.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTranscripts_Archived(t *testing.T) {
	f := newFixture(t, withArchive(t))
	view := f.open(t, "Elena Rodriguez")

	rec := f.do(t, http.MethodPost, "/api/conversations/"+view.ID+"/messages?wait=true", map[string]string{"text": "hello"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodDelete, "/api/conversations/"+view.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/transcripts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Transcripts []archive.Summary `json:"transcripts"`
	}](t, rec)
	require.Len(t, list.Transcripts, 1)
	assert.Equal(t, view.ID, list.Transcripts[0].ID)
	assert.Equal(t, 3, list.Transcripts[0].MessageCount)

	rec = f.do(t, http.MethodGet, "/api/transcripts/"+view.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tr := decode[transcriptView](t, rec)
	require.Len(t, tr.Messages, 3)
	assert.Equal(t, "You said: hello", tr.Messages[2].Content)
	assert.NotEmpty(t, tr.Messages[2].ContentHTML)

	rec = f.do(t, http.MethodGet, "/api/transcripts/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/transcripts?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTranscripts_Delete(t *testing.T) {
	f := newFixture(t, withArchive(t))
	view := f.open(t, "Elena Rodriguez")

	rec := f.do(t, http.MethodDelete, "/api/conversations/"+view.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/transcripts/"+view.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/transcripts/"+view.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/transcripts/"+view.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTranscripts_NotMountedWithoutArchive(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/transcripts", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConversationStream(t *testing.T) {
	f := newFixture(t)
	srv := f.server(t)
	view := f.open(t, "Elena Rodriguez")

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(srv.URL + "/api/conversations/" + view.ID + "/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	event, data := readSSE(t, r)
	require.Equal(t, "snapshot", event)
	var first conversationView
	require.NoError(t, json.Unmarshal(data, &first))
	assert.Equal(t, conversation.StatusActive, first.Status)

	rec := f.do(t, http.MethodDelete, "/api/conversations/"+view.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	for {
		event, data = readSSE(t, r)
		require.Equal(t, "snapshot", event)
		var snap conversationView
		require.NoError(t, json.Unmarshal(data, &snap))
		if snap.Status == conversation.StatusClosed {
			break
		}
	}

	_, err = r.ReadString('\n')
	assert.Error(t, err, "stream ends after the closed snapshot")
}
