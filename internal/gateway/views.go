// ABOUTME: JSON views of conversations, messages and transcripts
// ABOUTME: Assistant replies carry a goldmark-rendered content_html alongside the raw text

package gateway

import (
	"bytes"
	"time"

	"github.com/2389/fanlink/internal/chatlog"
	"github.com/2389/fanlink/internal/conversation"
)

type messageView struct {
	ID          string       `json:"id"`
	Role        chatlog.Role `json:"role"`
	Content     string       `json:"content"`
	ContentHTML string       `json:"content_html,omitempty"`
	Sources     []string     `json:"sources,omitempty"`
	Fallback    bool         `json:"fallback,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

type conversationView struct {
	ID             string              `json:"id"`
	ConversationID string              `json:"conversation_id,omitempty"`
	Subject        string              `json:"subject"`
	Status         conversation.Status `json:"status"`
	Messages       []messageView       `json:"messages"`
	Pending        int                 `json:"pending"`
	Suggestions    []string            `json:"suggestions,omitempty"`
	OpenedAt       time.Time           `json:"opened_at"`
}

type transcriptView struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id,omitempty"`
	Subject        string        `json:"subject"`
	Messages       []messageView `json:"messages"`
	ClosedAt       time.Time     `json:"closed_at"`
	ArchiveError   string        `json:"archive_error,omitempty"`
}

type historyView struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// renderMarkdown converts assistant text to HTML. Raw HTML in the source is
// dropped by goldmark's default renderer.
func (g *Gateway) renderMarkdown(text string) string {
	var buf bytes.Buffer
	if err := g.markdown.Convert([]byte(text), &buf); err != nil {
		g.logger.Warn("failed to render markdown", "error", err)
		return ""
	}
	return buf.String()
}

func (g *Gateway) messageViews(msgs []chatlog.Message) []messageView {
	views := make([]messageView, len(msgs))
	for i, m := range msgs {
		views[i] = messageView{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			Sources:   m.Sources,
			Fallback:  m.Fallback,
			CreatedAt: m.CreatedAt,
		}
		if m.Role == chatlog.RoleAssistant {
			views[i].ContentHTML = g.renderMarkdown(m.Content)
		}
	}
	return views
}

func (g *Gateway) conversationView(id string, openedAt time.Time, snap conversation.Snapshot) conversationView {
	return conversationView{
		ID:             id,
		ConversationID: snap.ID,
		Subject:        snap.Subject,
		Status:         snap.Status,
		Messages:       g.messageViews(snap.Messages),
		Pending:        snap.Pending,
		Suggestions:    snap.Suggestions,
		OpenedAt:       openedAt,
	}
}

func (g *Gateway) entryView(e *conversation.Entry) conversationView {
	return g.conversationView(e.ID, e.OpenedAt, e.Session.Snapshot())
}

func (g *Gateway) transcriptView(t *conversation.Transcript) transcriptView {
	return transcriptView{
		ID:             t.SurfaceID,
		ConversationID: t.ConversationID,
		Subject:        t.Subject,
		Messages:       g.messageViews(t.Messages),
		ClosedAt:       t.ClosedAt,
	}
}
