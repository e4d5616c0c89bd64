// ABOUTME: JSON-over-HTTP implementation of the backend Client
// ABOUTME: Speaks POST /chat/start, POST /chat/ and GET /chat/history/{id}

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// maxResponseBytes caps how much of a backend response body is read
	maxResponseBytes = 1 << 20

	defaultTimeout = 60 * time.Second
)

// HTTPConfig configures an HTTPClient
type HTTPConfig struct {
	BaseURL string
	Timeout time.Duration

	// HTTPClient overrides the underlying client (tests); Timeout is ignored when set
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// HTTPClient talks to the backend over HTTP
type HTTPClient struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPClient creates a backend client rooted at cfg.BaseURL
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("backend base URL is required")
	}

	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPClient{
		baseURL: base,
		client:  hc,
		logger:  logger.With("component", "backend"),
	}, nil
}

type startResponse struct {
	ConversationID *int64           `json:"conversation_id"`
	Messages       []historyMessage `json:"messages"`
}

type chatRequest struct {
	ConversationID int64  `json:"conversation_id"`
	UserQuery      string `json:"user_query"`
	InfluencerName string `json:"influencer_name"`
}

type chatResponse struct {
	ConversationID   int64    `json:"conversation_id"`
	AIResponse       *string  `json:"ai_response"`
	RetrievedContext []string `json:"retrieved_context"`
}

type historyMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type historyResponse struct {
	ConversationID int64            `json:"conversation_id"`
	Messages       []historyMessage `json:"messages"`
}

// OpenConversation performs the handshake and returns the backend-issued id.
// Deadlines surface as ErrUnavailable here; the handshake has no timeout class.
func (c *HTTPClient) OpenConversation(ctx context.Context) (string, error) {
	var resp startResponse
	err := c.do(ctx, http.MethodPost, "/chat/start", nil, &resp)
	if errors.Is(err, ErrTimeout) {
		return "", fmt.Errorf("%w: handshake timed out", ErrUnavailable)
	}
	if err != nil {
		return "", err
	}
	if resp.ConversationID == nil {
		return "", fmt.Errorf("%w: response missing conversation_id", ErrRejected)
	}

	id := strconv.FormatInt(*resp.ConversationID, 10)
	c.logger.Debug("conversation opened", "conversation_id", id)
	return id, nil
}

// SendTurn sends one user turn and returns the assistant reply
func (c *HTTPClient) SendTurn(ctx context.Context, req *TurnRequest) (*TurnReply, error) {
	convID, err := parseConversationID(req.ConversationID)
	if err != nil {
		return nil, err
	}

	body := chatRequest{
		ConversationID: convID,
		UserQuery:      req.Text,
		InfluencerName: req.Subject,
	}

	var resp chatResponse
	if err := c.do(ctx, http.MethodPost, "/chat/", body, &resp); err != nil {
		return nil, err
	}
	if resp.AIResponse == nil {
		return nil, fmt.Errorf("%w: response missing ai_response", ErrRejected)
	}

	return &TurnReply{
		ConversationID: req.ConversationID,
		Text:           *resp.AIResponse,
		Sources:        resp.RetrievedContext,
	}, nil
}

// History fetches the backend's copy of a conversation
func (c *HTTPClient) History(ctx context.Context, conversationID string) ([]HistoryEntry, error) {
	if _, err := parseConversationID(conversationID); err != nil {
		return nil, err
	}

	var resp historyResponse
	if err := c.do(ctx, http.MethodGet, "/chat/history/"+conversationID, nil, &resp); err != nil {
		return nil, err
	}

	entries := make([]HistoryEntry, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		entries = append(entries, HistoryEntry{Role: m.Role, Content: m.Content})
	}
	return entries, nil
}

// do sends a JSON request and decodes a JSON response, mapping failures onto the
// backend error taxonomy.
func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		c.logger.Warn("backend request failed",
			"method", method,
			"path", path,
			"error", err)
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return classifyTransportError(err)
	}

	c.logger.Debug("backend response",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, truncate(string(data), 200))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: malformed body: %v", ErrRejected, err)
	}
	return nil
}

// classifyTransportError maps a client-side failure to ErrTimeout or ErrUnavailable
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func parseConversationID(id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: conversation id %q is not numeric", ErrRejected, id)
	}
	return n, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
