// ABOUTME: HTTP, SSE and WebSocket handlers for the shared live session
// ABOUTME: Streams open with a gap-free snapshot, then follow bus events and state changes

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/fanlink/internal/live"
)

const (
	// keepaliveInterval spaces SSE comments on an idle live stream
	keepaliveInterval = 15 * time.Second

	wsWriteWait    = 10 * time.Second
	wsMaxFrameSize = 8 << 10
)

type postEventRequest struct {
	ID      string   `json:"id" validate:"omitempty,max=128"`
	Author  string   `json:"author" validate:"max=100"`
	Kind    string   `json:"kind" validate:"required,oneof=chat tip system"`
	Content string   `json:"content" validate:"max=2000"`
	Amount  *float64 `json:"amount"`
}

type setViewersRequest struct {
	Count *int `json:"count" validate:"required"`
}

// wsInbound is a chat message sent by a WebSocket client
type wsInbound struct {
	Author  string `json:"author" validate:"required,max=100"`
	Content string `json:"content" validate:"required,max=2000"`
}

// wsFrame is every message the server sends over the WebSocket
type wsFrame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// handleLiveState handles GET /api/live.
func (g *Gateway) handleLiveState(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, g.aggregator.State())
}

// handlePostLiveEvent handles POST /api/live/events.
// A tip with no content gets the conventional "tipped $N" text.
func (g *Gateway) handlePostLiveEvent(w http.ResponseWriter, r *http.Request) {
	var req postEventRequest
	if err := decodeRequest(w, r, &req); err != nil {
		g.writeError(w, r, err, "")
		return
	}

	var ev live.Event
	if live.Kind(req.Kind) == live.KindTip && req.Amount != nil && req.Content == "" {
		ev = live.Tip(req.Author, *req.Amount)
	} else {
		ev = live.Event{
			Author:  req.Author,
			Kind:    live.Kind(req.Kind),
			Content: req.Content,
			Amount:  req.Amount,
		}
	}
	if ev.Kind == live.KindSystem && ev.Author == "" {
		ev.Author = live.SystemAuthor
	}
	ev.ID = req.ID

	accepted, err := g.bus.Post(ev)
	if err != nil {
		g.writeError(w, r, err, req.ID)
		return
	}
	g.writeJSON(w, http.StatusCreated, accepted)
}

// handleSetViewers handles POST /api/live/viewers.
func (g *Gateway) handleSetViewers(w http.ResponseWriter, r *http.Request) {
	var req setViewersRequest
	if err := decodeRequest(w, r, &req); err != nil {
		g.writeError(w, r, err, "")
		return
	}

	if err := g.aggregator.SetViewerCount(*req.Count); err != nil {
		g.writeError(w, r, err, "")
		return
	}
	g.writeJSON(w, http.StatusOK, g.aggregator.State())
}

// handleLiveStream handles GET /api/live/stream.
// Sends one "snapshot" event, then one "event" per accepted bus event and a
// "state" event whenever the aggregates change.
func (g *Gateway) handleLiveStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := g.startSSE(w)
	if !ok {
		return
	}

	ctx, cancel := g.streamContext(r)
	defer cancel()

	snap, events, states := g.aggregator.Watch(ctx, 0)
	if err := g.writeSSEEvent(w, "snapshot", snap); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := g.writeSSEEvent(w, "event", ev); err != nil {
				return
			}
			flusher.Flush()
		case st, ok := <-states:
			if !ok {
				return
			}
			if err := g.writeSSEEvent(w, "state", st); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handleLiveWebSocket handles GET /api/live/ws.
// Outbound frames mirror the SSE stream; inbound frames post chat events.
func (g *Gateway) handleLiveWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an error status
		g.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := g.streamContext(r)
	defer cancel()

	snap, events, states := g.aggregator.Watch(ctx, 0)
	replies := make(chan wsFrame, 8)
	go g.readLiveFrames(ctx, cancel, conn, replies)

	if err := g.writeFrame(conn, wsFrame{Type: "snapshot", Data: snap}); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			closeWebSocket(conn)
			return
		case ev, ok := <-events:
			if !ok {
				closeWebSocket(conn)
				return
			}
			if err := g.writeFrame(conn, wsFrame{Type: "event", Data: ev}); err != nil {
				return
			}
		case st, ok := <-states:
			if !ok {
				closeWebSocket(conn)
				return
			}
			if err := g.writeFrame(conn, wsFrame{Type: "state", Data: st}); err != nil {
				return
			}
		case f := <-replies:
			if err := g.writeFrame(conn, f); err != nil {
				return
			}
		}
	}
}

// readLiveFrames posts inbound chat frames until the peer goes away. Rejected
// frames are answered with an "error" frame; the connection stays open.
func (g *Gateway) readLiveFrames(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, replies chan<- wsFrame) {
	defer cancel()
	conn.SetReadLimit(wsMaxFrameSize)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.Debug("websocket read ended", "error", err)
			}
			return
		}

		if err := g.postInbound(data); err != nil {
			select {
			case replies <- wsFrame{Type: "error", Data: errorResponse{Error: err.Error()}}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (g *Gateway) postInbound(data []byte) error {
	var in wsInbound
	if err := json.Unmarshal(data, &in); err != nil {
		return errors.New("invalid JSON frame")
	}
	if err := validateRequest(&in); err != nil {
		return err
	}
	_, err := g.bus.Post(live.Chat(in.Author, in.Content))
	return err
}

// closeWebSocket sends a normal close frame; the peer may already be gone
func closeWebSocket(conn *websocket.Conn) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wsWriteWait))
}

func (g *Gateway) writeFrame(conn *websocket.Conn, f wsFrame) error {
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return err
	}
	return conn.WriteJSON(f)
}
