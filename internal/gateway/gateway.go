// ABOUTME: Gateway owns the HTTP server that exposes conversations and the live session
// ABOUTME: Handles listener setup, graceful shutdown, and health endpoints

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/yuin/goldmark"

	"github.com/2389/fanlink/internal/archive"
	"github.com/2389/fanlink/internal/backend"
	"github.com/2389/fanlink/internal/conversation"
	"github.com/2389/fanlink/internal/live"
)

const defaultShutdownTimeout = 10 * time.Second

// TranscriptStore reads and prunes archived transcripts
type TranscriptStore interface {
	GetTranscript(ctx context.Context, id string) (*conversation.Transcript, error)
	ListTranscripts(ctx context.Context, limit int) ([]archive.Summary, error)
	DeleteTranscript(ctx context.Context, id string) error
}

// Options wires the gateway to the rest of the process
type Options struct {
	Addr            string
	ShutdownTimeout time.Duration

	Conversations *conversation.Manager
	Bus           *live.Bus
	Aggregator    *live.Aggregator

	// History is optional; without it the history route answers 501
	History backend.HistoryReader

	// Archive is optional; without it the transcript routes are not mounted
	Archive TranscriptStore

	Logger *slog.Logger
}

// Gateway serves the fanlink HTTP API
type Gateway struct {
	addr            string
	shutdownTimeout time.Duration

	conversations *conversation.Manager
	bus           *live.Bus
	aggregator    *live.Aggregator
	history       backend.HistoryReader
	archive       TranscriptStore

	logger   *slog.Logger
	markdown goldmark.Markdown
	upgrader websocket.Upgrader
	router   chi.Router

	// baseCtx parents every request; cancelling it ends open streams
	baseCtx    context.Context
	cancelBase context.CancelFunc
	draining   atomic.Bool
	httpServer *http.Server
}

// New creates a gateway from opts. Conversations, Bus and Aggregator are required.
func New(opts Options) (*Gateway, error) {
	if opts.Conversations == nil {
		return nil, errors.New("conversations manager is required")
	}
	if opts.Bus == nil || opts.Aggregator == nil {
		return nil, errors.New("live bus and aggregator are required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}

	baseCtx, cancel := context.WithCancel(context.Background())

	g := &Gateway{
		addr:            opts.Addr,
		shutdownTimeout: shutdownTimeout,
		conversations:   opts.Conversations,
		bus:             opts.Bus,
		aggregator:      opts.Aggregator,
		history:         opts.History,
		archive:         opts.Archive,
		logger:          logger.With("component", "gateway"),
		markdown:        goldmark.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		baseCtx:    baseCtx,
		cancelBase: cancel,
	}
	g.router = g.routes()

	g.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           g.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return baseCtx
		},
	}

	return g, nil
}

// Handler returns the gateway's router
func (g *Gateway) Handler() http.Handler {
	return g.router
}

// Run listens on the configured address and serves until ctx is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.addr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}
	return g.Serve(ctx, ln)
}

// Serve is Run on an existing listener
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown uses a fresh context since the caller's is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), g.shutdownTimeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown stops accepting requests, ends open streams, and waits for
// in-flight requests up to ctx.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")
	g.draining.Store(true)
	g.cancelBase()

	if err := g.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP shutdown: %w", err)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 503 once shutdown has begun.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if g.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("shutting down"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d conversations)", g.conversations.Len())
}

// streamContext ends when the request does or the gateway shuts down
func (g *Gateway) streamContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(r.Context())
	stop := context.AfterFunc(g.baseCtx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
