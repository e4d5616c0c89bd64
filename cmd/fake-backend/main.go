// ABOUTME: Minimal fake inference backend for local runs and E2E tests, echoes turns with markdown
// ABOUTME: Usage: fake-backend [-addr 127.0.0.1:8000] [-max-delay 0s]

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8000", "listen address")
	maxDelay := flag.Duration("max-delay", 0, "random reply delay upper bound")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, *addr, *maxDelay); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, addr string, maxDelay time.Duration) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	srv := &http.Server{
		Addr:              addr,
		Handler:           newFakeBackend(maxDelay, logger).routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("fake backend listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	return srv.Shutdown(shutdownCtx)
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	ConversationID int64  `json:"conversation_id"`
	UserQuery      string `json:"user_query"`
	InfluencerName string `json:"influencer_name"`
}

// fakeBackend keeps every conversation in memory
type fakeBackend struct {
	maxDelay time.Duration
	logger   *slog.Logger

	mu            sync.Mutex
	nextID        int64
	conversations map[int64][]wireMessage
}

func newFakeBackend(maxDelay time.Duration, logger *slog.Logger) *fakeBackend {
	return &fakeBackend{
		maxDelay:      maxDelay,
		logger:        logger,
		conversations: make(map[int64][]wireMessage),
	}
}

func (b *fakeBackend) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/chat/start", b.handleStart)
	r.Post("/chat/", b.handleChat)
	r.Get("/chat/history/{id}", b.handleHistory)
	return r
}

func (b *fakeBackend) handleStart(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.conversations[id] = nil
	b.mu.Unlock()

	b.logger.Info("conversation started", "conversation_id", id)
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": id,
		"messages":        []wireMessage{},
	})
}

func (b *fakeBackend) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid JSON body"})
		return
	}

	b.mu.Lock()
	_, ok := b.conversations[req.ConversationID]
	b.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "conversation not found"})
		return
	}

	if b.maxDelay > 0 {
		select {
		case <-time.After(rand.N(b.maxDelay)):
		case <-r.Context().Done():
			return
		}
	}

	reply := fmt.Sprintf("**%s** here. You asked: _%s_", req.InfluencerName, req.UserQuery)

	b.mu.Lock()
	b.conversations[req.ConversationID] = append(b.conversations[req.ConversationID],
		wireMessage{Role: "user", Content: req.UserQuery},
		wireMessage{Role: "assistant", Content: reply},
	)
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id":   req.ConversationID,
		"ai_response":       reply,
		"retrieved_context": []string{"fake-backend echo"},
	})
}

func (b *fakeBackend) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid conversation id"})
		return
	}

	b.mu.Lock()
	msgs, ok := b.conversations[id]
	msgs = append([]wireMessage{}, msgs...)
	b.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "conversation not found"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": id,
		"messages":        msgs,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
