// ABOUTME: Route table and middleware for the fanlink HTTP API
// ABOUTME: chi router with request ids, panic recovery and slog request logging

package gateway

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func (g *Gateway) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(g.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", g.handleHealth)
	r.Get("/health/ready", g.handleReady)

	r.Route("/api", func(api chi.Router) {
		api.Route("/conversations", func(c chi.Router) {
			c.Post("/", g.handleCreateConversation)
			c.Get("/", g.handleListConversations)
			c.Route("/{id}", func(c chi.Router) {
				c.Get("/", g.handleGetConversation)
				c.Delete("/", g.handleDeleteConversation)
				c.Post("/messages", g.handleSendMessage)
				c.Post("/reset", g.handleResetConversation)
				c.Get("/stream", g.handleConversationStream)
				c.Get("/history", g.handleConversationHistory)
			})
		})

		if g.archive != nil {
			api.Get("/transcripts", g.handleListTranscripts)
			api.Get("/transcripts/{id}", g.handleGetTranscript)
			api.Delete("/transcripts/{id}", g.handleDeleteTranscript)
		}

		api.Route("/live", func(l chi.Router) {
			l.Get("/", g.handleLiveState)
			l.Post("/events", g.handlePostLiveEvent)
			l.Post("/viewers", g.handleSetViewers)
			l.Get("/stream", g.handleLiveStream)
			l.Get("/ws", g.handleLiveWebSocket)
		})
	})

	return r
}

// requestLogger logs each request once it completes
func (g *Gateway) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		g.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
