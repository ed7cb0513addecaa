// Package server implements the HTTP router and handlers for the
// federation engine: discovery (webfinger/host-meta), actor documents,
// the inbox acceptor, follower collections, and article/event endpoints.
// It negotiates representations through internal/negotiate and drives
// business logic through internal/engine; the durable state itself comes
// from internal/db's Store.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/klppl/fedblog/internal/config"
	"github.com/klppl/fedblog/internal/db"
	"github.com/klppl/fedblog/internal/engine"
)

// Server is the HTTP server for the federation engine.
type Server struct {
	cfg   *config.Config
	eng   *engine.Engine
	store *db.Store

	router    *chi.Mux
	startedAt time.Time
}

// New builds a Server. eng drives inbound business rules (signature
// verification's actor-key fetch reuses eng.HTTP); store is the
// reference persistence layer backing both the engine's providers and
// the rendering/pagination extras the engine contract does not name.
func New(cfg *config.Config, eng *engine.Engine, store *db.Store) *Server {
	s := &Server{cfg: cfg, eng: eng, store: store, startedAt: time.Now()}
	s.router = s.buildRouter()
	return s
}

// Router exposes the underlying handler, mainly for tests.
func (s *Server) Router() http.Handler { return s.router }

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) {
	addr := ":" + s.cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("starting HTTP server", "addr", addr, "url", s.cfg.URL)

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
	}
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/.well-known/host-meta", s.handleHostMeta)
	r.Get("/.well-known/webfinger", s.handleWebFinger)

	r.Get("/users/{username}", s.handleUser)
	r.Post("/users/{username}/inbox", s.handleInbox)
	r.Get("/users/{username}/outbox", s.handleOutbox)
	r.Get("/users/{username}/following", s.handleFollowing)
	r.Get("/users/{username}/followers", s.handleFollowers)
	r.Get("/users/{username}/accept_follow", s.handleAcceptFollow)

	r.Get("/articles/*", s.handleArticlesSplat)
	r.Get("/events/articles/{kind}/*", s.handleArticleEvent)

	return r
}

func jsonResponse(w http.ResponseWriter, v interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("server: failed to encode JSON response", "error", err)
	}
}

func apResponse(w http.ResponseWriter, v interface{}, status int) {
	w.Header().Set("Content-Type", "application/activity+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("server: failed to encode AP response", "error", err)
	}
}

// loggingMiddleware logs each HTTP request at debug level.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", time.Since(start),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}
