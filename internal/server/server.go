// Package server exposes the orchestration core over HTTP: session
// operations as JSON endpoints and the event bus as an SSE stream.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/strand-ai/strand/internal/core"
	"github.com/strand-ai/strand/pkg/types"
)

// Server is the HTTP host channel.
type Server struct {
	cfg     types.ServerConfig
	core    *core.Core
	router  *chi.Mux
	httpSrv *http.Server
}

// New creates a server over the given core.
func New(cfg types.ServerConfig, c *core.Core) *Server {
	s := &Server{
		cfg:    cfg,
		core:   c,
		router: chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RealIP)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

func (s *Server) setupRoutes() {
	r := s.router

	r.Route("/session", func(r chi.Router) {
		r.Get("/", s.listSessions)
		r.Post("/", s.createSession)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Post("/abort", s.abortSession)
			r.Post("/respond", s.respondAsk)
		})
	})

	r.Get("/asks", s.askQueueStatus)
	r.Get("/metrics", s.metrics)

	// Event streaming (SSE)
	r.Get("/event", s.events)
}

// Start runs the HTTP server until it fails or is shut down.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		// No write timeout: /event holds the connection open.
	}
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() *chi.Mux { return s.router }
