// Package listener serves the push ingestion path: an event webhook
// endpoint that answers the subscription handshake and pulls delivered
// payloads into the pipeline.
package listener

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/eeca-nz/evroam-ingest/internal/config"
	"github.com/eeca-nz/evroam-ingest/internal/pipeline"
)

// BatchProcessor is the slice of the ingestion pipeline the listener
// needs.
type BatchProcessor interface {
	ProcessRaw(ctx context.Context, hint string, raws []map[string]any) (*pipeline.Report, error)
}

// Doer issues the HTTP request that fetches a delivered event's
// payload. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Server is the webhook HTTP server.
type Server struct {
	pipeline BatchProcessor
	fetcher  Doer
	cfg      config.WebhookConfig
	router   *chi.Mux
	server   *http.Server
}

// NewServer creates a webhook server. srvCfg supplies the middleware
// request timeout; the HTTP timeouts themselves are applied in Start.
func NewServer(p BatchProcessor, fetcher Doer, cfg config.WebhookConfig, srvCfg config.ServerConfig) *Server {
	s := &Server{
		pipeline: p,
		fetcher:  fetcher,
		cfg:      cfg,
		router:   chi.NewRouter(),
	}
	s.setupMiddleware(srvCfg)
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware(srvCfg config.ServerConfig) {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(srvCfg.RequestTimeout))
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(apiKeyAuth(s.cfg.APIKey))
		r.Post("/events", s.handleEvents)
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start(cfg config.ServerConfig) error {
	s.server = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	slog.Info("webhook listener started", "addr", cfg.Addr())
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// apiKeyAuth validates the X-Api-Key header against the configured key
// using a constant-time comparison. An empty configured key disables
// authentication.
func apiKeyAuth(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			got := r.Header.Get("X-Api-Key")
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				slog.Warn("webhook auth failed",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				http.Error(w, `{"error":"invalid API key"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
