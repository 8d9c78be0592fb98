// Package webhook serves the public-facing HTTP surface: GitHub webhook
// deliveries and Slack slash commands. Both handlers authenticate the
// request, classify it, and hand real work to the enrichment queue so the
// sending platform gets its response inside its timeout.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/blackboxhq/blackbox-gw/internal/config"
	"github.com/blackboxhq/blackbox-gw/internal/log"
)

// Server is the webhook HTTP server.
type Server struct {
	cfg     config.Config
	queue   JobQueuer
	links   AccountLinker
	limiter RateChecker
	logger  *slog.Logger
	server  *http.Server

	maxBodySize int64
	// now is swapped in tests to pin the Slack timestamp window.
	now func() time.Time
}

// New creates a webhook server.
func New(cfg config.Config, q JobQueuer, links AccountLinker, limiter RateChecker) *Server {
	maxBody := cfg.Webhooks.MaxBodySize
	if maxBody == 0 {
		maxBody = config.DefaultMaxBodySize
	}
	return &Server{
		cfg:         cfg,
		queue:       q,
		links:       links,
		limiter:     limiter,
		logger:      log.WithComponent("webhook"),
		maxBodySize: maxBody,
		now:         time.Now,
	}
}

// Start starts the webhook HTTP server (blocking).
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.cfg.Webhooks.Listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("webhook server starting", "listen", s.cfg.Webhooks.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("webhook server error: %w", err)
	}
}

// setupRoutes configures the HTTP router.
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Post("/webhook/github", s.handleGitHub)
	r.Post("/slack/commands", s.handleSlackCommand)

	return r
}

// loggingMiddleware logs HTTP requests (excludes sensitive payloads).
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("webhook request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// readBody reads and bounds the request body.
func (s *Server) readBody(r *http.Request) ([]byte, error) {
	limitedReader := io.LimitReader(r.Body, s.maxBodySize+1)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	if int64(len(body)) > s.maxBodySize {
		return nil, errBodyTooLarge
	}
	return body, nil
}

var errBodyTooLarge = fmt.Errorf("payload too large")

// respondJSON sends a JSON response.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends a JSON error response.
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}

// respondStatus sends a JSON status message.
func (s *Server) respondStatus(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, StatusResponse{Message: message})
}
