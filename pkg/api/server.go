package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ServerOptions configures the HTTP server lifecycle.
type ServerOptions struct {
	Port            int
	ShutdownTimeout time.Duration
	Logger          zerolog.Logger
}

// Server runs the HTTP API.
//
// The server is created stopped; Start blocks until the context is
// cancelled or serving fails, then shuts down gracefully within the
// configured timeout.
type Server struct {
	server          *http.Server
	port            int
	shutdownTimeout time.Duration
	log             zerolog.Logger
	shutdownOnce    sync.Once
}

// NewServer wraps a handler in a lifecycle-managed HTTP server.
func NewServer(handler http.Handler, opts ServerOptions) *Server {
	return &Server{
		server: &http.Server{
			Addr:        fmt.Sprintf(":%d", opts.Port),
			Handler:     handler,
			ReadTimeout: 30 * time.Second,
			IdleTimeout: 120 * time.Second,
		},
		port:            opts.Port,
		shutdownTimeout: opts.ShutdownTimeout,
		log:             opts.Logger.With().Str("pkg", "api").Logger(),
	}
}

// Start serves until ctx is cancelled or listening fails.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		s.log.Info().Int("port", s.port).Msg("listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		s.log.Info().Msg("shutdown signal received")
		// The cancelled ctx would abort the drain immediately, so
		// shutdown runs on its own deadline.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("serving failed: %w", err)
	}
}

// Stop drains in-flight requests and closes the listener. Safe to call
// more than once.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("shutdown: %w", err)
			return
		}
		s.log.Info().Msg("stopped")
	})
	return shutdownErr
}

// Port returns the TCP port the server listens on.
func (s *Server) Port() int {
	return s.port
}
