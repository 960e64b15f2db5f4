// Package server constructs and starts the counter HTTP service with helpers
// that apply sensible production defaults.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

// Server owns the HTTP listener and every client pump it spawned.
type Server struct {
	cfg        *Config
	hub        Hub
	upgrader   websocket.Upgrader
	httpServer *http.Server
	logger     *log.Logger

	mu      sync.Mutex
	closing bool
	clients sync.WaitGroup
}

// New creates a Server for hub. A nil cfg means defaults.
func New(cfg *Config, hub Hub, logger *log.Logger) *Server {
	if cfg == nil {
		cfg = NewConfig()
	}
	if logger == nil {
		logger = log.Default().WithPrefix("server")
	}

	origins := newOriginPolicy(cfg.AllowedOrigins, logger)
	s := &Server{
		cfg: cfg,
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.checkOrigin,
		},
		logger: logger,
	}
	s.httpServer = CreateServer(cfg.Port, s.Routes())
	return s
}

// CreateServer creates and configures an HTTP server with the specified port and handler.
// It sets reasonable timeout values for production use.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// ListenAndServe blocks serving HTTP. It returns nil after Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("Server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}
	return nil
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("Server listening", "addr", l.Addr().String())
	if err := s.httpServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", l.Addr(), err)
	}
	return nil
}

// startClient runs the pumps of c unless Shutdown has begun. The check and
// the WaitGroup.Add share the lock with Shutdown, so no pump starts after
// Shutdown begins waiting.
func (s *Server) startClient(c *Client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	c.Start(&s.clients)
	return true
}

// Shutdown stops accepting requests and waits for client pumps to exit. The
// hub should be shut down first so that it closes every connection.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")

	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}

	done := make(chan struct{})
	go func() {
		s.clients.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("HTTP server shutdown completed")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for client pumps: %w", ctx.Err())
	}
}
