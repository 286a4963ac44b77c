// Package server runs the HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/evogenom/ephemeral-auth/internal/config"
	"github.com/evogenom/ephemeral-auth/internal/logger"
	"github.com/evogenom/ephemeral-auth/internal/server/handler"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	// defaultShutdownTimeout is used when the config leaves it unset
	defaultShutdownTimeout = 5 * time.Second

	readHeaderTimeout = 10 * time.Second
)

// Server owns the HTTP listener serving the token API.
type Server struct {
	config     *config.ServerConfig
	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener
	errChan  chan error
}

// NewServer creates a server for the given handler tree.
func NewServer(cfg *config.ServerConfig, h *handler.Handler) *Server {
	return &Server{
		config: cfg,
		httpServer: &http.Server{
			Addr:              cfg.Addr(),
			Handler:           h.CreateHTTPHandler(),
			ReadHeaderTimeout: readHeaderTimeout,
		},
		errChan: make(chan error, 1),
	}
}

// Start binds the listen address and serves in the background. Bind errors
// are returned; later serve errors are delivered on Errors.
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	logger.Info("Starting HTTP server", zap.String("address", ln.Addr().String()))

	go func() {
		defer close(s.errChan)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errChan <- fmt.Errorf("server error: %w", err)
		}
	}()
	return nil
}

// Errors reports serve failures after a successful Start. It is closed once
// the server stops serving.
func (s *Server) Errors() <-chan error {
	return s.errChan
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// Shutdown stops accepting connections and waits for in-flight requests,
// bounded by the configured shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	logger.Info("Shutting down server", zap.Duration("timeout", timeout))

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	return nil
}

// Module provides the HTTP server and ties it to the application lifecycle.
// A serve failure shuts the application down.
var Module = fx.Module("server",
	fx.Provide(
		handler.NewHandler,
		NewServer,
	),
	fx.Invoke(func(lc fx.Lifecycle, s *Server, shutdowner fx.Shutdowner) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				if err := s.Start(ctx); err != nil {
					return err
				}
				go func() {
					if err, ok := <-s.Errors(); ok {
						logger.Error("HTTP server failed", zap.Error(err))
						_ = shutdowner.Shutdown(fx.ExitCode(1))
					}
				}()
				return nil
			},
			OnStop: s.Shutdown,
		})
	}),
)
