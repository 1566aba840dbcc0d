// Package server carries the HTTP surface: the redirect hot path, the
// password gate, and the small operational API.
package server

import (
	"context"
	"net/http"
	"time"
)

// Server wraps http.Server with lifecycle management.
type Server struct {
	srv *http.Server
}

// New creates a new server instance. Timeouts are tight because the
// redirect path must answer fast or not at all.
func New(handler http.Handler, port string) *Server {
	return &Server{
		srv: &http.Server{
			Addr:         ":" + port,
			Handler:      handler,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

// Start starts the server in a goroutine.
func (s *Server) Start() error {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			panic(err)
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
