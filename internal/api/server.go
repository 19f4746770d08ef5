package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/wonny/hedgefund/pkg/logger"
)

// drainTimeout bounds how long in-flight runs may finish after shutdown starts
const drainTimeout = 10 * time.Second

// Server owns the listener lifecycle of the API.
// ⭐ SSOT: API server timeouts live only in this file
type Server struct {
	srv    *http.Server
	hub    *Hub
	logger *logger.Logger
}

// NewServer wraps handler. hub may be nil. Writes have no deadline because
// POST /api/v1/runs and the websocket stream are long-lived.
func NewServer(handler http.Handler, hub *Hub, log *logger.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		hub:    hub,
		logger: log.Component("api"),
	}
}

// ListenAndServe listens on addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve blocks until ctx is done or the listener fails. On ctx it drains
// in-flight requests and disconnects websocket clients; a clean drain
// returns nil.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.WithField("addr", ln.Addr().String()).Info("API server listening")

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("API server draining")
	if s.hub != nil {
		s.hub.Close()
	}
	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := s.srv.Shutdown(drainCtx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	return nil
}
