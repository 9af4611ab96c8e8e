package rest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Server runs an http.Server on its own listener so the bound address is
// known before Start returns.
type Server struct {
	name   string
	srv    *http.Server
	ln     net.Listener
	logger *slog.Logger
}

func NewServer(name string, port int, h http.Handler, readTimeout time.Duration, logger *slog.Logger) *Server {
	return &Server{
		name: name,
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           h,
			ReadHeaderTimeout: readTimeout,
		},
		logger: logger,
	}
}

// Start binds the listener and serves in the background.
func (s *Server) Start(context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("%s: listen %s: %w", s.name, s.srv.Addr, err)
	}
	s.ln = ln

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("SERVER_STOPPED_UNEXPECTEDLY", "server", s.name, "err", err)
		}
	}()

	s.logger.Info("SERVER_STARTED", "server", s.name, "addr", ln.Addr().String())
	return nil
}

// Addr is the bound address, valid after Start.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.srv.Addr
	}
	return s.ln.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("SERVER_STOPPING", "server", s.name)
	return s.srv.Shutdown(ctx)
}
