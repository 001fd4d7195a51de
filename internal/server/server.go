package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type Config struct {
	Addr    string
	Handler http.Handler
}

// Server wraps the HTTP listener with a defined start/shutdown
// lifecycle.
type Server struct {
	cfg  Config
	http *http.Server
}

func New(cfg Config) (*Server, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("addr required")
	}
	h := cfg.Handler
	if h == nil {
		h = http.NewServeMux()
	}
	return &Server{cfg: cfg, http: &http.Server{Addr: cfg.Addr, Handler: h}}, nil
}

// Start blocks serving requests until Shutdown is called.
func (s *Server) Start() error {
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.cfg.Addr
}
