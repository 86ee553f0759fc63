// Package server wires the acceptor, router and dispatcher into one
// lifecycle: start listening, serve requests on the worker pool, and shut
// down by closing admission before the connections.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mattjoyce/execgw/internal/acceptor"
	"github.com/mattjoyce/execgw/internal/config"
	"github.com/mattjoyce/execgw/internal/dispatch"
	"github.com/mattjoyce/execgw/internal/log"
	"github.com/mattjoyce/execgw/internal/router"
)

// App registers the application routes on the router mux.
type App interface {
	Register(r chi.Router)
}

// Server owns the request pipeline for one listening port.
type Server struct {
	logger       *slog.Logger
	dispatcher   *dispatch.Dispatcher
	router       *router.Router
	acceptor     *acceptor.Acceptor
	drainTimeout time.Duration

	mu      sync.Mutex
	stopped bool
	stopErr error
}

// New builds a Server from cfg. app may be nil, in which case every request
// receives the default response.
func New(cfg *config.Config, app App, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = log.WithComponent("server")
	}

	maxBody, err := cfg.Server.MaxBodyBytes()
	if err != nil {
		return nil, err
	}

	d := dispatch.New(dispatch.Config{PoolSize: cfg.Dispatch.PoolSize}, logger.With("component", "dispatch"))
	r := router.New(d, logger.With("component", "router"))
	if app != nil {
		app.Register(r.Mux())
	}

	acc, err := acceptor.New(acceptor.Config{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReusePort:    cfg.Server.ReusePort,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		MaxBodySize:  maxBody,
	}, r, logger.With("component", "acceptor"))
	if err != nil {
		d.DrainAndStop()
		return nil, fmt.Errorf("create acceptor: %w", err)
	}

	return &Server{
		logger:       logger.With("component", "server"),
		dispatcher:   d,
		router:       r,
		acceptor:     acc,
		drainTimeout: cfg.Server.DrainTimeout,
	}, nil
}

// FromPort builds a Server with the default configuration on port.
func FromPort(port int, app App, logger *slog.Logger) (*Server, error) {
	return New(config.FromPort(port), app, logger)
}

// Start binds the listener. Requests are served until Stop.
func (s *Server) Start() error {
	if err := s.acceptor.Start(); err != nil {
		return err
	}
	s.logger.Info("server started",
		"addr", s.acceptor.Addr().String(),
		"pool_size", s.dispatcher.PoolSize(),
	)
	return nil
}

// Run starts the server and blocks until ctx is done or the listener fails,
// then stops it.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		_ = s.Stop(context.Background())
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-s.acceptor.Failed():
		s.logger.Error("acceptor failed", "error", err)
		runErr = err
	}

	if err := s.Stop(context.Background()); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Stop closes admission, optionally waits for admitted requests, then stops
// the acceptor. Concurrent and repeated calls are serialized; only the first
// does any work.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return s.stopErr
	}
	s.stopped = true
	start := time.Now()

	s.dispatcher.DrainAndStop()

	if s.drainTimeout > 0 {
		waitCtx, cancel := context.WithTimeout(ctx, s.drainTimeout)
		if err := s.dispatcher.Wait(waitCtx); err != nil {
			s.logger.Warn("drain incomplete, closing connections", "queued", s.dispatcher.Queued(), "error", err)
		}
		cancel()
	}

	if err := s.acceptor.Stop(); err != nil {
		s.stopErr = fmt.Errorf("stop acceptor: %w", err)
	}

	s.logger.Info("server stopped", "duration_ms", time.Since(start).Milliseconds())
	return s.stopErr
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	return s.acceptor.Addr()
}

// Dispatcher exposes the worker pool for inspection.
func (s *Server) Dispatcher() *dispatch.Dispatcher {
	return s.dispatcher
}
