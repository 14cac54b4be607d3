// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plughost Contributors

// Package observability provides Prometheus metrics and the HTTP endpoints
// that expose them alongside health probes.
package observability

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
)

// ReadinessChecker reports why the host cannot serve plugin traffic yet,
// or nil once it can.
type ReadinessChecker func() error

// Server serves /metrics and the liveness and readiness probes on a port
// separate from the plugin frontend.
type Server struct {
	addr     string
	registry *prometheus.Registry
	ready    ReadinessChecker
	handler  http.Handler

	listener   net.Listener
	httpServer *http.Server
	running    atomic.Bool
}

// NewServer creates a server on addr ("host:port") exposing registry.
// A nil registry gets a fresh one with the runtime collectors; a nil
// checker always reports ready.
func NewServer(addr string, registry *prometheus.Registry, ready ReadinessChecker) *Server {
	if registry == nil {
		registry = NewRegistry()
	}
	s := &Server{addr: addr, registry: registry, ready: ready}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("GET /healthz/liveness", s.handleLiveness)
	mux.HandleFunc("GET /healthz/readiness", s.handleReadiness)
	s.handler = mux
	return s
}

// Handler returns the probe and metrics handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start binds the address and serves in the background. The returned
// channel receives a serve error, if any, and is closed when serving ends.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("observability server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.Code("LISTEN_FAILED").With("addr", s.addr).Wrap(err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func(srv *http.Server) {
		defer close(errCh)
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("observability server error", "error", err)
			errCh <- err
		}
	}(s.httpServer)

	return errCh, nil
}

// Stop shuts the server down, waiting for in-flight scrapes until ctx ends.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.running.Store(true)
		return oops.With("operation", "shutdown_observability_server").Wrap(err)
	}
	slog.Info("observability server stopped")
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

type probeResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeProbe(w, http.StatusOK, probeResponse{Status: "ok"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	if s.ready != nil {
		if err := s.ready(); err != nil {
			writeProbe(w, http.StatusServiceUnavailable, probeResponse{Status: "not ready", Reason: err.Error()})
			return
		}
	}
	writeProbe(w, http.StatusOK, probeResponse{Status: "ok"})
}

func writeProbe(w http.ResponseWriter, status int, body probeResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	//nolint:errcheck // probe clients may disconnect
	json.NewEncoder(w).Encode(body)
}
