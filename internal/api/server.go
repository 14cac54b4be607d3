// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plughost Contributors

// Package api serves the host's local HTTP frontend: CORS preflight,
// operational endpoints, plugin UI assets and plugin routes.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/plughost/plughost/internal/observability"
	"github.com/plughost/plughost/internal/plugin"
	"github.com/plughost/plughost/internal/router"
	"github.com/plughost/plughost/pkg/errutil"
)

// Preflight header values.
const (
	AllowMethods = "GET, POST, PUT, DELETE, OPTIONS, PATCH"
	AllowHeaders = "*"
)

// Backend is the plugin host the server fronts. *host.Host implements it.
type Backend interface {
	Registry() *router.Registry
	Catalog() *plugin.Catalog
	Rescan(ctx context.Context) (*plugin.ScanResult, error)
	Uptime() time.Duration
}

// Config holds server settings.
type Config struct {
	// Addr is the listen address, e.g. "127.0.0.1:3030".
	Addr string
	// StaticDir, when set, is served for paths no plugin claims.
	StaticDir string
}

// Server is the host HTTP frontend.
type Server struct {
	cfg     Config
	backend Backend
	metrics *observability.Metrics
	logger  *slog.Logger
	mux     *http.ServeMux
	static  http.Handler

	bindRetries uint64
	bindBackoff time.Duration

	listener   net.Listener
	httpServer *http.Server
	running    atomic.Bool
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics counts requests by kind.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithBindRetry retries a listen that fails with "address in use", for
// restarts where the previous process still holds the port.
func WithBindRetry(retries uint64, backoff time.Duration) Option {
	return func(s *Server) {
		s.bindRetries = retries
		s.bindBackoff = backoff
	}
}

// New creates a server for backend.
func New(cfg Config, backend Backend, opts ...Option) *Server {
	s := &Server{
		cfg:         cfg,
		backend:     backend,
		logger:      slog.Default(),
		mux:         http.NewServeMux(),
		bindRetries: 5,
		bindBackoff: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.StaticDir != "" {
		s.static = http.FileServer(http.Dir(cfg.StaticDir))
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/plugins", s.handleListPlugins)
	s.mux.HandleFunc("POST /api/plugins/rescan", s.handleRescan)
	s.mux.HandleFunc("GET /api/plugins/{id}/{file...}", s.handlePluginAsset)
	s.mux.HandleFunc("/", s.handleFallthrough)
}

// ServeHTTP implements http.Handler.
//
// Only /health and /api/ go through the mux. Everything else goes straight
// to plugin dispatch so that plugin paths reach plugins exactly as sent,
// without the mux's path cleaning redirects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		s.metrics.ObserveRequest("preflight")
		s.handlePreflight(w)
		return
	}
	if r.URL.Path == "/health" || strings.HasPrefix(r.URL.Path, "/api/") {
		s.mux.ServeHTTP(w, r)
		return
	}
	s.handleFallthrough(w, r)
}

func (s *Server) handlePreflight(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", AllowMethods)
	h.Set("Access-Control-Allow-Headers", AllowHeaders)
	w.WriteHeader(http.StatusNoContent)
}

// handleFallthrough tries plugin routes, then the static directory.
func (s *Server) handleFallthrough(w http.ResponseWriter, r *http.Request) {
	if s.backend.Registry().Dispatch(w, r) {
		s.metrics.ObserveRequest("plugin")
		return
	}
	if s.static != nil {
		s.metrics.ObserveRequest("static")
		s.static.ServeHTTP(w, r)
		return
	}
	s.metrics.ObserveRequest("not_found")
	router.NotFound(w)
}

type healthResponse struct {
	Status  string `json:"status"`
	Plugins int    `json:"plugins"`
	Uptime  string `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.metrics.ObserveRequest("health")
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Plugins: s.backend.Catalog().Len(),
		Uptime:  s.backend.Uptime().Round(time.Second).String(),
	})
}

func (s *Server) handleListPlugins(w http.ResponseWriter, _ *http.Request) {
	s.metrics.ObserveRequest("api")
	infos := s.backend.Catalog().List()
	if infos == nil {
		infos = []*plugin.Info{}
	}
	writeJSON(w, http.StatusOK, infos)
}

type rescanResponse struct {
	Plugins int `json:"plugins"`
	Loaded  int `json:"loaded"`
}

func (s *Server) handleRescan(w http.ResponseWriter, r *http.Request) {
	s.metrics.ObserveRequest("api")
	result, err := s.backend.Rescan(r.Context())
	if err != nil {
		errutil.LogError(s.logger, "plugin rescan failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "rescan failed"})
		return
	}
	writeJSON(w, http.StatusOK, rescanResponse{Plugins: len(result.Plugins), Loaded: result.Loaded})
}

// handlePluginAsset serves a file from a plugin's frontend directory.
// Names that would leave the directory are answered with 404.
func (s *Server) handlePluginAsset(w http.ResponseWriter, r *http.Request) {
	s.metrics.ObserveRequest("asset")
	info, ok := s.backend.Catalog().Get(r.PathValue("id"))
	if !ok || !info.HasFrontend || info.FrontendDir == "" {
		router.NotFound(w)
		return
	}

	name := r.PathValue("file")
	if name == "" || strings.HasSuffix(name, "/") {
		name += "index.html"
	}
	if !fs.ValidPath(name) {
		router.NotFound(w)
		return
	}

	fsys := os.DirFS(info.FrontendDir)
	st, err := fs.Stat(fsys, name)
	if err != nil || st.IsDir() {
		router.NotFound(w)
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")
	http.ServeFileFS(w, r, fsys, name)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	//nolint:errcheck // client may have gone away
	json.NewEncoder(w).Encode(v)
}

// Start binds the listen address and serves in the background.
// The returned channel receives any error from the HTTP server after it
// starts and is closed when the server stops.
func (s *Server) Start(ctx context.Context) (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("api server already running")
	}

	listener, err := s.listen(ctx)
	if err != nil {
		s.running.Store(false)
		return nil, oops.Code("LISTEN_FAILED").With("addr", s.cfg.Addr).Wrap(err)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("api server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.logger.Info("api server started", "addr", listener.Addr().String())
	return errCh, nil
}

func (s *Server) listen(ctx context.Context) (net.Listener, error) {
	var listener net.Listener
	wait := s.bindBackoff
	if wait <= 0 {
		wait = time.Millisecond
	}
	backoff := retry.WithMaxRetries(s.bindRetries, retry.NewConstant(wait))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var lc net.ListenConfig
		l, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
		if err != nil {
			if errors.Is(err, syscall.EADDRINUSE) {
				s.logger.Warn("listen address in use; retrying", "addr", s.cfg.Addr)
				return retry.RetryableError(err)
			}
			return err
		}
		listener = l
		return nil
	})
	return listener, err
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.With("operation", "shutdown_api_server").Wrap(err)
		}
	}

	s.logger.Info("api server stopped")
	return nil
}

// Addr returns the address the server is listening on, or "" when not running.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
