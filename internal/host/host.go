// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plughost Contributors

// Package host wires plugin discovery, library loading and routing into
// one unit that the HTTP frontend serves from.
package host

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/plughost/plughost/internal/bridge"
	"github.com/plughost/plughost/internal/observability"
	"github.com/plughost/plughost/internal/plugin"
	"github.com/plughost/plughost/internal/plugin/native"
	"github.com/plughost/plughost/internal/router"
)

// Loader opens plugin libraries and calls into them.
type Loader interface {
	plugin.Loader
	bridge.Caller
	Close() error
}

var _ Loader = (*native.Loader)(nil)

// Config holds host settings.
type Config struct {
	PluginsDir   string
	Ignore       []string
	CallTimeout  time.Duration
	MaxBodyBytes int64
}

// Host owns the plugin catalog, the loaded libraries and the router registry.
type Host struct {
	cfg      Config
	loader   Loader
	manager  *plugin.Manager
	catalog  *plugin.Catalog
	registry *router.Registry
	handler  router.Handler
	metrics  *observability.Metrics
	logger   *slog.Logger
	started  time.Time

	// scanMu serializes scans so two rescans never interleave.
	scanMu   sync.Mutex
	lastScan *plugin.ScanResult
}

// Option configures a Host.
type Option func(*Host)

// WithLoader replaces the native loader.
func WithLoader(l Loader) Option {
	return func(h *Host) { h.loader = l }
}

// WithMetrics records scan and call metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(h *Host) { h.metrics = m }
}

// WithLogger sets the host logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Host) { h.logger = l }
}

// New creates a host. Nothing is scanned until Start.
func New(cfg Config, opts ...Option) (*Host, error) {
	h := &Host{
		cfg:      cfg,
		catalog:  &plugin.Catalog{},
		registry: router.NewRegistry(),
		logger:   slog.Default(),
		started:  time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.loader == nil {
		h.loader = native.NewLoader(native.WithLogger(h.logger))
	}

	ignore := cfg.Ignore
	if ignore == nil {
		ignore = plugin.DefaultIgnore
	}
	patterns, err := plugin.CompileIgnore(ignore)
	if err != nil {
		return nil, err
	}

	h.manager = plugin.NewManager(cfg.PluginsDir,
		plugin.WithLoader(h.loader),
		plugin.WithCatalog(h.catalog),
		plugin.WithIgnore(patterns...),
		plugin.WithLogger(h.logger),
	)
	h.handler = bridge.New(h.loader,
		bridge.WithMetrics(h.metrics),
		bridge.WithLogger(h.logger),
		bridge.WithCallTimeout(cfg.CallTimeout),
		bridge.WithMaxBodyBytes(cfg.MaxBodyBytes),
	)
	return h, nil
}

// Start runs the initial scan.
func (h *Host) Start(ctx context.Context) error {
	_, err := h.Rescan(ctx)
	return err
}

// Rescan rediscovers plugins, reloads their libraries and swaps in freshly
// built routers. Plugins that disappeared stop being routed.
func (h *Host) Rescan(ctx context.Context) (*plugin.ScanResult, error) {
	h.scanMu.Lock()
	defer h.scanMu.Unlock()

	result, err := h.manager.LoadAll(ctx)
	if err != nil {
		return nil, oops.Code(plugin.CodeDiscoveryFailed).With("dir", h.cfg.PluginsDir).Wrap(err)
	}

	h.registry.Replace(h.buildRouters(result.Plugins))
	h.metrics.ObserveScan(len(result.Plugins), result.Loaded)
	h.lastScan = result
	return result, nil
}

// buildRouters creates one router per plugin that declares routes. Routes
// of a plugin whose library did not load still resolve and answer with a
// missing-library error.
func (h *Host) buildRouters(infos []*plugin.Info) map[string]*router.Router {
	routers := make(map[string]*router.Router, len(infos))
	for _, info := range infos {
		if len(info.Routes) == 0 {
			continue
		}
		rt := router.New(info.ID, h.handler)
		for _, r := range info.Routes {
			rt.Handle(r.Method, r.Path, r.Handler)
		}
		routers[info.ID] = rt
		h.logger.Debug("plugin routes registered", "plugin", info.ID, "routes", len(info.Routes))
	}
	return routers
}

// Registry returns the router registry served by the HTTP frontend.
func (h *Host) Registry() *router.Registry {
	return h.registry
}

// Catalog returns the plugins found by the latest scan.
func (h *Host) Catalog() *plugin.Catalog {
	return h.catalog
}

// LastScan returns the result of the latest scan, or nil before Start.
func (h *Host) LastScan() *plugin.ScanResult {
	h.scanMu.Lock()
	defer h.scanMu.Unlock()
	return h.lastScan
}

// PluginsDir returns the scanned directory.
func (h *Host) PluginsDir() string {
	return h.cfg.PluginsDir
}

// Uptime returns the time since the host was created.
func (h *Host) Uptime() time.Duration {
	return time.Since(h.started)
}

// Close unloads every plugin library once in-flight calls have finished.
func (h *Host) Close() error {
	h.registry.Replace(nil)
	return h.loader.Close()
}
