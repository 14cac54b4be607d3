// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plughost Contributors

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/plughost/plughost/internal/api"
	"github.com/plughost/plughost/internal/config"
	"github.com/plughost/plughost/internal/host"
	"github.com/plughost/plughost/internal/logging"
	"github.com/plughost/plughost/internal/observability"
	"github.com/plughost/plughost/internal/xdg"
	"github.com/plughost/plughost/pkg/errutil"
)

const shutdownTimeout = 5 * time.Second

// ObservabilityServer is the metrics/health server run next to the API.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// Loader opens plugin libraries.
	// Default: native.NewLoader
	Loader host.Loader

	// ObservabilityServerFactory creates the metrics server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, reg *prometheus.Registry, ready observability.ReadinessChecker) ObservabilityServer

	// OnReady is called with the API address once every server is up.
	OnReady func(addr string)
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Discover plugins and serve them over HTTP",
		Long: `Scan the plugins directory, load every plugin backend and serve
plugin routes, plugin UI assets and the management API until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(config.Options{File: configFile, Flags: cmd.Flags()})
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return runServe(cmd.Context(), cmd, cfg, nil)
		},
	}

	config.RegisterFlags(cmd.Flags())

	return cmd
}

// runServe starts the host with injectable dependencies and blocks until
// ctx is cancelled, a signal arrives or a server fails.
func runServe(ctx context.Context, cmd *cobra.Command, cfg *config.Config, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, reg *prometheus.Registry, ready observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, reg, ready)
		}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if err := logging.SetDefault(logging.Options{
		Service: "plughost",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
		Writer:  cmd.ErrOrStderr(),
	}); err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	logger := slog.Default()

	if err := xdg.EnsureDir(cfg.Plugins.Dir); err != nil {
		return err
	}

	reg := observability.NewRegistry()
	metrics := observability.NewMetrics(reg)

	hostOpts := []host.Option{host.WithMetrics(metrics), host.WithLogger(logger)}
	if deps.Loader != nil {
		hostOpts = append(hostOpts, host.WithLoader(deps.Loader))
	}
	h, err := host.New(host.Config{
		PluginsDir:   cfg.Plugins.Dir,
		Ignore:       cfg.Plugins.Ignore,
		CallTimeout:  cfg.Bridge.CallTimeout,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
	}, hostOpts...)
	if err != nil {
		return fmt.Errorf("failed to create plugin host: %w", err)
	}
	defer func() {
		if closeErr := h.Close(); closeErr != nil {
			errutil.LogWarn(logger, "error unloading plugins", closeErr)
		}
	}()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := h.Start(ctx); err != nil {
		return fmt.Errorf("initial plugin scan failed: %w", err)
	}

	srv := api.New(api.Config{Addr: cfg.HTTP.Addr, StaticDir: cfg.HTTP.StaticDir}, h,
		api.WithMetrics(metrics), api.WithLogger(logger))
	apiErrCh, err := srv.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start api server: %w", err)
	}
	go monitorServerErrors(ctx, cancel, apiErrCh, "api")

	var obsServer ObservabilityServer
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, reg, func() error {
			if h.LastScan() == nil {
				return errors.New("initial plugin scan pending")
			}
			return nil
		})
		obsErrCh, err := obsServer.Start()
		if err != nil {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer stopCancel()
			if stopErr := srv.Stop(stopCtx); stopErr != nil {
				slog.Warn("failed to stop api server during cleanup", "error", stopErr)
			}
			return fmt.Errorf("failed to start observability server: %w", err)
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability")
		slog.Info("observability server started", "addr", obsServer.Addr())
	}

	var wg sync.WaitGroup
	if cfg.Plugins.Watch {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.Watch(ctx, host.DefaultWatchDebounce); err != nil {
				errutil.LogError(logger, "plugin watcher stopped", err)
			}
		}()
	}

	cmd.Printf("plughost serving %d plugin(s) on http://%s\n", h.Catalog().Len(), srv.Addr())
	slog.Info("plughost ready",
		"addr", srv.Addr(),
		"plugins_dir", cfg.Plugins.Dir,
		"plugins", h.Catalog().Len(),
		"watch", cfg.Plugins.Watch,
	)
	if deps.OnReady != nil {
		deps.OnReady(srv.Addr())
	}

	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		slog.Warn("error stopping api server", "error", err)
	}
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			slog.Warn("error stopping observability server", "error", err)
		}
	}
	wg.Wait()

	slog.Info("shutdown complete")
	return nil
}

// monitorServerErrors cancels ctx when a server reports an error.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
