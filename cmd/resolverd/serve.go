// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	cryptotls "crypto/tls"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/resolverd/internal/config"
	"github.com/holomush/resolverd/internal/control"
	"github.com/holomush/resolverd/internal/fetch"
	"github.com/holomush/resolverd/internal/observability"
	"github.com/holomush/resolverd/internal/pipeline"
	"github.com/holomush/resolverd/internal/plugin"
	"github.com/holomush/resolverd/internal/resolver"
	"github.com/holomush/resolverd/internal/status"
	"github.com/holomush/resolverd/internal/store"
	tlscerts "github.com/holomush/resolverd/internal/tls"
)

const (
	component          = "resolverd"
	healthSyncInterval = time.Second
	shutdownTimeout    = 10 * time.Second
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Load and run every resolver plugin",
		Long: `Discover resolver scripts in the plugins directory, load and start
them, and serve health and metrics until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}
}

func defaultServeDeps(deps *ServeDeps) *ServeDeps {
	if deps == nil {
		deps = &ServeDeps{}
	}
	if deps.ConfigStoreFactory == nil {
		deps.ConfigStoreFactory = openConfigStore
	}
	if deps.ControlTLSLoader == nil {
		deps.ControlTLSLoader = tlscerts.ServerConfig
	}
	if deps.ControlServerFactory == nil {
		deps.ControlServerFactory = func(component string) (ControlServer, error) {
			return control.NewGRPCServer(component)
		}
	}
	if deps.SocketServerFactory == nil {
		deps.SocketServerFactory = func(component string, plugins control.Plugins, shutdown control.ShutdownFunc) SocketServer {
			return control.NewServer(component, plugins, shutdown)
		}
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker, extra ...prometheus.Collector) ObservabilityServer {
			return observability.NewServer(addr, ready, extra...)
		}
	}
	return deps
}

// openConfigStore returns the PostgreSQL store when url is set, otherwise
// an in-memory store.
func openConfigStore(ctx context.Context, url string) (resolver.ConfigStore, func(), error) {
	if url == "" {
		slog.Info("using in-memory plugin configuration store")
		return store.NewMemoryConfigStore(), func() {}, nil
	}
	pool, err := store.Open(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("connected to plugin configuration database")
	return store.NewPostgresConfigStore(pool), pool.Close, nil
}

// host is the set of collaborators shared by every plugin.
type host struct {
	manager  *plugin.Manager
	pipeline *pipeline.Pipeline
	feed     *status.Feed
	fetcher  *fetch.Fetcher
}

func newHost(cfg *config.Config, configStore resolver.ConfigStore, opts ...plugin.ManagerOption) (*host, error) {
	logger := slog.Default()
	h := &host{
		pipeline: pipeline.New(logger),
		feed:     status.New(status.DefaultCapacity, logger),
		fetcher: fetch.New(fetch.Config{
			Timeout:   cfg.Fetch.Timeout,
			Retries:   uint64(cfg.Fetch.Retries), //nolint:gosec // validated non-negative
			UserAgent: "resolverd/" + version,
		}, nil, logger),
	}

	opts = append([]plugin.ManagerOption{
		plugin.WithLogger(logger),
		plugin.WithPatterns(cfg.Plugins.Patterns...),
		plugin.WithPluginOptions(
			resolver.WithPipeline(h.pipeline),
			resolver.WithNotifier(h.pipeline),
			resolver.WithStatusFeed(h.feed),
			resolver.WithFetcher(h.fetcher),
			resolver.WithConfigStore(configStore),
		),
	}, opts...)
	m, err := plugin.NewManager(cfg.Plugins.Dir, opts...)
	if err != nil {
		return nil, err
	}
	h.manager = m
	return h, nil
}

// load discovers, loads and starts every plugin and waits for them to settle.
func (h *host) load(ctx context.Context) error {
	if err := h.manager.LoadAll(ctx); err != nil {
		return err
	}
	h.manager.StartAll(ctx)
	return h.manager.Flush(ctx)
}

func (h *host) close(ctx context.Context) error {
	err := h.manager.Close(ctx)
	h.fetcher.Wait()
	h.pipeline.Wait()
	return err
}

// runServeWithDeps runs the plugin host with injectable dependencies.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	deps = defaultServeDeps(deps)

	slog.Info("starting resolverd",
		"version", version,
		"plugins_dir", cfg.Plugins.Dir,
		"watch", cfg.Plugins.Watch,
		"log_format", cfg.Log.Format,
	)

	configStore, closeStore, err := deps.ConfigStoreFactory(ctx, cfg.Database.URL)
	if err != nil {
		return oops.With("operation", "open config store").Wrap(err)
	}
	defer closeStore()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The manager is created after the observability server so reloads
	// can be recorded; the server only consults it once started.
	var manager *plugin.Manager
	var obsServer ObservabilityServer
	var managerOpts []plugin.ManagerOption
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr,
			func() bool { return manager.Ready() },
			observability.NewPluginCollector(func() map[string]bool { return manager.Health() }),
		)
		managerOpts = append(managerOpts, plugin.WithReloadHook(obsServer.RecordReload))
	}

	h, err := newHost(cfg, configStore, managerOpts...)
	if err != nil {
		return oops.With("operation", "create plugin manager").Wrap(err)
	}
	manager = h.manager
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := h.close(shutdownCtx); err != nil {
			slog.Warn("error closing plugins", "error", err)
		}
	}()

	if err := h.load(ctx); err != nil {
		return oops.With("operation", "load plugins").Wrap(err)
	}
	slog.Info("plugins loaded", "plugins", manager.ListPlugins(), "ready", manager.Ready())

	if cfg.Plugins.Watch {
		if err := manager.Watch(ctx, cfg.Plugins.WatchInterval); err != nil {
			return oops.With("operation", "watch plugins").Wrap(err)
		}
	}

	stops, err := startServers(ctx, cancel, cfg, deps, manager, obsServer)
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		for i := len(stops) - 1; i >= 0; i-- {
			stops[i](shutdownCtx)
		}
	}()
	if err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("resolverd started")
	slog.Info("resolverd ready", "plugins", len(manager.Plugins()))

	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	}

	slog.Info("shutting down...")
	return nil
}

// startServers starts the configured control and observability servers.
// The returned stop funcs are valid even when err is non-nil.
func startServers(
	ctx context.Context,
	cancel context.CancelFunc,
	cfg *config.Config,
	deps *ServeDeps,
	manager *plugin.Manager,
	obs ObservabilityServer,
) ([]func(context.Context), error) {
	var stops []func(context.Context)

	if cfg.Control.Addr != "" {
		var tlsConfig *cryptotls.Config
		if cfg.Control.CertsDir != "" {
			var err error
			if tlsConfig, err = deps.ControlTLSLoader(cfg.Control.CertsDir, tlscerts.ServerName); err != nil {
				return stops, oops.With("operation", "load control TLS config").Wrap(err)
			}
		}
		ctrl, err := deps.ControlServerFactory(component)
		if err != nil {
			return stops, oops.With("operation", "create control server").Wrap(err)
		}
		errCh, err := ctrl.Start(cfg.Control.Addr, tlsConfig)
		if err != nil {
			return stops, oops.With("operation", "start control server").Wrap(err)
		}
		stops = append(stops, func(ctx context.Context) {
			if err := ctrl.Stop(ctx); err != nil {
				slog.Warn("error stopping control gRPC server", "error", err)
			}
		})
		go monitorServerErrors(ctx, cancel, errCh, "control-grpc")
		go ctrl.Watch(ctx, healthSyncInterval, manager.Health)
		slog.Info("control gRPC server started", "addr", cfg.Control.Addr, "tls", tlsConfig != nil)
	}

	if cfg.Control.Socket {
		sock := deps.SocketServerFactory(component, manager, control.ShutdownFunc(cancel))
		if err := sock.Start(); err != nil {
			return stops, oops.With("operation", "start control socket").Wrap(err)
		}
		stops = append(stops, func(ctx context.Context) {
			if err := sock.Stop(ctx); err != nil {
				slog.Warn("error stopping control socket", "error", err)
			}
		})
	}

	if obs != nil {
		errCh, err := obs.Start()
		if err != nil {
			return stops, oops.With("operation", "start observability server").Wrap(err)
		}
		stops = append(stops, func(ctx context.Context) {
			if err := obs.Stop(ctx); err != nil {
				slog.Warn("error stopping observability server", "error", err)
			}
		})
		go monitorServerErrors(ctx, cancel, errCh, "observability")
		slog.Info("observability server started", "addr", obs.Addr())
	}

	return stops, nil
}

// monitorServerErrors monitors a server's error channel and cancels the context on error.
// It exits when either an error is received, the channel is closed, or the context is cancelled.
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
