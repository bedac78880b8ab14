// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	cryptotls "crypto/tls"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/holomush/resolverd/internal/control"
	"github.com/holomush/resolverd/internal/observability"
	"github.com/holomush/resolverd/internal/resolver"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// ConfigStoreFactory opens the plugin configuration store. The returned
	// func releases it. An empty url selects the in-memory store.
	// Default: openConfigStore
	ConfigStoreFactory func(ctx context.Context, url string) (resolver.ConfigStore, func(), error)

	// ControlTLSLoader loads TLS config for the gRPC health endpoint.
	// Default: tls.ServerConfig
	ControlTLSLoader func(certsDir, name string) (*cryptotls.Config, error)

	// ControlServerFactory creates the gRPC health server.
	// Default: control.NewGRPCServer
	ControlServerFactory func(component string) (ControlServer, error)

	// SocketServerFactory creates the control socket server.
	// Default: control.NewServer
	SocketServerFactory func(component string, plugins control.Plugins, shutdown control.ShutdownFunc) SocketServer

	// ObservabilityServerFactory creates the metrics/health HTTP server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, ready observability.ReadinessChecker, extra ...prometheus.Collector) ObservabilityServer
}

// ControlServer interface wraps the methods used from control.GRPCServer.
type ControlServer interface {
	Start(addr string, tlsConfig *cryptotls.Config) (<-chan error, error)
	Stop(ctx context.Context) error
	Watch(ctx context.Context, interval time.Duration, src control.HealthSource)
}

// SocketServer interface wraps the methods used from control.Server.
type SocketServer interface {
	Start() error
	Stop(ctx context.Context) error
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	RecordReload(plugin, trigger string)
}
