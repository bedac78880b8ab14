// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package control provides process management interfaces: a gRPC health
// endpoint reporting per-plugin status and an HTTP control socket.
package control

import (
	"context"
	cryptotls "crypto/tls"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/samber/oops"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServicePrefix prefixes the health service name of each plugin.
const ServicePrefix = "resolver."

// HealthSource reports, per plugin name, whether the plugin is healthy.
type HealthSource func() map[string]bool

// ServiceName returns the health service name for a plugin.
func ServiceName(plugin string) string {
	return ServicePrefix + plugin
}

// GRPCServer serves the standard gRPC health protocol. The overall service
// ("") and the component service are SERVING only while every plugin is healthy.
type GRPCServer struct {
	component string
	health    *health.Server

	mu         sync.Mutex
	listener   net.Listener
	grpcServer *grpc.Server
	known      map[string]struct{}
}

// NewGRPCServer creates a new health server.
// component names the process (e.g., "resolverd").
// Returns an error if component is empty.
func NewGRPCServer(component string) (*GRPCServer, error) {
	if component == "" {
		return nil, oops.In("control").Code("INVALID_COMPONENT").Errorf("component name cannot be empty")
	}
	s := &GRPCServer{
		component: component,
		health:    health.NewServer(),
		known:     make(map[string]struct{}),
	}
	s.health.SetServingStatus(component, healthpb.HealthCheckResponse_NOT_SERVING)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return s, nil
}

// Start begins listening on addr. A nil tlsConfig serves plaintext.
// The returned channel receives exactly one value when the server stops:
// the Serve error, or nil after a graceful stop.
func (s *GRPCServer) Start(addr string, tlsConfig *cryptotls.Config) (<-chan error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil, oops.In("control").Code("ALREADY_RUNNING").Errorf("server is already running")
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, oops.In("control").Code("LISTEN_FAILED").With("addr", addr).Wrap(err)
	}

	creds := insecure.NewCredentials()
	if tlsConfig != nil {
		creds = credentials.NewTLS(tlsConfig)
	}
	srv := grpc.NewServer(grpc.Creds(creds))
	healthpb.RegisterHealthServer(srv, s.health)
	s.listener = listener
	s.grpcServer = srv

	errCh := make(chan error, 1)
	go func() {
		err := srv.Serve(listener)
		if err != nil {
			slog.Error("control gRPC server error",
				"component", s.component,
				"error", err,
			)
		}
		errCh <- err
	}()

	slog.Info("control gRPC server listening",
		"component", s.component,
		"addr", listener.Addr().String(),
		"tls", tlsConfig != nil)
	return errCh, nil
}

// Addr returns the listening address, or nil before Start.
func (s *GRPCServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop marks every service NOT_SERVING and gracefully stops the server.
// If ctx expires first, in-flight streams are cut off.
func (s *GRPCServer) Stop(ctx context.Context) error {
	s.health.Shutdown()

	s.mu.Lock()
	srv := s.grpcServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		srv.Stop()
		<-done
		return oops.In("control").With("component", s.component).Wrapf(ctx.Err(), "graceful stop")
	}
}

// Sync publishes plugin statuses. Plugins missing from statuses since the
// previous call are reported NOT_SERVING.
func (s *GRPCServer) Sync(statuses map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := true
	seen := make(map[string]struct{}, len(statuses))
	for name, ok := range statuses {
		seen[name] = struct{}{}
		s.health.SetServingStatus(ServiceName(name), servingStatus(ok))
		all = all && ok
	}
	for name := range s.known {
		if _, ok := seen[name]; !ok {
			s.health.SetServingStatus(ServiceName(name), healthpb.HealthCheckResponse_NOT_SERVING)
		}
	}
	s.known = seen

	s.health.SetServingStatus("", servingStatus(all))
	s.health.SetServingStatus(s.component, servingStatus(all))
}

// Watch calls Sync with src every interval until ctx is done.
func (s *GRPCServer) Watch(ctx context.Context, interval time.Duration, src HealthSource) {
	s.Sync(src())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sync(src())
		}
	}
}

func servingStatus(ok bool) healthpb.HealthCheckResponse_ServingStatus {
	if ok {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// Check queries the health of service on the server at addr. A nil
// tlsConfig dials plaintext.
func Check(ctx context.Context, addr string, tlsConfig *cryptotls.Config, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	creds := insecure.NewCredentials()
	if tlsConfig != nil {
		creds = credentials.NewTLS(tlsConfig)
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(creds))
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, oops.In("control").With("addr", addr).Wrapf(err, "create client")
	}
	defer func() { _ = conn.Close() }()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, oops.In("control").With("addr", addr).With("service", service).Wrapf(err, "health check")
	}
	return resp.GetStatus(), nil
}
