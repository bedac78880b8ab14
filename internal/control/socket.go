// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/resolverd/internal/xdg"
)

// HealthResponse is returned by the /health endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// StatusResponse is returned by the /status endpoint.
type StatusResponse struct {
	Running       bool            `json:"running"`
	PID           int             `json:"pid"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Component     string          `json:"component,omitempty"`
	Plugins       map[string]bool `json:"plugins,omitempty"`
}

// MessageResponse is returned by the action endpoints.
type MessageResponse struct {
	Message string `json:"message"`
}

// ShutdownFunc is called when shutdown is requested.
type ShutdownFunc func()

// Plugins is the view of the plugin manager the socket exposes.
type Plugins interface {
	Health() map[string]bool
	Reload(ctx context.Context, name string) error
}

// Server runs HTTP over a Unix socket for process management.
type Server struct {
	component    string
	plugins      Plugins
	startTime    time.Time
	listener     net.Listener
	httpServer   *http.Server
	socketPath   string
	shutdownFunc ShutdownFunc
	running      atomic.Bool
}

// NewServer creates a new control socket server. plugins may be nil.
func NewServer(component string, plugins Plugins, shutdownFunc ShutdownFunc) *Server {
	s := &Server{
		component:    component,
		plugins:      plugins,
		startTime:    time.Now(),
		shutdownFunc: shutdownFunc,
	}
	s.running.Store(true)
	return s
}

// SocketPath returns the path to the Unix socket.
func SocketPath(component string) (string, error) {
	runtimeDir, err := xdg.RuntimeDir()
	if err != nil {
		return "", oops.In("control").Wrapf(err, "get runtime directory")
	}
	return filepath.Join(runtimeDir, fmt.Sprintf("resolverd-%s.sock", component)), nil
}

// Start begins listening on the Unix socket.
func (s *Server) Start() error {
	socketPath, err := SocketPath(s.component)
	if err != nil {
		return err
	}
	s.socketPath = socketPath

	if err := xdg.EnsureDir(filepath.Dir(socketPath)); err != nil {
		return err
	}
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return oops.In("control").With("path", socketPath).Wrapf(err, "remove stale socket")
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return oops.In("control").Code("LISTEN_FAILED").With("path", socketPath).Wrap(err)
	}
	s.listener = listener

	if err := os.Chmod(socketPath, 0o600); err != nil {
		_ = listener.Close()
		return oops.In("control").With("path", socketPath).Wrapf(err, "set socket permissions")
	}

	s.httpServer = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("control socket server error",
				"component", s.component,
				"error", err,
			)
		}
	}()

	return nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /plugins/{name}/reload", s.handleReload)
	mux.HandleFunc("POST /shutdown", s.handleShutdown)
	return mux
}

// Stop gracefully shuts down the control socket server.
func (s *Server) Stop(ctx context.Context) error {
	s.running.Store(false)

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return oops.In("control").With("component", s.component).Wrapf(err, "shutdown http server")
		}
	}

	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			slog.Warn("failed to close control socket listener",
				"component", s.component,
				"error", err,
			)
		}
	}

	if s.socketPath != "" {
		if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove control socket file",
				"component", s.component,
				"path", s.socketPath,
				"error", err,
			)
		}
	}

	return nil
}

func (s *Server) pluginHealth() map[string]bool {
	if s.plugins == nil {
		return nil
	}
	return s.plugins.Health()
}

// handleHealth reports "healthy" when every plugin is, "degraded" otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK
	for _, ok := range s.pluginHealth() {
		if !ok {
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
			break
		}
	}
	s.write(w, code, resp, "health")
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		Running:       s.running.Load(),
		PID:           os.Getpid(),
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Component:     s.component,
		Plugins:       s.pluginHealth(),
	}
	s.write(w, http.StatusOK, resp, "status")
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if s.plugins == nil {
		s.write(w, http.StatusNotFound, MessageResponse{Message: "no plugins"}, "reload")
		return
	}
	if err := s.plugins.Reload(r.Context(), name); err != nil {
		code := http.StatusInternalServerError
		if oopsErr, ok := oops.AsOops(err); ok && oopsErr.Code() == "PLUGIN_NOT_FOUND" {
			code = http.StatusNotFound
		}
		s.write(w, code, MessageResponse{Message: err.Error()}, "reload")
		return
	}
	slog.Info("plugin reload requested via control socket", "component", s.component, "plugin", name)
	s.write(w, http.StatusAccepted, MessageResponse{Message: "reload scheduled"}, "reload")
}

func (s *Server) handleShutdown(w http.ResponseWriter, _ *http.Request) {
	s.write(w, http.StatusOK, MessageResponse{Message: "shutdown initiated"}, "shutdown")

	if s.shutdownFunc != nil {
		go s.shutdownFunc()
	}
}

func (s *Server) write(w http.ResponseWriter, statusCode int, v any, endpoint string) {
	if err := writeJSON(w, statusCode, v); err != nil {
		slog.Error("failed to write "+endpoint+" response",
			"component", s.component,
			"error", err,
		)
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return oops.In("control").Wrapf(err, "encode JSON response")
	}
	return nil
}
