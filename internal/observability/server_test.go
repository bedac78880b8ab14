package observability

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/holomush/resolverd/internal/resolver"
)

// startServer starts s and stops it when the test ends.
func startServer(t *testing.T, s *Server) <-chan error {
	t.Helper()
	errCh, err := s.Start()
	if err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return errCh
}

func get(t *testing.T, s *Server, path string) (int, string) {
	t.Helper()
	resp, err := http.Get("http://" + s.Addr() + path)
	if err != nil {
		t.Fatalf("failed to GET %s: %v", path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read %s body: %v", path, err)
	}
	return resp.StatusCode, string(body)
}

func TestServer_MetricsExposition(t *testing.T) {
	server := NewServer("127.0.0.1:0", func() bool { return true })
	startServer(t, server)

	if server.Addr() == "" {
		t.Fatal("server address is empty")
	}

	// Touch the resolver vectors so they appear in the exposition.
	resolver.ScriptCalls.WithLabelValues("exposition-test", "resolve", resolver.StatusSuccess).Inc()
	resolver.ResultsReported.WithLabelValues("exposition-test").Add(3)

	status, body := get(t, server, "/metrics")
	if status != http.StatusOK {
		t.Errorf("expected status 200, got %d", status)
	}
	for _, want := range []string{
		"# HELP", "# TYPE", "go_", "process_",
		`resolverd_script_calls_total{call="resolve",plugin="exposition-test",status="success"}`,
		`resolverd_results_reported_total{plugin="exposition-test"}`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in metrics output", want)
		}
	}
}

func TestServer_RecordReload(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil)
	startServer(t, server)

	server.RecordReload("spotify", "watch")
	server.RecordReload("youtube", "watch")
	server.RecordReload("files", "manual")

	_, body := get(t, server, "/metrics")
	if !strings.Contains(body, `resolverd_plugin_reloads_total{trigger="watch"} 2`) {
		t.Error("expected watch reload counter to be 2")
	}
	if !strings.Contains(body, `resolverd_plugin_reloads_total{trigger="manual"} 1`) {
		t.Error("expected manual reload counter to be 1")
	}
	if server.Metrics().Reloads == nil {
		t.Error("Metrics().Reloads is nil")
	}
}

func TestServer_Probes(t *testing.T) {
	tests := []struct {
		name       string
		ready      ReadinessChecker
		path       string
		wantStatus int
		wantBody   string
	}{
		{"liveness ignores readiness", func() bool { return false }, "/healthz/liveness", http.StatusOK, "ok"},
		{"ready", func() bool { return true }, "/healthz/readiness", http.StatusOK, "ok"},
		{"plugin failed to load", func() bool { return false }, "/healthz/readiness", http.StatusServiceUnavailable, "not ready"},
		{"nil checker is ready", nil, "/healthz/readiness", http.StatusOK, "ok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := NewServer("127.0.0.1:0", tt.ready)
			startServer(t, server)

			status, body := get(t, server, tt.path)
			if status != tt.wantStatus {
				t.Errorf("status = %d, want %d", status, tt.wantStatus)
			}
			if strings.TrimSpace(body) != tt.wantBody {
				t.Errorf("body = %q, want %q", body, tt.wantBody)
			}
		})
	}
}

func TestServer_PluginCollector(t *testing.T) {
	health := map[string]bool{"files": true, "broken": false}
	server := NewServer("127.0.0.1:0", nil, NewPluginCollector(func() map[string]bool { return health }))
	startServer(t, server)

	_, body := get(t, server, "/metrics")
	for _, want := range []string{
		`resolverd_plugin_healthy{plugin="files"} 1`,
		`resolverd_plugin_healthy{plugin="broken"} 0`,
		`resolverd_plugins_total 2`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in metrics output", want)
		}
	}
}

func TestPluginCollector_FollowsSource(t *testing.T) {
	health := map[string]bool{"a": true}
	c := NewPluginCollector(func() map[string]bool { return health })

	reg := prometheus.NewRegistry()
	reg.MustRegister(c)

	count := func() int {
		families, err := reg.Gather()
		if err != nil {
			t.Fatalf("Gather() error = %v", err)
		}
		for _, f := range families {
			if f.GetName() == "resolverd_plugin_healthy" {
				return len(f.GetMetric())
			}
		}
		return 0
	}

	if got := count(); got != 1 {
		t.Errorf("healthy series = %d, want 1", got)
	}
	health = map[string]bool{"a": true, "b": false, "c": true}
	if got := count(); got != 3 {
		t.Errorf("healthy series after reload = %d, want 3", got)
	}
}

func TestServer_DoubleStartFails(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil)
	startServer(t, server)

	if _, err := server.Start(); err == nil {
		t.Error("expected error on double start, got nil")
	}
}

func TestServer_ListenFailure(t *testing.T) {
	server := NewServer("256.0.0.1:bad", nil)
	if _, err := server.Start(); err == nil {
		t.Fatal("expected listen error")
	}
	// A failed start leaves the server startable.
	if err := server.Stop(context.Background()); err != nil {
		t.Errorf("stop after failed start: %v", err)
	}
}

func TestServer_StopWithoutStart(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		t.Errorf("stop without start should not error: %v", err)
	}
}

func TestServer_ErrorChannelReportsServeErrors(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil)
	errCh := startServer(t, server)

	// Closing the listener underneath Serve simulates a listener failure.
	if server.listener != nil {
		_ = server.listener.Close()
	}

	select {
	case serveErr := <-errCh:
		if serveErr == nil {
			t.Error("expected an error from the error channel after closing listener")
		}
	case <-time.After(2 * time.Second):
		t.Error("timeout waiting for error on error channel")
	}
}

func TestServer_ErrorChannelClosesOnNormalShutdown(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil)

	errCh, err := server.Start()
	if err != nil {
		t.Fatalf("failed to start server: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		t.Fatalf("failed to stop server: %v", err)
	}

	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			t.Errorf("unexpected error on normal shutdown: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("timeout waiting for error channel to close")
	}
}
