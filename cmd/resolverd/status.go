// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	cryptotls "crypto/tls"
	"encoding/json"
	"fmt"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/holomush/resolverd/internal/control"
	tlscerts "github.com/holomush/resolverd/internal/tls"
)

// ProcessStatus holds the status information for a resolverd process.
type ProcessStatus struct {
	Component     string          `json:"component"`
	Running       bool            `json:"running"`
	Health        string          `json:"health,omitempty"`
	PID           int             `json:"pid,omitempty"`
	UptimeSeconds int64           `json:"uptime_seconds,omitempty"`
	Plugins       map[string]bool `json:"plugins,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// statusConfig holds configuration for the status command.
type statusConfig struct {
	jsonOutput bool
	grpc       bool
	timeout    time.Duration
}

// NewStatusCmd creates the status subcommand with all flags configured.
func NewStatusCmd() *cobra.Command {
	sc := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show status of the running resolverd process",
		Long: `Show the health of the running resolverd process and each of its
plugins. By default the local control socket is queried; with --grpc the
gRPC health endpoint at control.addr is checked instead.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), sc.timeout)
			defer cancel()

			var status ProcessStatus
			if sc.grpc {
				status = queryGRPCStatus(ctx, cfg.Control.Addr, cfg.Control.CertsDir)
			} else {
				status = querySocketStatus(ctx, component)
			}
			return printStatus(cmd, sc, status)
		},
	}

	cmd.Flags().BoolVar(&sc.jsonOutput, "json", false, "output status as JSON")
	cmd.Flags().BoolVar(&sc.grpc, "grpc", false, "check the gRPC health endpoint instead of the control socket")
	cmd.Flags().DurationVar(&sc.timeout, "timeout", 5*time.Second, "how long to wait for a response")

	return cmd
}

// querySocketStatus queries the control socket for a process and returns its status.
func querySocketStatus(ctx context.Context, component string) ProcessStatus {
	status := ProcessStatus{Component: component}

	socketPath, err := control.SocketPath(component)
	if err != nil {
		status.Error = fmt.Sprintf("failed to get socket path: %v", err)
		return status
	}

	resp, err := control.NewSocketClient(socketPath).Status(ctx)
	if err != nil {
		status.Error = "not running"
		if oopsErr, ok := oops.AsOops(err); !ok || oopsErr.Code() != "SOCKET_UNAVAILABLE" {
			status.Error = err.Error()
		}
		return status
	}

	status.Running = resp.Running
	status.PID = resp.PID
	status.UptimeSeconds = resp.UptimeSeconds
	status.Plugins = resp.Plugins
	status.Health = healthLabel(resp.Plugins)
	return status
}

// queryGRPCStatus checks the overall and per-plugin gRPC health status.
func queryGRPCStatus(ctx context.Context, addr, certsDir string) ProcessStatus {
	status := ProcessStatus{Component: component}
	if addr == "" {
		status.Error = "control.addr is not configured"
		return status
	}

	tlsConfig, err := clientTLS(certsDir)
	if err != nil {
		status.Error = err.Error()
		return status
	}

	overall, err := control.Check(ctx, addr, tlsConfig, "")
	if err != nil {
		status.Error = fmt.Sprintf("failed to connect: %v", err)
		return status
	}
	status.Running = true
	status.Health = "healthy"
	if overall != healthpb.HealthCheckResponse_SERVING {
		status.Health = "degraded"
	}
	return status
}

// clientTLS loads the CLI client certificate when certsDir is set.
func clientTLS(certsDir string) (*cryptotls.Config, error) {
	if certsDir == "" {
		return nil, nil
	}
	return tlscerts.ClientConfig(certsDir, cliCertName)
}

// healthLabel summarizes per-plugin health.
func healthLabel(plugins map[string]bool) string {
	for _, ok := range plugins {
		if !ok {
			return "degraded"
		}
	}
	return "healthy"
}

func printStatus(cmd *cobra.Command, sc *statusConfig, status ProcessStatus) error {
	if sc.jsonOutput {
		data, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return oops.With("operation", "marshal status").Wrap(err)
		}
		cmd.Println(string(data))
		return nil
	}
	cmd.Print(formatStatusTable(status))
	return nil
}

// formatStatusTable formats the status as a human-readable table.
func formatStatusTable(status ProcessStatus) string {
	var buf []byte
	w := tabwriter.NewWriter((*byteWriter)(&buf), 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "PROCESS\tSTATUS\tHEALTH\tPID\tUPTIME")
	if status.Running {
		pid := "-"
		if status.PID > 0 {
			pid = fmt.Sprint(status.PID)
		}
		_, _ = fmt.Fprintf(w, "%s\trunning\t%s\t%s\t%s\n",
			status.Component, status.Health, pid, formatUptime(status.UptimeSeconds))
	} else {
		reason := "not running"
		if status.Error != "" {
			reason = status.Error
		}
		_, _ = fmt.Fprintf(w, "%s\tstopped\t-\t-\t%s\n", status.Component, reason)
	}

	if len(status.Plugins) > 0 {
		_, _ = fmt.Fprintln(w)
		_, _ = fmt.Fprintln(w, "PLUGIN\tHEALTH")
		names := make([]string, 0, len(status.Plugins))
		for name := range status.Plugins {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			health := "healthy"
			if !status.Plugins[name] {
				health = "unhealthy"
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\n", name, health)
		}
	}

	_ = w.Flush()
	return string(buf)
}

// formatUptime formats seconds into a human-readable duration.
func formatUptime(seconds int64) string {
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	if seconds < 3600 {
		return fmt.Sprintf("%dm %ds", seconds/60, seconds%60)
	}
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	return fmt.Sprintf("%dh %dm", hours, minutes)
}

// byteWriter is a simple writer that appends to a byte slice.
type byteWriter []byte

func (w *byteWriter) Write(p []byte) (int, error) {
	*w = append(*w, p...)
	return len(p), nil
}
