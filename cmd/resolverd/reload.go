// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/holomush/resolverd/internal/control"
)

// NewReloadCmd creates the reload subcommand.
func NewReloadCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "reload NAME",
		Short: "Reload a plugin in the running resolverd process",
		Long: `Ask the running resolverd process to re-read the named plugin's scripts
from disk through its control socket.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			socketPath, err := control.SocketPath(component)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return runReload(ctx, cmd, control.NewSocketClient(socketPath), args[0])
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "how long to wait for a response")
	return cmd
}

// reloader is the part of control.SocketClient reload needs.
type reloader interface {
	Reload(ctx context.Context, name string) error
}

func runReload(ctx context.Context, cmd *cobra.Command, client reloader, name string) error {
	if err := client.Reload(ctx, name); err != nil {
		return err
	}
	cmd.Printf("Reload of %s scheduled\n", name)
	return nil
}
