// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/resolverd/internal/config"
	"github.com/holomush/resolverd/internal/logging"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the resolverd CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolverd",
		Short: "resolverd - scripted music resolver host",
		Long: `resolverd hosts JavaScript and Lua resolver scripts, feeding their
results into a query pipeline and exposing their health.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/resolverd/config.yaml)")
	config.BindFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewQueryCmd())
	cmd.AddCommand(NewValidateCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewStatusCmd())
	cmd.AddCommand(NewReloadCmd())
	cmd.AddCommand(NewCertsCmd())

	return cmd
}

// loadConfig resolves, validates and applies the configuration for cmd.
// It installs the default logger as a side effect.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, oops.With("operation", "validate configuration").Wrap(err)
	}
	if err := logging.SetDefault("resolverd", version, cfg.Log.Format, cfg.Log.Level); err != nil {
		return nil, oops.With("operation", "set up logging").Wrap(err)
	}
	return cfg, nil
}
