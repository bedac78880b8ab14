// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/resolverd/internal/config"
	"github.com/holomush/resolverd/internal/store"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the plugin configuration database schema",
		Long: `Run database migrations against the PostgreSQL database that stores
plugin configuration. Without a subcommand, all pending migrations are applied.`,
		RunE: runMigrateUp,
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(m *store.Migrator) error {
				if steps > 0 {
					cmd.Printf("Rolling back %d migration(s)...\n", steps)
					return m.Steps(-steps)
				}
				cmd.Println("Rolling back all migrations...")
				return m.Down()
			})
		},
	}
	down.Flags().IntVar(&steps, "steps", 0, "number of migrations to roll back (0 for all)")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE:  runMigrateUp,
		},
		down,
		&cobra.Command{
			Use:   "status",
			Short: "Show applied and pending migrations",
			RunE:  runMigrateStatus,
		},
		&cobra.Command{
			Use:   "force VERSION",
			Short: "Set the schema version without running migrations",
			Long: `Set the recorded schema version and clear the dirty flag. Use this to
recover after a failed migration has been fixed by hand.`,
			Args: cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				version, err := parseForceVersion(args[0])
				if err != nil {
					return err
				}
				return withMigrator(cmd, func(m *store.Migrator) error {
					cmd.Printf("Forcing schema version to %d...\n", version)
					return m.Force(version)
				})
			},
		},
	)
	return cmd
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	return withMigrator(cmd, func(m *store.Migrator) error {
		cmd.Println("Running migrations...")
		if err := m.Up(); err != nil {
			return err
		}
		cmd.Println("Migrations completed successfully")
		return nil
	})
}

func runMigrateStatus(cmd *cobra.Command, _ []string) error {
	return withMigrator(cmd, func(m *store.Migrator) error {
		version, dirty, err := m.Version()
		if err != nil {
			return err
		}
		applied, err := m.AppliedMigrations()
		if err != nil {
			return err
		}
		pending, err := m.PendingMigrations()
		if err != nil {
			return err
		}

		cmd.Printf("Current version: %d", version)
		if dirty {
			cmd.Print(" (dirty)")
		}
		cmd.Println()
		printMigrations(cmd, "Applied", applied)
		printMigrations(cmd, "Pending", pending)
		return nil
	})
}

func printMigrations(cmd *cobra.Command, label string, versions []uint) {
	cmd.Printf("%s: %d\n", label, len(versions))
	for _, v := range versions {
		name, err := store.MigrationName(v)
		if err != nil || name == "" {
			name = fmt.Sprintf("%06d", v)
		}
		cmd.Printf("  %s\n", name)
	}
}

// withMigrator opens a migrator for the configured database and runs fn.
func withMigrator(cmd *cobra.Command, fn func(*store.Migrator) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	databaseURL, err := databaseURL(cfg)
	if err != nil {
		return err
	}

	m, err := store.NewMigrator(databaseURL)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if err := m.Close(); err != nil {
			cmd.PrintErrf("warning: closing migrator: %v\n", err)
		}
	}()

	if err := fn(m); err != nil {
		return oops.Code("MIGRATION_FAILED").Wrap(err)
	}
	return nil
}

// databaseURL returns the configured database URL or an error when unset.
func databaseURL(cfg *config.Config) (string, error) {
	if cfg.Database.URL == "" {
		return "", oops.Code("CONFIG_INVALID").
			Errorf("a database URL is required: set DATABASE_URL, database.url or --database-url")
	}
	return cfg.Database.URL, nil
}

// parseForceVersion parses a migration version. Leading whitespace is
// skipped and parsing stops at the first non-digit.
func parseForceVersion(s string) (int, error) {
	if strings.TrimSpace(s) == "" {
		return 0, oops.Code("INVALID_VERSION").Errorf("version is required")
	}
	var version int
	if _, err := fmt.Sscanf(s, "%d", &version); err != nil {
		return 0, oops.Code("INVALID_VERSION").With("input", s).Wrapf(err, "invalid version")
	}
	return version, nil
}
