// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/resolverd/internal/plugin"
)

// NewValidateCmd creates the validate subcommand.
func NewValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [PATH...]",
		Short: "Validate plugin manifests without loading any scripts",
		Long: `Validates plugin.yaml manifests against the manifest schema and checks
that the entry and dependency scripts exist. Each PATH is a plugin directory
or a manifest file; with no PATH every plugin directory under the plugins
directory is checked. Exits non-zero if any manifest is invalid.

Useful in CI pipelines to catch manifest errors early:
  resolverd validate plugins/spotify`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				if args, err = manifestDirs(cfg.Plugins.Dir); err != nil {
					return err
				}
			}
			return runValidate(cmd, args)
		},
	}
}

func runValidate(cmd *cobra.Command, paths []string) error {
	var failed int
	for _, path := range paths {
		if err := validateManifest(path); err != nil {
			failed++
			cmd.Printf("FAIL %s\n  %s\n", path, plugin.FormatSchemaError(err))
			continue
		}
		cmd.Printf("ok   %s\n", path)
	}

	if failed > 0 {
		return oops.Code("VALIDATION_FAILED").
			With("failed", failed).
			Errorf("validation failed: %d of %d manifests invalid", failed, len(paths))
	}
	return nil
}

// validateManifest checks one plugin directory or manifest file.
func validateManifest(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return oops.With("path", path).Wrap(err)
	}
	dir, file := filepath.Dir(path), path
	if info.IsDir() {
		dir, file = path, filepath.Join(path, plugin.ManifestFile)
	}

	data, err := os.ReadFile(file) //nolint:gosec // path supplied by the operator
	if err != nil {
		return oops.With("path", file).Wrap(err)
	}
	if err := plugin.ValidateSchema(data); err != nil {
		return err
	}
	m, err := plugin.ParseManifest(data)
	if err != nil {
		return err
	}

	for _, script := range append([]string{m.EntryPath(dir)}, m.ScriptPaths(dir)...) {
		if _, err := os.Stat(script); err != nil {
			return oops.Code("SCRIPT_NOT_FOUND").With("script", script).Errorf("script %s not found", script)
		}
	}
	return nil
}

// manifestDirs lists the subdirectories of dir that contain a manifest.
func manifestDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, oops.With("dir", dir).Wrapf(err, "read plugins directory")
	}
	var dirs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if _, err := os.Stat(filepath.Join(p, plugin.ManifestFile)); err == nil {
			dirs = append(dirs, p)
		}
	}
	return dirs, nil
}
