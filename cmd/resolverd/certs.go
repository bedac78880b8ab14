// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	tlscerts "github.com/holomush/resolverd/internal/tls"
	"github.com/holomush/resolverd/internal/xdg"
)

// cliCertName is the client certificate the CLI presents to the control endpoint.
const cliCertName = "cli"

// NewCertsCmd creates the certs subcommand.
func NewCertsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "certs",
		Short: "Manage mTLS certificates for the control endpoint",
	}

	var instance string
	var force bool
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Generate a CA, a server certificate and a CLI client certificate",
		Long: `Generate a new root CA with a resolverd server certificate and a cli
client certificate in the certs directory (control.certs_dir, or
XDG_CONFIG_HOME/resolverd/certs when unset).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := certsDir(cmd)
			if err != nil {
				return err
			}
			return runCertsGenerate(cmd, dir, instance, force)
		},
	}
	generate.Flags().StringVar(&instance, "instance", "", "instance identifier embedded in the CA (default: random UUID)")
	generate.Flags().BoolVar(&force, "force", false, "overwrite an existing CA")

	var client bool
	issue := &cobra.Command{
		Use:   "issue NAME",
		Short: "Issue another certificate signed by the existing CA",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := certsDir(cmd)
			if err != nil {
				return err
			}
			role := tlscerts.RoleServer
			if client {
				role = tlscerts.RoleClient
			}
			return runCertsIssue(cmd, dir, args[0], role)
		},
	}
	issue.Flags().BoolVar(&client, "client", false, "issue a client certificate instead of a server certificate")

	cmd.AddCommand(generate, issue)
	return cmd
}

func certsDir(cmd *cobra.Command) (string, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return "", err
	}
	if cfg.Control.CertsDir != "" {
		return cfg.Control.CertsDir, nil
	}
	return xdg.CertsDir()
}

func runCertsGenerate(cmd *cobra.Command, dir, instance string, force bool) error {
	if _, err := os.Stat(filepath.Join(dir, "root-ca.crt")); err == nil && !force {
		return oops.Code("CERTS_EXIST").With("dir", dir).
			Errorf("a CA already exists in %s; use --force to replace it", dir)
	}
	if instance == "" {
		instance = uuid.NewString()
	}
	if err := xdg.EnsureDir(dir); err != nil {
		return err
	}

	ca, err := tlscerts.GenerateCA(instance)
	if err != nil {
		return oops.With("operation", "generate CA").Wrap(err)
	}
	server, err := tlscerts.GenerateCert(ca, tlscerts.ServerName, tlscerts.RoleServer)
	if err != nil {
		return oops.With("operation", "generate server certificate").Wrap(err)
	}
	client, err := tlscerts.GenerateCert(ca, cliCertName, tlscerts.RoleClient)
	if err != nil {
		return oops.With("operation", "generate client certificate").Wrap(err)
	}
	if err := tlscerts.Save(dir, ca, server, client); err != nil {
		return oops.With("operation", "save certificates").Wrap(err)
	}

	cmd.Printf("Generated CA %q with %s and %s certificates in %s\n", instance, tlscerts.ServerName, cliCertName, dir)
	return nil
}

func runCertsIssue(cmd *cobra.Command, dir, name string, role tlscerts.Role) error {
	ca, err := tlscerts.LoadCA(dir)
	if err != nil {
		return oops.With("operation", "load CA").Wrap(err)
	}
	cert, err := tlscerts.GenerateCert(ca, name, role)
	if err != nil {
		return oops.With("operation", "generate certificate").Wrap(err)
	}
	if err := tlscerts.Save(dir, ca, cert); err != nil {
		return oops.With("operation", "save certificate").Wrap(err)
	}
	cmd.Printf("Issued %s in %s\n", name, dir)
	return nil
}
