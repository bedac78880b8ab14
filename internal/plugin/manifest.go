// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package plugin discovers resolver scripts and manages their lifecycle.
package plugin

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// HostAPIVersion is the script API version this host provides. Manifests
// declare the range they accept in api-version.
const HostAPIVersion = "0.2.0"

// Type identifies the script runtime.
type Type string

// Script runtimes.
const (
	TypeJS  Type = "js"
	TypeLua Type = "lua"
)

// accepts reports whether a script file runs on this runtime.
func (t Type) accepts(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if t == TypeLua {
		return ext == ".lua"
	}
	return ext == ".js" || ext == ".script"
}

// ManifestFile is the manifest name looked for in plugin directories.
const ManifestFile = "plugin.yaml"

// Manifest represents a plugin.yaml file.
type Manifest struct {
	Name        string   `yaml:"name" json:"name" jsonschema:"pattern=^[a-z]([a-z0-9-]*[a-z0-9])?$,maxLength=64"`
	Version     string   `yaml:"version" json:"version"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Type        Type     `yaml:"type" json:"type" jsonschema:"enum=js,enum=lua"`
	Entry       string   `yaml:"entry" json:"entry"`
	Scripts     []string `yaml:"scripts,omitempty" json:"scripts,omitempty"`
	APIVersion  string   `yaml:"api-version,omitempty" json:"api-version,omitempty"`
}

// maxNameLength is the maximum allowed length for plugin names.
const maxNameLength = 64

// namePattern validates plugin names: must start with lowercase letter,
// followed by lowercase letters, digits, or hyphens.
// Cannot end with a hyphen. Single character names are allowed.
var namePattern = regexp.MustCompile(`^[a-z]([a-z0-9-]*[a-z0-9])?$`)

// ParseManifest parses and validates a plugin.yaml file.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, oops.In("manifest").Code("INVALID_MANIFEST").Errorf("manifest data is empty")
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, oops.In("manifest").Code("INVALID_MANIFEST").Wrapf(err, "invalid YAML")
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks manifest constraints.
func (m *Manifest) Validate() error {
	errb := oops.In("manifest").Code("INVALID_MANIFEST").With("plugin", m.Name)

	if m.Name == "" || !namePattern.MatchString(m.Name) {
		return errb.Errorf("name %q must start with a-z, contain only a-z, 0-9, hyphens, and not end with a hyphen", m.Name)
	}
	if len(m.Name) > maxNameLength {
		return errb.Errorf("name must be %d characters or less, got %d", maxNameLength, len(m.Name))
	}

	if m.Version == "" {
		return errb.Errorf("version is required")
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return errb.Wrapf(err, "version %q is not a semantic version", m.Version)
	}

	switch m.Type {
	case TypeJS, TypeLua:
	default:
		return errb.Errorf("type must be 'js' or 'lua', got %q", m.Type)
	}

	if m.Entry == "" {
		return errb.Errorf("entry is required")
	}
	if !m.Type.accepts(m.Entry) {
		return errb.With("entry", m.Entry).Errorf("entry is not a %s script", m.Type)
	}
	for _, p := range append([]string{m.Entry}, m.Scripts...) {
		if filepath.IsAbs(p) || strings.HasPrefix(filepath.Clean(p), "..") {
			return errb.With("path", p).Errorf("script paths must stay inside the plugin directory")
		}
	}

	if err := m.checkAPIVersion(); err != nil {
		return err
	}
	return nil
}

// checkAPIVersion reports whether the host satisfies the declared api-version.
func (m *Manifest) checkAPIVersion() error {
	if m.APIVersion == "" {
		return nil
	}
	c, err := semver.NewConstraint(m.APIVersion)
	if err != nil {
		return oops.In("manifest").Code("INVALID_MANIFEST").
			With("plugin", m.Name).
			Wrapf(err, "api-version %q is not a valid constraint", m.APIVersion)
	}
	if ok, errs := c.Validate(semver.MustParse(HostAPIVersion)); !ok {
		return oops.In("manifest").Code("INCOMPATIBLE_API").
			With("plugin", m.Name).
			With("api_version", m.APIVersion).
			With("host_api_version", HostAPIVersion).
			Errorf("host API %s does not satisfy %s: %v", HostAPIVersion, m.APIVersion, errs)
	}
	return nil
}

// EntryPath returns the absolute entry script path for a plugin in dir.
func (m *Manifest) EntryPath(dir string) string {
	return filepath.Join(dir, m.Entry)
}

// ScriptPaths returns the dependency script paths for a plugin in dir.
func (m *Manifest) ScriptPaths(dir string) []string {
	out := make([]string, 0, len(m.Scripts))
	for _, s := range m.Scripts {
		out = append(out, filepath.Join(dir, s))
	}
	return out
}
