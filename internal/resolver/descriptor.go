// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package resolver

import (
	"image"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/oops"
)

// DefaultTimeout applies when a script's settings omit timeout.
const DefaultTimeout = 25 * time.Second

// Descriptor is the metadata extracted from a script's settings on load.
// It is replaced wholesale on every successful load.
type Descriptor struct {
	Name         string
	Weight       int
	Timeout      time.Duration
	Icon         image.Image
	Path         string
	Dependencies []string
}

// parseDescriptor builds a Descriptor from a settings map.
// Only name is required; icon failures fall back and never fail the parse.
func parseDescriptor(path string, deps []string, settings map[string]any) (Descriptor, error) {
	name := strings.TrimSpace(asString(settings["name"]))
	if name == "" {
		return Descriptor{}, oops.In("resolver").
			Code(CodeMalformedRecord).
			With("path", path).
			Errorf("settings are missing a name")
	}

	d := Descriptor{
		Name:         name,
		Timeout:      DefaultTimeout,
		Path:         path,
		Dependencies: deps,
	}
	if w, ok := asInt(settings["weight"]); ok {
		d.Weight = int(w)
	}
	if t, ok := asInt(settings["timeout"]); ok && t > 0 {
		d.Timeout = time.Duration(t) * time.Second
	}
	d.Icon = resolveIcon(path, asString(settings["icon"]), asBool(settings["compressed"]))
	return d, nil
}

// resolveIcon tries the inline data, then a path relative to the script,
// then the built-in default.
func resolveIcon(scriptPath, data string, compressed bool) image.Image {
	if data == "" {
		return DefaultIcon()
	}
	if img, err := decodeIcon(data, compressed); err == nil {
		return img
	}
	if img, err := loadIconFile(relativeTo(scriptPath, data)); err == nil {
		return img
	}
	return DefaultIcon()
}

// relativeTo resolves name against the directory holding scriptPath.
func relativeTo(scriptPath, name string) string {
	return filepath.Join(filepath.Dir(scriptPath), filepath.Clean("/"+name))
}
