// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package resolver

import (
	"path/filepath"
	"slices"
	"strings"

	"github.com/holomush/resolverd/internal/script"
	"github.com/holomush/resolverd/internal/script/js"
	"github.com/holomush/resolverd/internal/script/lua"
)

// engines maps script file extensions to runtime factories.
var engines = map[string]script.Factory{
	".js":     js.New,
	".script": js.New,
	".lua":    lua.New,
}

// EngineFor returns the runtime factory for a script path.
func EngineFor(path string) (script.Factory, bool) {
	f, ok := engines[strings.ToLower(filepath.Ext(path))]
	return f, ok
}

// IsScript reports whether path has a recognized script extension.
func IsScript(path string) bool {
	_, ok := EngineFor(path)
	return ok
}

// Extensions returns the recognized script extensions, sorted.
func Extensions() []string {
	exts := make([]string, 0, len(engines))
	for ext := range engines {
		exts = append(exts, ext)
	}
	slices.Sort(exts)
	return exts
}
