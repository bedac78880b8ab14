// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package script defines the engine-neutral contract between the resolver host
// and an embedded script engine.
//
// A Runtime is single-threaded: every method must be called from the goroutine
// that owns it. Values crossing the boundary are plain Go values:
//
//	nil, bool, int64, float64, string, []any, map[string]any, Func
package script

import (
	"context"
	"strings"
)

// NativeFunc is a host function callable from script code. Arguments arrive as
// plain Go values; the returned value is converted back into the engine.
// Returning an error raises a script exception at the call site.
type NativeFunc func(args []any) (any, error)

// Func is a script function captured by the host, typically a callback passed
// to a native function. It must only be invoked on the runtime's owner.
type Func interface {
	Call(args ...any) (any, error)
}

// Bindings is the table of native objects installed into the global scope when
// a runtime is created. Keys are global names. Values are NativeFunc, nested
// Bindings (objects/tables) or plain values.
type Bindings map[string]any

// Syntax renders call expressions in the engine's surface language. Arguments
// are already-quoted literals (see Quote).
type Syntax interface {
	// Method renders a method call on receiver, e.g. `r.search('1', 'x')`.
	Method(receiver, name string, args ...string) string
	// Func renders a call to a global function, e.g. `resolve('1', '', '', 'x')`.
	Func(name string, args ...string) string
}

// Runtime is one isolated script execution context.
type Runtime interface {
	Syntax

	// Exec evaluates a whole script file. name is used in error positions.
	Exec(name string, src []byte) error

	// Eval evaluates a single expression and returns its value.
	Eval(expr string) (any, error)

	// Defined reports whether the dotted global path resolves to a non-nil value.
	Defined(path string) bool

	// Close releases the engine. The runtime must not be used afterwards.
	Close()
}

// Factory creates a fresh Runtime with the given bindings installed.
type Factory func(ctx context.Context, bindings Bindings) (Runtime, error)

var quoteReplacer = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	"\n", `\n`,
	"\r", `\r`,
)

// Quote renders s as a single-quoted string literal valid in both JavaScript
// and Lua. Embedded quotes and backslashes are escaped so an argument can never
// terminate the surrounding call expression.
func Quote(s string) string {
	return "'" + quoteReplacer.Replace(s) + "'"
}

// QuoteAll quotes every argument.
func QuoteAll(args ...string) []string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = Quote(a)
	}
	return quoted
}

// SplitPath splits a dotted global path such as "Tomahawk.resolver.instance".
func SplitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}
