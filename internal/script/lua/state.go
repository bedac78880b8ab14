// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package lua runs resolver scripts on sandboxed gopher-lua states.
package lua

import (
	"context"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
)

// Resolver scripts are small; these bound runaway recursion and tables.
const (
	callStackSize = 256
	registrySize  = 64 * 1024
)

// safeLibrary is a standard library opened on every state.
type safeLibrary struct {
	name string
	fn   lua.LGFunction
}

// defaultSafeLibraries are base, table, string and math. os, io, debug,
// package, coroutine and channel are never opened.
func defaultSafeLibraries() []safeLibrary {
	return []safeLibrary{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	}
}

// blockedGlobals are base functions that load code from disk or strings.
// Scripts are loaded by the host only.
var blockedGlobals = []string{"dofile", "loadfile", "loadstring", "load", "require", "module"}

// StateFactory creates sandboxed Lua states.
type StateFactory struct {
	libraries []safeLibrary
}

// NewStateFactory returns a factory opening the default safe libraries.
func NewStateFactory() *StateFactory {
	return &StateFactory{libraries: defaultSafeLibraries()}
}

// NewState returns a fresh state with only the safe libraries open and
// code-loading globals removed. A non-nil ctx is attached so cancelling
// the plugin aborts a running script.
func (f *StateFactory) NewState(ctx context.Context) (*lua.LState, error) {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:  true,
		CallStackSize: callStackSize,
		RegistrySize:  registrySize,
	})

	for _, lib := range f.libraries {
		err := L.CallByParam(lua.P{Fn: L.NewFunction(lib.fn), Protect: true}, lua.LString(lib.name))
		if err != nil {
			L.Close()
			return nil, oops.In("lua").With("library", lib.name).Wrapf(err, "failed to open library %s", lib.name)
		}
	}
	for _, name := range blockedGlobals {
		L.SetGlobal(name, lua.LNil)
	}
	if ctx != nil {
		L.SetContext(ctx)
	}
	return L, nil
}
