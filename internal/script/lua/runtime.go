// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//nolint:gocritic // captLocal: L is the idiomatic name for lua.LState
package lua

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/holomush/resolverd/internal/script"
)

// maxDepth bounds table conversion so self-referencing tables terminate.
const maxDepth = 32

// Compile-time interface check.
var _ script.Runtime = (*Runtime)(nil)

// Runtime is a single sandboxed Lua state. It is not safe for concurrent use.
type Runtime struct {
	L *lua.LState
}

// New creates a sandboxed Lua runtime with bindings installed as globals.
// It satisfies script.Factory.
func New(ctx context.Context, bindings script.Bindings) (script.Runtime, error) {
	return NewStateFactory().Runtime(ctx, bindings)
}

// Runtime creates a runtime on a fresh sandboxed state.
func (f *StateFactory) Runtime(ctx context.Context, bindings script.Bindings) (script.Runtime, error) {
	L, err := f.NewState(ctx)
	if err != nil {
		return nil, oops.In("lua").Hint("failed to create state").Wrap(err)
	}
	r := &Runtime{L: L}
	for name, v := range bindings {
		L.SetGlobal(name, r.toValue(v, 0))
	}
	return r, nil
}

// Exec evaluates a script file.
func (r *Runtime) Exec(name string, src []byte) (err error) {
	if r.L == nil {
		return oops.In("lua").With("script", name).New("runtime is closed")
	}
	defer recoverInto(&err)

	fn, err := r.L.Load(bytes.NewReader(src), name)
	if err != nil {
		return oops.In("lua").With("script", name).Hint("syntax error").Wrap(err)
	}
	r.L.Push(fn)
	if err := r.L.PCall(0, 0, nil); err != nil {
		return oops.In("lua").With("script", name).Wrap(err)
	}
	return nil
}

// Eval evaluates an expression and exports the result.
func (r *Runtime) Eval(expr string) (result any, err error) {
	if r.L == nil {
		return nil, oops.In("lua").With("expr", expr).New("runtime is closed")
	}
	defer recoverInto(&err)

	fn, err := r.L.LoadString("return " + expr)
	if err != nil {
		return nil, oops.In("lua").With("expr", expr).Hint("syntax error").Wrap(err)
	}
	r.L.Push(fn)
	if err := r.L.PCall(0, 1, nil); err != nil {
		return nil, oops.In("lua").With("expr", expr).Wrap(err)
	}
	ret := r.L.Get(-1)
	r.L.Pop(1)
	return r.export(ret, 0), nil
}

// Defined reports whether path resolves to a non-nil value.
func (r *Runtime) Defined(path string) bool {
	parts := script.SplitPath(path)
	if len(parts) == 0 || r.L == nil {
		return false
	}
	v := r.L.GetGlobal(parts[0])
	for _, p := range parts[1:] {
		tbl, ok := v.(*lua.LTable)
		if !ok {
			return false
		}
		v = r.L.GetField(tbl, p)
	}
	return v != lua.LNil
}

// Method renders receiver:name(args) so Lua methods receive self.
func (r *Runtime) Method(receiver, name string, args ...string) string {
	return fmt.Sprintf("%s:%s(%s)", receiver, name, strings.Join(args, ", "))
}

// Func renders name(args).
func (r *Runtime) Func(name string, args ...string) string {
	return fmt.Sprintf("%s(%s)", name, strings.Join(args, ", "))
}

// Close closes the Lua state.
func (r *Runtime) Close() {
	if r.L == nil {
		return
	}
	r.L.Close()
	r.L = nil
}

func recoverInto(err *error) {
	if rec := recover(); rec != nil {
		*err = oops.In("lua").Errorf("script panic: %v", rec)
	}
}

// export converts a Lua value into plain Go values. Tables with only a
// contiguous 1..n integer key range become []any, all others map[string]any.
func (r *Runtime) export(v lua.LValue, depth int) any {
	if depth > maxDepth {
		return nil
	}
	switch val := v.(type) {
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		f := float64(val)
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(val)
	case *lua.LFunction:
		return &luaFunc{rt: r, fn: val}
	case *lua.LTable:
		n := val.MaxN()
		count := 0
		val.ForEach(func(_, _ lua.LValue) { count++ })
		if n > 0 && count == n {
			list := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				list = append(list, r.export(val.RawGetInt(i), depth+1))
			}
			return list
		}
		m := make(map[string]any, count)
		val.ForEach(func(k, item lua.LValue) {
			m[k.String()] = r.export(item, depth+1)
		})
		return m
	default:
		return nil
	}
}

// toValue converts plain Go values (and bindings) into Lua values.
func (r *Runtime) toValue(v any, depth int) lua.LValue {
	if depth > maxDepth {
		return lua.LNil
	}
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return val
	case *luaFunc:
		return val.fn
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case uint:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case script.NativeFunc:
		return r.L.NewFunction(r.native(val))
	case func(args []any) (any, error):
		return r.L.NewFunction(r.native(val))
	case script.Bindings:
		return r.table(val, depth)
	case map[string]any:
		return r.table(val, depth)
	case []any:
		t := r.L.NewTable()
		for _, item := range val {
			t.Append(r.toValue(item, depth+1))
		}
		return t
	case []string:
		t := r.L.NewTable()
		for _, item := range val {
			t.Append(lua.LString(item))
		}
		return t
	default:
		return lua.LString(fmt.Sprint(val))
	}
}

func (r *Runtime) table(fields map[string]any, depth int) *lua.LTable {
	t := r.L.NewTable()
	for k, item := range fields {
		r.L.SetField(t, k, r.toValue(item, depth+1))
	}
	return t
}

func (r *Runtime) native(fn script.NativeFunc) lua.LGFunction {
	return func(L *lua.LState) int {
		top := L.GetTop()
		args := make([]any, top)
		for i := 1; i <= top; i++ {
			args[i-1] = r.export(L.Get(i), 0)
		}
		res, err := fn(args)
		if err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		L.Push(r.toValue(res, 0))
		return 1
	}
}

// luaFunc is a captured Lua function.
type luaFunc struct {
	rt *Runtime
	fn *lua.LFunction
}

// Call invokes the function in protected mode.
func (f *luaFunc) Call(args ...any) (result any, err error) {
	if f.rt.L == nil {
		return nil, oops.In("lua").New("runtime is closed")
	}
	defer recoverInto(&err)

	vals := make([]lua.LValue, len(args))
	for i, a := range args {
		vals[i] = f.rt.toValue(a, 0)
	}
	if err := f.rt.L.CallByParam(lua.P{
		Fn:      f.fn,
		NRet:    1,
		Protect: true,
	}, vals...); err != nil {
		return nil, oops.In("lua").Hint("callback failed").Wrap(err)
	}
	ret := f.rt.L.Get(-1)
	f.rt.L.Pop(1)
	return f.rt.export(ret, 0), nil
}
