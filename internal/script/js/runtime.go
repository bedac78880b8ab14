// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package js provides a goja-backed JavaScript runtime for resolver scripts.
package js

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dop251/goja"
	"github.com/samber/oops"

	"github.com/holomush/resolverd/internal/script"
)

// maxDepth bounds value conversion so self-referencing objects terminate.
const maxDepth = 32

// Compile-time interface check.
var _ script.Runtime = (*Runtime)(nil)

// Runtime is a single JavaScript context. It is not safe for concurrent use.
type Runtime struct {
	vm     *goja.Runtime
	closed bool
}

// New creates a JavaScript runtime with bindings installed as globals.
// It satisfies script.Factory.
func New(_ context.Context, bindings script.Bindings) (script.Runtime, error) {
	r := &Runtime{vm: goja.New()}
	for name, v := range bindings {
		if err := r.vm.Set(name, r.toValue(v, 0)); err != nil {
			return nil, oops.In("js").With("binding", name).Hint("failed to install binding").Wrap(err)
		}
	}
	return r, nil
}

// Exec evaluates a script file.
func (r *Runtime) Exec(name string, src []byte) (err error) {
	if r.closed {
		return oops.In("js").With("script", name).New("runtime is closed")
	}
	defer r.recoverInto(&err)

	if _, err := r.vm.RunScript(name, string(src)); err != nil {
		return oops.In("js").With("script", name).Wrap(err)
	}
	return nil
}

// Eval evaluates an expression and exports the result.
func (r *Runtime) Eval(expr string) (result any, err error) {
	if r.closed {
		return nil, oops.In("js").With("expr", expr).New("runtime is closed")
	}
	defer r.recoverInto(&err)

	v, err := r.vm.RunString(expr)
	if err != nil {
		return nil, oops.In("js").With("expr", expr).Wrap(err)
	}
	return r.export(v, 0), nil
}

// Defined reports whether path resolves to a value that is neither undefined nor null.
func (r *Runtime) Defined(path string) bool {
	parts := script.SplitPath(path)
	if len(parts) == 0 || r.closed {
		return false
	}
	v := r.vm.Get(parts[0])
	for _, p := range parts[1:] {
		obj, ok := v.(*goja.Object)
		if !ok {
			return false
		}
		v = obj.Get(p)
	}
	return !isNil(v)
}

// Method renders receiver.name(args).
func (r *Runtime) Method(receiver, name string, args ...string) string {
	return fmt.Sprintf("%s.%s(%s)", receiver, name, strings.Join(args, ", "))
}

// Func renders name(args).
func (r *Runtime) Func(name string, args ...string) string {
	return fmt.Sprintf("%s(%s)", name, strings.Join(args, ", "))
}

// Close drops the VM.
func (r *Runtime) Close() {
	if r.closed {
		return
	}
	r.closed = true
	r.vm = nil
}

// recoverInto converts a Go panic escaping the engine into an error so a
// misbehaving script never takes the host down.
func (r *Runtime) recoverInto(err *error) {
	if rec := recover(); rec != nil {
		*err = oops.In("js").Errorf("script panic: %v", rec)
	}
}

func isNil(v goja.Value) bool {
	return v == nil || goja.IsUndefined(v) || goja.IsNull(v)
}

// export converts a goja value into plain Go values.
func (r *Runtime) export(v goja.Value, depth int) any {
	if isNil(v) || depth > maxDepth {
		return nil
	}
	if fn, ok := goja.AssertFunction(v); ok {
		return &jsFunc{rt: r, fn: fn, value: v}
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return v.Export()
	}

	if obj.ClassName() == "Array" {
		n := int(obj.Get("length").ToInteger())
		list := make([]any, 0, n)
		for i := 0; i < n; i++ {
			list = append(list, r.export(obj.Get(strconv.Itoa(i)), depth+1))
		}
		return list
	}

	keys := obj.Keys()
	m := make(map[string]any, len(keys))
	for _, k := range keys {
		m[k] = r.export(obj.Get(k), depth+1)
	}
	return m
}

// toValue converts plain Go values (and bindings) into goja values.
func (r *Runtime) toValue(v any, depth int) goja.Value {
	if depth > maxDepth {
		return goja.Undefined()
	}
	switch val := v.(type) {
	case nil:
		return goja.Null()
	case *jsFunc:
		return val.value
	case script.NativeFunc:
		return r.vm.ToValue(r.native(val))
	case func(args []any) (any, error):
		return r.vm.ToValue(r.native(val))
	case script.Bindings:
		return r.object(val, depth)
	case map[string]any:
		return r.object(val, depth)
	case []any:
		items := make([]any, len(val))
		for i, item := range val {
			items[i] = r.toValue(item, depth+1)
		}
		return r.vm.NewArray(items...)
	case []string:
		items := make([]any, len(val))
		for i, item := range val {
			items[i] = item
		}
		return r.vm.NewArray(items...)
	default:
		return r.vm.ToValue(val)
	}
}

func (r *Runtime) object(fields map[string]any, depth int) *goja.Object {
	obj := r.vm.NewObject()
	for k, item := range fields {
		//nolint:errcheck // Set on a fresh plain object cannot fail
		obj.Set(k, r.toValue(item, depth+1))
	}
	return obj
}

func (r *Runtime) native(fn script.NativeFunc) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		args := make([]any, len(call.Arguments))
		for i, a := range call.Arguments {
			args[i] = r.export(a, 0)
		}
		res, err := fn(args)
		if err != nil {
			panic(r.vm.NewGoError(err))
		}
		return r.toValue(res, 0)
	}
}

// jsFunc is a captured JavaScript function.
type jsFunc struct {
	rt    *Runtime
	fn    goja.Callable
	value goja.Value
}

// Call invokes the function with undefined as this.
func (f *jsFunc) Call(args ...any) (result any, err error) {
	if f.rt.closed {
		return nil, oops.In("js").New("runtime is closed")
	}
	defer f.rt.recoverInto(&err)

	vals := make([]goja.Value, len(args))
	for i, a := range args {
		vals[i] = f.rt.toValue(a, 0)
	}
	v, err := f.fn(goja.Undefined(), vals...)
	if err != nil {
		return nil, oops.In("js").Hint("callback failed").Wrap(err)
	}
	return f.rt.export(v, 0), nil
}
