// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/resolverd/internal/script"
	scriptlua "github.com/holomush/resolverd/internal/script/lua"
)

func newRuntime(t *testing.T, bindings script.Bindings) script.Runtime {
	t.Helper()
	rt, err := scriptlua.New(context.Background(), bindings)
	require.NoError(t, err)
	t.Cleanup(rt.Close)
	return rt
}

func TestRuntime_ExecAndEval(t *testing.T) {
	rt := newRuntime(t, nil)

	require.NoError(t, rt.Exec("resolver.lua", []byte(`
		Resolver = {}
		function Resolver:settings() return { name = "Lua", weight = 75, timeout = 5 } end
		function Resolver:resolve(qid, artist) return { qid = qid, artist = artist } end
	`)))

	got, err := rt.Eval(rt.Method("Resolver", "settings"))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "Lua", "weight": int64(75), "timeout": int64(5)}, got)

	got, err = rt.Eval(rt.Method("Resolver", "resolve", script.QuoteAll("q1", "It's")...))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"qid": "q1", "artist": "It's"}, got)
}

func TestRuntime_EvalFraction(t *testing.T) {
	rt := newRuntime(t, nil)

	got, err := rt.Eval("0.5")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, got, 1e-9)
}

func TestRuntime_ExecErrors(t *testing.T) {
	rt := newRuntime(t, nil)

	err := rt.Exec("broken.lua", []byte(`function (`))
	require.Error(t, err)

	err = rt.Exec("raise.lua", []byte(`error("boom")`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestRuntime_Defined(t *testing.T) {
	rt := newRuntime(t, script.Bindings{
		"Tomahawk": script.Bindings{
			"resolver": script.Bindings{},
		},
	})

	assert.True(t, rt.Defined("Tomahawk"))
	assert.True(t, rt.Defined("Tomahawk.resolver"))
	assert.False(t, rt.Defined("Tomahawk.resolver.instance"))
	assert.False(t, rt.Defined("Missing.path"))
	assert.False(t, rt.Defined(""))

	require.NoError(t, rt.Exec("init.lua", []byte(`Tomahawk.resolver.instance = {}`)))
	assert.True(t, rt.Defined("Tomahawk.resolver.instance"))
}

func TestRuntime_NativeBindings(t *testing.T) {
	var received []any
	rt := newRuntime(t, script.Bindings{
		"Host": script.Bindings{
			"record": script.NativeFunc(func(args []any) (any, error) {
				received = args
				return "ok", nil
			}),
			"fail": script.NativeFunc(func([]any) (any, error) {
				return nil, errors.New("native failure")
			}),
		},
	})

	got, err := rt.Eval(`Host.record("a", 2, true, {1, 2})`)
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, []any{"a", int64(2), true, []any{int64(1), int64(2)}}, received)

	_, err = rt.Eval(`Host.fail()`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "native failure")
}

func TestRuntime_CapturedCallback(t *testing.T) {
	var captured script.Func
	rt := newRuntime(t, script.Bindings{
		"later": script.NativeFunc(func(args []any) (any, error) {
			captured, _ = args[0].(script.Func)
			return nil, nil
		}),
	})

	require.NoError(t, rt.Exec("cb.lua", []byte(`
		calls = 0
		later(function(x) calls = calls + x; return calls end)
	`)))
	require.NotNil(t, captured)

	got, err := captured.Call(5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got)
}

func TestRuntime_ClosedRuntimeRejectsCalls(t *testing.T) {
	rt, err := scriptlua.New(context.Background(), nil)
	require.NoError(t, err)
	rt.Close()
	rt.Close()

	_, err = rt.Eval("1")
	require.Error(t, err)
	require.Error(t, rt.Exec("x.lua", []byte("x = 1")))
	assert.False(t, rt.Defined("x"))
}

func TestRuntime_Syntax(t *testing.T) {
	rt := newRuntime(t, nil)
	assert.Equal(t, "r:search('1', 'q')", rt.Method("r", "search", "'1'", "'q'"))
	assert.Equal(t, "resolve('1')", rt.Func("resolve", "'1'"))
}
