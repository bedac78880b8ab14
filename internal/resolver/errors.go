// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package resolver

import (
	"github.com/samber/oops"
)

// Error codes for resolver plugin failures.
const (
	CodeFileNotFound         = "FILE_NOT_FOUND"
	CodeFailedToLoad         = "FAILED_TO_LOAD"
	CodeProtocolViolation    = "PROTOCOL_VIOLATION"
	CodeMalformedRecord      = "MALFORMED_RECORD"
	CodeWidgetBindingFailure = "WIDGET_BINDING_FAILURE"
	CodeUnresolvedMimetype   = "UNRESOLVED_MIMETYPE"
	CodePluginClosed         = "PLUGIN_CLOSED"
	CodeInvalidOptions       = "INVALID_OPTIONS"
)

// ErrFileNotFound creates an error for a missing plugin script.
func ErrFileNotFound(path string) error {
	return oops.In("resolver").
		Code(CodeFileNotFound).
		With("path", path).
		Errorf("script file not found: %s", path)
}

// ErrFailedToLoad wraps a failure that aborted a load attempt.
func ErrFailedToLoad(path string, cause error) error {
	return oops.In("resolver").
		Code(CodeFailedToLoad).
		With("path", path).
		Wrapf(cause, "failed to load %s", path)
}

// ErrProtocolViolation creates an error for a synchronous reply to an
// asynchronous call.
func ErrProtocolViolation(plugin, call string) error {
	return oops.In("resolver").
		Code(CodeProtocolViolation).
		With("plugin", plugin).
		With("call", call).
		Errorf("%s returned synchronously from asynchronous call %s", plugin, call)
}

// ErrMalformedRecord creates an error for a record that fails required-field validation.
func ErrMalformedRecord(index int, reason string) error {
	return oops.In("resolver").
		Code(CodeMalformedRecord).
		With("index", index).
		With("reason", reason).
		Errorf("record %d: %s", index, reason)
}

// ErrUnresolvedMimetype creates an error for a record whose mimetype cannot be derived.
func ErrUnresolvedMimetype(index int, url string) error {
	return oops.In("resolver").
		Code(CodeUnresolvedMimetype).
		With("index", index).
		With("url", url).
		Errorf("record %d: no mimetype or known extension", index)
}

// ErrWidgetBindingFailure creates an error for a config field with no matching widget.
func ErrWidgetBindingFailure(field, widget string, cause error) error {
	b := oops.In("resolver").
		Code(CodeWidgetBindingFailure).
		With("field", field).
		With("widget", widget)
	if cause != nil {
		return b.Wrapf(cause, "no widget %q for field %q", widget, field)
	}
	return b.Errorf("no widget %q for field %q", widget, field)
}

// ErrPluginClosed creates an error for calls on a closed plugin.
func ErrPluginClosed(path string) error {
	return oops.In("resolver").
		Code(CodePluginClosed).
		With("path", path).
		Errorf("plugin is closed")
}

// ErrInvalidOptions creates an error for an invalid plugin construction.
func ErrInvalidOptions(reason string) error {
	return oops.In("resolver").
		Code(CodeInvalidOptions).
		Errorf("invalid options: %s", reason)
}
