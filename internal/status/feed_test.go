// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package status_test

import (
	"bytes"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/resolverd/internal/status"
)

func TestFeed_RecordsAndLogs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	f := status.New(10, logger)

	f.Warn("Test JS", "returned synchronously")
	f.Error("Other", "failed to load")

	entries := f.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, status.LevelWarn, entries[0].Level)
	assert.Equal(t, "Test JS", entries[0].Source)
	assert.Equal(t, status.LevelError, entries[1].Level)
	assert.NotEmpty(t, entries[0].ID)
	assert.NotEqual(t, entries[0].ID, entries[1].ID)
	assert.False(t, entries[0].Time.IsZero())

	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "level=ERROR")
	assert.Contains(t, out, "source=Other")
}

func TestFeed_DropsOldestWhenFull(t *testing.T) {
	f := status.New(3, slog.New(slog.DiscardHandler))
	for i := range 5 {
		f.Warn("src", fmt.Sprintf("msg %d", i))
	}

	entries := f.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "msg 2", entries[0].Message)
	assert.Equal(t, "msg 4", entries[2].Message)
	assert.Equal(t, 3, f.Len())
}

func TestFeed_Dismiss(t *testing.T) {
	f := status.New(3, slog.New(slog.DiscardHandler))
	for i := range 4 {
		f.Error("src", fmt.Sprintf("msg %d", i))
	}
	entries := f.Entries()

	assert.True(t, f.Dismiss(entries[1].ID))
	assert.False(t, f.Dismiss(entries[1].ID))
	assert.False(t, f.Dismiss("unknown"))

	left := f.Entries()
	require.Len(t, left, 2)
	assert.Equal(t, "msg 1", left[0].Message)
	assert.Equal(t, "msg 3", left[1].Message)

	f.Warn("src", "msg 4")
	f.Warn("src", "msg 5")
	left = f.Entries()
	require.Len(t, left, 3)
	assert.Equal(t, "msg 3", left[0].Message)
}

func TestFeed_DefaultCapacity(t *testing.T) {
	f := status.New(0, nil)
	for range status.DefaultCapacity + 5 {
		f.Warn("src", "m")
	}
	assert.Equal(t, status.DefaultCapacity, f.Len())
}

func TestLevel_String(t *testing.T) {
	assert.Equal(t, "warn", status.LevelWarn.String())
	assert.Equal(t, "error", status.LevelError.String())
}
