// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/resolverd/internal/config"
	"github.com/holomush/resolverd/pkg/errutil"
)

func TestParseForceVersion(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantVersion int
		wantErr     bool
	}{
		{name: "valid integer", input: "3", wantVersion: 3},
		{name: "zero is valid", input: "0", wantVersion: 0},
		{name: "non-numeric returns error", input: "abc", wantErr: true},
		{name: "parsing stops at dot", input: "1.5", wantVersion: 1},
		{name: "trailing chars are ignored", input: "3abc", wantVersion: 3},
		{name: "negative is valid", input: "-1", wantVersion: -1},
		{name: "empty string returns error", input: "", wantErr: true},
		{name: "whitespace only returns error", input: "   ", wantErr: true},
		{name: "leading whitespace is handled", input: "  42", wantVersion: 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, err := parseForceVersion(tt.input)

			if tt.wantErr {
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, "INVALID_VERSION")
				assert.Equal(t, 0, version)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantVersion, version)
		})
	}
}

func TestDatabaseURL(t *testing.T) {
	t.Run("returns error when unset", func(t *testing.T) {
		url, err := databaseURL(&config.Config{})
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
		assert.Empty(t, url)
	})

	t.Run("returns configured URL", func(t *testing.T) {
		cfg := &config.Config{}
		cfg.Database.URL = "postgres://localhost:5432/resolverd"
		url, err := databaseURL(cfg)
		require.NoError(t, err)
		assert.Equal(t, "postgres://localhost:5432/resolverd", url)
	})
}

func TestMigrateCmd_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	cmd := NewRootCmd()
	cmd.SetArgs([]string{"migrate", "status"})
	cmd.SetOut(&discard{})
	cmd.SetErr(&discard{})

	err := cmd.Execute()
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
}

func TestMigrateCmd_ForceRejectsBadVersion(t *testing.T) {
	cmd := NewRootCmd()
	cmd.SetArgs([]string{"migrate", "force", "abc"})
	cmd.SetOut(&discard{})
	cmd.SetErr(&discard{})

	err := cmd.Execute()
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "INVALID_VERSION")
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
