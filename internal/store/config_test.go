// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/resolverd/pkg/errutil"
)

var (
	selectConfig = regexp.QuoteMeta(`SELECT config FROM plugin_configs WHERE plugin = $1`)
	upsertConfig = regexp.QuoteMeta(`INSERT INTO plugin_configs (plugin, config, updated_at)`)
	listConfigs  = regexp.QuoteMeta(`SELECT plugin FROM plugin_configs ORDER BY plugin`)
)

func newMockStore(t *testing.T) (*PostgresConfigStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresConfigStore(mock), mock
}

func TestPostgresConfigStore_Load(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		want      map[string]any
		wantCode  string
	}{
		{
			name: "stored config",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(selectConfig).WithArgs("spotify").
					WillReturnRows(pgxmock.NewRows([]string{"config"}).
						AddRow([]byte(`{"user":"alice","bitrate":320}`)))
			},
			want: map[string]any{"user": "alice", "bitrate": float64(320)},
		},
		{
			name: "never saved",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(selectConfig).WithArgs("spotify").
					WillReturnRows(pgxmock.NewRows([]string{"config"}))
			},
			want: map[string]any{},
		},
		{
			name: "corrupt json",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(selectConfig).WithArgs("spotify").
					WillReturnRows(pgxmock.NewRows([]string{"config"}).AddRow([]byte(`[1,2`)))
			},
			wantCode: "CORRUPT_CONFIG",
		},
		{
			name: "schema missing",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(selectConfig).WithArgs("spotify").
					WillReturnError(&pgconn.PgError{Code: pgerrcode.UndefinedTable})
			},
			wantCode: "SCHEMA_MISSING",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			tt.setupMock(mock)

			got, err := s.Load(context.Background(), "spotify")
			if tt.wantCode != "" {
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, tt.wantCode)
				errutil.AssertErrorContext(t, err, "plugin", "spotify")
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresConfigStore_LoadConnectionError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(selectConfig).WithArgs("x").WillReturnError(errors.New("connection refused"))

	_, err := s.Load(context.Background(), "x")
	require.Error(t, err)
	errutil.AssertErrorContext(t, err, "operation", "load plugin config")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresConfigStore_Save(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(upsertConfig).
		WithArgs("spotify", []byte(`{"user":"alice"}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(upsertConfig).
		WithArgs("empty", []byte(`{}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.Save(context.Background(), "spotify", map[string]any{"user": "alice"}))
	require.NoError(t, s.Save(context.Background(), "empty", nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresConfigStore_SaveErrors(t *testing.T) {
	s, mock := newMockStore(t)

	err := s.Save(context.Background(), "bad", map[string]any{"ch": make(chan int)})
	errutil.AssertErrorCode(t, err, "UNENCODABLE_CONFIG")

	mock.ExpectExec(upsertConfig).
		WithArgs("spotify", pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: pgerrcode.UndefinedTable})
	err = s.Save(context.Background(), "spotify", map[string]any{})
	errutil.AssertErrorCode(t, err, "SCHEMA_MISSING")
	errutil.AssertErrorContext(t, err, "operation", "save plugin config")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresConfigStore_Plugins(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(listConfigs).
		WillReturnRows(pgxmock.NewRows([]string{"plugin"}).AddRow("lastfm").AddRow("spotify"))

	got, err := s.Plugins(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"lastfm", "spotify"}, got)

	mock.ExpectQuery(listConfigs).WillReturnError(errors.New("connection refused"))
	_, err = s.Plugins(context.Background())
	errutil.AssertErrorContext(t, err, "operation", "list plugin configs")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryConfigStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryConfigStore()

	got, err := s.Load(ctx, "p")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got)

	saved := map[string]any{"user": "alice"}
	require.NoError(t, s.Save(ctx, "p", saved))
	saved["user"] = "mallory"

	got, err = s.Load(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"user": "alice"}, got)

	got["user"] = "eve"
	again, err := s.Load(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, "alice", again["user"])
}
