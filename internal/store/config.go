// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/holomush/resolverd/internal/resolver"
)

// Compile-time interface checks.
var (
	_ resolver.ConfigStore = (*PostgresConfigStore)(nil)
	_ resolver.ConfigStore = (*MemoryConfigStore)(nil)
)

// PostgresConfigStore keeps plugin configuration in the plugin_configs table.
type PostgresConfigStore struct {
	pool poolIface
}

// NewPostgresConfigStore creates a config store backed by pool.
func NewPostgresConfigStore(pool poolIface) *PostgresConfigStore {
	return &PostgresConfigStore{pool: pool}
}

// Load returns the stored configuration for plugin. A plugin that never
// saved anything gets an empty map.
func (s *PostgresConfigStore) Load(ctx context.Context, plugin string) (map[string]any, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT config FROM plugin_configs WHERE plugin = $1`, plugin).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, oops.With("plugin", plugin).Wrap(classify(err, "load plugin config"))
	}

	cfg := map[string]any{}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, oops.In("store").Code("CORRUPT_CONFIG").With("plugin", plugin).Wrap(err)
	}
	return cfg, nil
}

// Save replaces the stored configuration for plugin.
func (s *PostgresConfigStore) Save(ctx context.Context, plugin string, config map[string]any) error {
	if config == nil {
		config = map[string]any{}
	}
	raw, err := json.Marshal(config)
	if err != nil {
		return oops.In("store").Code("UNENCODABLE_CONFIG").With("plugin", plugin).Wrap(err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO plugin_configs (plugin, config, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (plugin) DO UPDATE
		 SET config = EXCLUDED.config,
		     updated_at = EXCLUDED.updated_at,
		     revision = plugin_configs.revision + 1`,
		plugin, raw)
	if err != nil {
		return oops.With("plugin", plugin).Wrap(classify(err, "save plugin config"))
	}
	return nil
}

// Plugins lists every plugin with stored configuration.
func (s *PostgresConfigStore) Plugins(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT plugin FROM plugin_configs ORDER BY plugin`)
	if err != nil {
		return nil, classify(err, "list plugin configs")
	}
	defer rows.Close()

	var plugins []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, oops.With("operation", "scan plugin config row").Wrap(err)
		}
		plugins = append(plugins, name)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.With("operation", "iterate plugin configs").Wrap(err)
	}
	return plugins, nil
}

// MemoryConfigStore is an in-process ConfigStore.
type MemoryConfigStore struct {
	mu      sync.RWMutex
	configs map[string]map[string]any
}

// NewMemoryConfigStore creates an empty in-memory store.
func NewMemoryConfigStore() *MemoryConfigStore {
	return &MemoryConfigStore{configs: make(map[string]map[string]any)}
}

// Load returns a copy of the configuration saved for plugin.
func (s *MemoryConfigStore) Load(_ context.Context, plugin string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg := maps.Clone(s.configs[plugin])
	if cfg == nil {
		cfg = map[string]any{}
	}
	return cfg, nil
}

// Save stores a copy of config for plugin.
func (s *MemoryConfigStore) Save(_ context.Context, plugin string, config map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[plugin] = maps.Clone(config)
	return nil
}
