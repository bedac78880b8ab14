// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"time"

	"github.com/agilira/argus"
	"github.com/samber/oops"

	"github.com/holomush/resolverd/internal/resolver"
)

// DefaultWatchInterval is the polling interval for script changes.
const DefaultWatchInterval = time.Second

// Watch reloads a plugin whenever its entry script or one of its
// dependencies changes on disk. Close stops watching.
func (m *Manager) Watch(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	plugins := m.Plugins()

	var files int
	for _, p := range plugins {
		files += 1 + len(p.Descriptor().Dependencies)
	}

	w := argus.New(argus.Config{
		PollInterval:         interval,
		CacheTTL:             interval / 2,
		MaxWatchedFiles:      max(files, 1),
		OptimizationStrategy: argus.OptimizationSingleEvent,
		ErrorHandler: func(err error, path string) {
			m.logger.Warn("script watch error", "path", path, "error", err)
		},
	})

	for _, p := range plugins {
		paths := append([]string{p.Path()}, p.Descriptor().Dependencies...)
		for _, path := range paths {
			if err := w.Watch(path, m.onChange(ctx, p)); err != nil {
				return oops.In("plugin").Code("WATCH_FAILED").With("plugin", p.ID()).With("path", path).Wrap(err)
			}
		}
	}
	if err := w.Start(); err != nil {
		return oops.In("plugin").Code("WATCH_FAILED").Wrap(err)
	}

	m.mu.Lock()
	prev := m.watcher
	m.watcher = w
	m.mu.Unlock()
	if prev != nil {
		if err := prev.Stop(); err != nil {
			m.logger.Warn("failed to stop previous watcher", "error", err)
		}
	}

	m.logger.Info("watching plugin scripts", "files", files, "interval", interval)
	return nil
}

func (m *Manager) onChange(ctx context.Context, p *resolver.Plugin) func(argus.ChangeEvent) {
	return func(ev argus.ChangeEvent) {
		m.logger.Info("plugin script changed",
			"plugin", p.ID(),
			"path", ev.Path,
			"created", ev.IsCreate,
			"deleted", ev.IsDelete,
			"modified", ev.IsModify)
		m.reload(ctx, p, TriggerWatch)
	}
}
