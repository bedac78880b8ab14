// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/agilira/argus"
	"github.com/gobwas/glob"
	"github.com/samber/oops"

	"github.com/holomush/resolverd/internal/resolver"
)

// DefaultPatterns are the file name patterns of bare resolver scripts.
var DefaultPatterns = []string{"*.js", "*.script", "*.lua"}

// Manager discovers resolver scripts and owns their Plugin instances.
type Manager struct {
	pluginsDir string
	patterns   []glob.Glob
	opts       []resolver.Option
	logger     *slog.Logger

	onReload ReloadHook

	mu      sync.RWMutex
	loaded  map[string]*resolver.Plugin
	watcher *argus.Watcher
}

// ReloadHook observes reloads. trigger is "manual" or "watch".
type ReloadHook func(plugin, trigger string)

// Reload triggers.
const (
	TriggerManual = "manual"
	TriggerWatch  = "watch"
)

// ManagerOption configures the Manager.
type ManagerOption func(*Manager) error

// WithPatterns sets the glob patterns bare script files must match.
func WithPatterns(patterns ...string) ManagerOption {
	return func(m *Manager) error {
		compiled := make([]glob.Glob, 0, len(patterns))
		for _, p := range patterns {
			g, err := glob.Compile(p)
			if err != nil {
				return oops.In("plugin").Code("INVALID_PATTERN").With("pattern", p).Wrap(err)
			}
			compiled = append(compiled, g)
		}
		m.patterns = compiled
		return nil
	}
}

// WithPluginOptions sets options applied to every Plugin the manager creates.
func WithPluginOptions(opts ...resolver.Option) ManagerOption {
	return func(m *Manager) error {
		m.opts = append(m.opts, opts...)
		return nil
	}
}

// WithLogger sets the manager logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) error {
		m.logger = l
		return nil
	}
}

// WithReloadHook sets a hook called whenever a plugin reload is scheduled.
func WithReloadHook(h ReloadHook) ManagerOption {
	return func(m *Manager) error {
		m.onReload = h
		return nil
	}
}

// NewManager creates a plugin manager for pluginsDir.
func NewManager(pluginsDir string, opts ...ManagerOption) (*Manager, error) {
	m := &Manager{
		pluginsDir: pluginsDir,
		logger:     slog.Default(),
		loaded:     make(map[string]*resolver.Plugin),
	}
	if err := WithPatterns(DefaultPatterns...)(m); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Discovered is a resolver found on disk.
type Discovered struct {
	Name         string
	Path         string
	Dependencies []string
	// Manifest is nil for bare script files.
	Manifest *Manifest
}

// Discover finds resolvers in the plugins directory: subdirectories with a
// plugin.yaml and script files matching the configured patterns. Invalid
// entries are logged and skipped.
func (m *Manager) Discover(_ context.Context) ([]*Discovered, error) {
	entries, err := os.ReadDir(m.pluginsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, oops.In("plugin").With("dir", m.pluginsDir).Wrapf(err, "read plugins directory")
	}

	var found []*Discovered
	seen := make(map[string]string)
	for _, entry := range entries {
		var d *Discovered
		if entry.IsDir() {
			d = m.discoverDir(entry.Name())
		} else {
			d = m.discoverFile(entry.Name())
		}
		if d == nil {
			continue
		}
		if prev, dup := seen[d.Name]; dup {
			m.logger.Warn("skipping duplicate plugin name",
				"plugin", d.Name,
				"path", d.Path,
				"first", prev)
			continue
		}
		seen[d.Name] = d.Path
		found = append(found, d)
	}

	slices.SortFunc(found, func(a, b *Discovered) int { return cmp.Compare(a.Name, b.Name) })
	return found, nil
}

func (m *Manager) discoverDir(name string) *Discovered {
	dir := filepath.Join(m.pluginsDir, name)
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile)) //nolint:gosec // path built from ReadDir entries
	if err != nil {
		m.logger.Debug("skipping directory without manifest", "dir", name, "error", err)
		return nil
	}
	manifest, err := ParseManifest(data)
	if err != nil {
		m.logger.Warn("skipping plugin with invalid manifest", "dir", name, "error", err)
		return nil
	}
	return &Discovered{
		Name:         manifest.Name,
		Path:         manifest.EntryPath(dir),
		Dependencies: manifest.ScriptPaths(dir),
		Manifest:     manifest,
	}
}

func (m *Manager) discoverFile(name string) *Discovered {
	if !resolver.IsScript(name) || !m.matches(name) {
		return nil
	}
	return &Discovered{
		Name: strings.TrimSuffix(name, filepath.Ext(name)),
		Path: filepath.Join(m.pluginsDir, name),
	}
}

func (m *Manager) matches(name string) bool {
	return slices.ContainsFunc(m.patterns, func(g glob.Glob) bool { return g.Match(name) })
}

// LoadAll discovers resolvers and creates a Plugin for each. Loading
// continues on the plugins' own goroutines; a plugin whose construction
// fails is logged and skipped.
func (m *Manager) LoadAll(ctx context.Context) error {
	discovered, err := m.Discover(ctx)
	if err != nil {
		return err
	}
	for _, d := range discovered {
		if err := m.load(d); err != nil {
			m.logger.Error("failed to load plugin", "plugin", d.Name, "path", d.Path, "error", err)
		}
	}
	return nil
}

func (m *Manager) load(d *Discovered) error {
	opts := append(slices.Clone(m.opts),
		resolver.WithID(d.Name),
		resolver.WithDependencies(d.Dependencies...),
		resolver.WithLogger(m.logger),
	)
	p, err := resolver.New(d.Path, opts...)
	if err != nil {
		return oops.In("plugin").With("plugin", d.Name).Wrap(err)
	}

	m.mu.Lock()
	m.loaded[d.Name] = p
	m.mu.Unlock()

	m.logger.Info("loaded plugin", "plugin", d.Name, "path", d.Path)
	return nil
}

// StartAll starts every loaded plugin.
func (m *Manager) StartAll(ctx context.Context) {
	for _, p := range m.Plugins() {
		p.Start(ctx)
	}
}

// Flush waits until every plugin has drained its pending work.
func (m *Manager) Flush(ctx context.Context) error {
	for _, p := range m.Plugins() {
		if err := p.Flush(ctx); err != nil {
			return oops.In("plugin").With("plugin", p.ID()).Wrap(err)
		}
	}
	return nil
}

// Get returns the plugin with the given name.
func (m *Manager) Get(name string) (*resolver.Plugin, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.loaded[name]
	return p, ok
}

// Reload reloads the named plugin from disk.
func (m *Manager) Reload(ctx context.Context, name string) error {
	p, ok := m.Get(name)
	if !ok {
		return oops.In("plugin").Code("PLUGIN_NOT_FOUND").With("plugin", name).Errorf("no such plugin")
	}
	m.reload(ctx, p, TriggerManual)
	return nil
}

func (m *Manager) reload(ctx context.Context, p *resolver.Plugin, trigger string) {
	if m.onReload != nil {
		m.onReload(p.ID(), trigger)
	}
	p.Reload(ctx)
}

// Plugins returns the loaded plugins ordered by name.
func (m *Manager) Plugins() []*resolver.Plugin {
	m.mu.RLock()
	out := make([]*resolver.Plugin, 0, len(m.loaded))
	for _, p := range m.loaded {
		out = append(out, p)
	}
	m.mu.RUnlock()
	slices.SortFunc(out, func(a, b *resolver.Plugin) int { return cmp.Compare(a.ID(), b.ID()) })
	return out
}

// ListPlugins returns names of all loaded plugins.
func (m *Manager) ListPlugins() []string {
	plugins := m.Plugins()
	names := make([]string, 0, len(plugins))
	for _, p := range plugins {
		names = append(names, p.ID())
	}
	return names
}

// Health reports, per plugin, whether it loaded without error.
func (m *Manager) Health() map[string]bool {
	plugins := m.Plugins()
	out := make(map[string]bool, len(plugins))
	for _, p := range plugins {
		out[p.ID()] = healthy(p)
	}
	return out
}

// Ready reports whether every plugin finished loading without error.
func (m *Manager) Ready() bool {
	return !slices.ContainsFunc(m.Plugins(), func(p *resolver.Plugin) bool { return !healthy(p) })
}

func healthy(p *resolver.Plugin) bool {
	if p.LoadError() != resolver.NoError {
		return false
	}
	switch p.State() {
	case resolver.StateReady, resolver.StateRunning, resolver.StateStopped:
		return true
	default:
		return false
	}
}

// Close stops watching and closes every plugin.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	loaded := m.loaded
	m.loaded = make(map[string]*resolver.Plugin)
	w := m.watcher
	m.watcher = nil
	m.mu.Unlock()

	var errs []error
	if w != nil {
		if err := w.Stop(); err != nil {
			errs = append(errs, oops.In("plugin").With("operation", "stop watcher").Wrap(err))
		}
	}
	for name, p := range loaded {
		if err := p.Close(ctx); err != nil {
			errs = append(errs, oops.In("plugin").With("plugin", name).Wrap(err))
		}
	}
	return errors.Join(errs...)
}
