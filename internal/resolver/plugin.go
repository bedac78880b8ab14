// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package resolver hosts script resolver plugins.
//
// Each Plugin owns one script runtime and one owner goroutine. Every
// interaction with the runtime happens on that goroutine: public methods
// called from elsewhere are queued and return immediately, and results come
// back through the Pipeline and Notifier collaborators.
package resolver

import (
	"context"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/resolverd/internal/script"
)

// Option configures a Plugin during construction.
type Option func(*Plugin)

// WithID sets the stable identifier used for configuration storage.
// Defaults to the script file name without extension.
func WithID(id string) Option {
	return func(p *Plugin) {
		p.id = id
	}
}

// WithDependencies sets scripts evaluated, in order, before the main script.
func WithDependencies(paths ...string) Option {
	return func(p *Plugin) {
		p.deps = append([]string(nil), paths...)
	}
}

// WithFactory overrides the runtime factory chosen by file extension.
func WithFactory(f script.Factory) Option {
	return func(p *Plugin) {
		p.factory = f
	}
}

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Plugin) {
		p.logger = l
	}
}

// WithPipeline sets the query-dispatch collaborator.
func WithPipeline(pl Pipeline) Option {
	return func(p *Plugin) {
		p.pipeline = pl
	}
}

// WithNotifier sets the collection and browse notification collaborator.
func WithNotifier(n Notifier) Option {
	return func(p *Plugin) {
		p.notifier = n
	}
}

// WithStatusFeed sets the job status collaborator.
func WithStatusFeed(s StatusFeed) Option {
	return func(p *Plugin) {
		p.status = s
	}
}

// WithFetcher sets the network collaborator. Without one, remote
// collection icons and asyncRequest are unavailable.
func WithFetcher(f Fetcher) Option {
	return func(p *Plugin) {
		p.fetcher = f
	}
}

// WithConfigStore sets user configuration persistence.
func WithConfigStore(s ConfigStore) Option {
	return func(p *Plugin) {
		p.store = s
	}
}

// WithForm sets the configuration form collaborator.
func WithForm(f Form) Option {
	return func(p *Plugin) {
		p.form = f
	}
}

// Plugin is a script resolver. Construct with New and release with Close.
type Plugin struct {
	id      string
	path    string
	deps    []string
	factory script.Factory
	logger  *slog.Logger

	pipeline Pipeline
	notifier Notifier
	status   StatusFeed
	fetcher  Fetcher
	store    ConfigStore
	form     Form

	mb        *mailbox
	done      chan struct{}
	ownerCtx  context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	// Owned by the owner goroutine.
	rt         script.Runtime
	gen        uint64
	handles    *handleTable
	timers     map[*time.Timer]struct{}
	userConfig map[string]any
	started    bool
	ready      bool
	registered bool

	// Written on the owner goroutine, readable anywhere.
	mu          sync.RWMutex
	state       State
	errKind     ErrorKind
	desc        Descriptor
	caps        Capabilities
	collections []*Collection
	configUI    *ConfigUI
}

// Compile-time interface check.
var _ Resolver = (*Plugin)(nil)

// New creates a plugin for the script at path and begins loading it on the
// plugin's owner goroutine.
func New(path string, opts ...Option) (*Plugin, error) {
	if path == "" {
		return nil, ErrInvalidOptions("script path is required")
	}
	p := &Plugin{
		id:         strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		path:       path,
		logger:     slog.Default(),
		pipeline:   nopPipeline{},
		notifier:   nopNotifier{},
		status:     nopStatusFeed{},
		mb:         newMailbox(),
		done:       make(chan struct{}),
		handles:    newHandleTable(),
		timers:     make(map[*time.Timer]struct{}),
		userConfig: make(map[string]any),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.factory == nil {
		f, ok := EngineFor(path)
		if !ok {
			return nil, ErrInvalidOptions("unsupported script extension " + filepath.Ext(path))
		}
		p.factory = f
	}
	p.logger = p.logger.With("plugin", p.id)
	p.desc = Descriptor{
		Name:         p.id,
		Timeout:      DefaultTimeout,
		Icon:         DefaultIcon(),
		Path:         path,
		Dependencies: p.deps,
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.ownerCtx = withOwner(ctx, p)
	p.cancel = cancel

	go p.run()
	p.mb.post(p.load)
	return p, nil
}

// run drains the mailbox until it is closed, then tears down.
func (p *Plugin) run() {
	defer close(p.done)
	for {
		t, closed := p.mb.next()
		switch {
		case t != nil:
			p.runTask(t)
		case closed:
			p.teardown()
			return
		default:
			<-p.mb.notify
		}
	}
}

func (p *Plugin) runTask(t task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("owner task panicked", "panic", r)
		}
	}()
	t(p.ownerCtx)
}

// dispatch runs fn inline when ctx is the owner context, otherwise queues it.
// The caller's trace context is carried onto the owner goroutine.
func (p *Plugin) dispatch(ctx context.Context, call string, fn task) {
	if ownedBy(ctx, p) {
		fn(ctx)
		return
	}
	sc := trace.SpanContextFromContext(ctx)
	posted := p.mb.post(func(owner context.Context) {
		if sc.IsValid() {
			owner = trace.ContextWithSpanContext(owner, sc)
		}
		fn(owner)
	})
	if !posted {
		p.logger.Debug("call dropped on closed plugin", "call", call)
	}
}

// Flush blocks until every task queued before and during the call has run.
// It returns immediately on the owner goroutine.
func (p *Plugin) Flush(ctx context.Context) error {
	if ownedBy(ctx, p) {
		return nil
	}
	ch := make(chan struct{})
	var mark task
	mark = func(context.Context) {
		if p.mb.pending() > 0 && p.mb.post(mark) {
			return
		}
		close(ch)
	}
	if !p.mb.post(mark) {
		return ErrPluginClosed(p.path)
	}
	select {
	case <-ch:
		return nil
	case <-p.done:
		return ErrPluginClosed(p.path)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the owner goroutine after draining queued work and releases
// the runtime. If ctx expires first, running Lua code is aborted.
func (p *Plugin) Close(ctx context.Context) error {
	if ownedBy(ctx, p) {
		return ErrInvalidOptions("Close called from the owner goroutine")
	}
	p.closeOnce.Do(p.mb.close)
	select {
	case <-p.done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	}
}

// teardown releases everything the owner goroutine holds.
func (p *Plugin) teardown() {
	p.retractCollections()
	p.unregister()
	RecordHandleAbandoned(p.id, "close", p.handles.discard())
	p.closeRuntime()
}

// Start registers the plugin with the pipeline once it is ready. If it is
// not ready yet, Start triggers a load and the plugin runs once loaded.
func (p *Plugin) Start(ctx context.Context) {
	p.dispatch(ctx, "start", p.start)
}

func (p *Plugin) start(ctx context.Context) {
	p.started = true
	if p.ready {
		p.setState(StateRunning)
		p.register()
		if len(p.Collections()) == 0 {
			p.loadCollections(ctx)
		}
		return
	}
	p.load(ctx)
}

// Stop retracts collections, unregisters from the pipeline and abandons
// outstanding queries. It is valid in any state.
func (p *Plugin) Stop(ctx context.Context) {
	p.dispatch(ctx, "stop", p.stop)
}

func (p *Plugin) stop(_ context.Context) {
	p.started = false
	p.retractCollections()
	p.unregister()
	RecordHandleAbandoned(p.id, "stop", p.handles.discard())
	p.setState(StateStopped)
	p.logger.Info("plugin stopped")
	p.notifier.Stopped(p)
}

// Reload re-runs the full load sequence from any state. A started plugin
// returns to Running on success.
func (p *Plugin) Reload(ctx context.Context) {
	p.dispatch(ctx, "reload", p.load)
}

// load evaluates the script and its dependencies and reads its settings.
func (p *Plugin) load(ctx context.Context) {
	p.setState(StateLoading)
	RecordHandleAbandoned(p.id, "reload", p.handles.discard())
	p.retractCollections()
	p.closeRuntime()
	p.ready = false
	p.setConfigUI(nil)
	p.setCapabilities(0)

	if _, err := os.Stat(p.path); err != nil {
		p.fail(ctx, FileNotFound, ErrFileNotFound(p.path))
		return
	}
	desc, err := p.evaluate(ctx)
	if err != nil {
		p.fail(ctx, FailedToLoad, ErrFailedToLoad(p.path, err))
		return
	}

	p.mu.Lock()
	p.desc = desc
	p.errKind = NoError
	p.mu.Unlock()
	p.ready = true
	p.logger.Info("plugin loaded",
		"name", desc.Name,
		"weight", desc.Weight,
		"timeout", desc.Timeout,
	)

	if p.started {
		p.setState(StateRunning)
		p.register()
	} else {
		p.setState(StateReady)
	}

	if p.form != nil {
		p.loadConfig(ctx)
	}
}

// evaluate creates a fresh runtime and runs the load entry points.
func (p *Plugin) evaluate(ctx context.Context) (Descriptor, error) {
	if p.store != nil {
		cfg, err := p.store.Load(ctx, p.id)
		if err != nil {
			p.logger.Warn("failed to load stored config", "error", err)
		} else if cfg != nil {
			p.userConfig = cfg
		}
	}

	rt, err := p.factory(p.ownerCtx, p.bindings(p.gen))
	if err != nil {
		return Descriptor{}, err
	}
	p.rt = rt

	for _, dep := range p.deps {
		if err := p.execFile(dep); err != nil {
			return Descriptor{}, err
		}
	}
	if err := p.execFile(p.path); err != nil {
		return Descriptor{}, err
	}

	ref := p.resolverRef()
	if p.rt.Defined(ref + ".init") {
		if _, err := p.eval(ctx, "init", p.rt.Method(ref, "init")); err != nil {
			return Descriptor{}, err
		}
	}

	settings, err := p.readSettings(ctx, ref)
	if err != nil {
		return Descriptor{}, err
	}
	desc, err := parseDescriptor(p.path, p.deps, settings)
	if err != nil {
		return Descriptor{}, err
	}

	if _, err := p.readUserConfig(ctx); err != nil {
		p.logger.Warn("getUserConfig failed", "error", err)
	}
	return desc, nil
}

func (p *Plugin) execFile(path string) error {
	src, err := os.ReadFile(path) //nolint:gosec // plugin paths come from discovery
	if err != nil {
		return err
	}
	return p.rt.Exec(path, src)
}

// fail records a load failure. The plugin stays usable for a later reload.
func (p *Plugin) fail(ctx context.Context, kind ErrorKind, err error) {
	p.closeRuntime()
	p.ready = false
	p.unregister()

	p.mu.Lock()
	p.errKind = kind
	p.mu.Unlock()
	p.setState(StateUnloaded)

	p.logError(ctx, "plugin failed to load", err)
	p.status.Error(p.Name(), err.Error())
}

// closeRuntime drops the runtime and invalidates its timers and callbacks.
func (p *Plugin) closeRuntime() {
	for t := range p.timers {
		t.Stop()
	}
	clear(p.timers)
	if p.rt != nil {
		p.rt.Close()
		p.rt = nil
	}
	p.gen++
}

func (p *Plugin) register() {
	if p.registered {
		return
	}
	p.pipeline.RegisterResolver(p)
	p.registered = true
}

func (p *Plugin) unregister() {
	if !p.registered {
		return
	}
	p.pipeline.UnregisterResolver(p)
	p.registered = false
}

func (p *Plugin) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
	RecordState(p.id, s)
}

func (p *Plugin) setCapabilities(c Capabilities) {
	p.mu.Lock()
	p.caps = c
	p.mu.Unlock()
}

// ID returns the plugin's stable identifier.
func (p *Plugin) ID() string { return p.id }

// Path returns the main script path.
func (p *Plugin) Path() string { return p.path }

// State returns the lifecycle state.
func (p *Plugin) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// LoadError returns the error kind of the last load attempt.
func (p *Plugin) LoadError() ErrorKind {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.errKind
}

// Running reports whether the plugin is accepting queries.
func (p *Plugin) Running() bool {
	return p.State() == StateRunning
}

// Descriptor returns the metadata from the last successful load.
func (p *Plugin) Descriptor() Descriptor {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.desc
}

// Name returns the plugin display name.
func (p *Plugin) Name() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.desc.Name
}

// Weight returns the tie-break priority among resolvers.
func (p *Plugin) Weight() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.desc.Weight
}

// Timeout returns how long the pipeline waits for this plugin's results.
func (p *Plugin) Timeout() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.desc.Timeout
}

// Icon returns the plugin icon.
func (p *Plugin) Icon() image.Image {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.desc.Icon
}

// Capabilities returns the capabilities the script reported.
func (p *Plugin) Capabilities() Capabilities {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.caps
}

// Collections returns the currently announced collections.
func (p *Plugin) Collections() []*Collection {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]*Collection(nil), p.collections...)
}

// Outstanding returns the number of queries awaiting a result.
func (p *Plugin) Outstanding() int {
	return p.handles.len()
}
