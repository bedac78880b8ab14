// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package resolver_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/holomush/resolverd/internal/resolver"
)

// fakePipeline records registrations and reported results.
type fakePipeline struct {
	mu           sync.Mutex
	registered   []string
	unregistered []string
	results      map[string][]resolver.Result
	reports      []string
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{results: make(map[string][]resolver.Result)}
}

func (f *fakePipeline) RegisterResolver(r resolver.Resolver) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = append(f.registered, r.Name())
}

func (f *fakePipeline) UnregisterResolver(r resolver.Resolver) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unregistered = append(f.unregistered, r.Name())
}

func (f *fakePipeline) ReportResults(qid string, results []resolver.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, qid)
	f.results[qid] = append(f.results[qid], results...)
}

func (f *fakePipeline) resultsFor(qid string) []resolver.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]resolver.Result(nil), f.results[qid]...)
}

func (f *fakePipeline) reportCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reports)
}

func (f *fakePipeline) registrations() (registered, unregistered int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.registered), len(f.unregistered)
}

// fakeNotifier records notifications in arrival order.
type fakeNotifier struct {
	mu      sync.Mutex
	events  []string
	artists map[string][]string
	albums  map[string][]resolver.Album
	tracks  map[string][]resolver.Result
	stopped int
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{
		artists: make(map[string][]string),
		albums:  make(map[string][]resolver.Album),
		tracks:  make(map[string][]resolver.Result),
	}
}

func (f *fakeNotifier) CollectionAdded(c *resolver.Collection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "added:"+c.Name)
}

func (f *fakeNotifier) CollectionRemoved(c *resolver.Collection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "removed:"+c.Name)
}

func (f *fakeNotifier) ArtistsResult(qid, collection string, artists []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "artists:"+collection)
	f.artists[qid] = artists
}

func (f *fakeNotifier) AlbumsResult(qid, collection, _ string, albums []resolver.Album) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "albums:"+collection)
	f.albums[qid] = albums
}

func (f *fakeNotifier) TracksResult(qid, collection, _, _ string, results []resolver.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "tracks:"+collection)
	f.tracks[qid] = results
}

func (f *fakeNotifier) Stopped(*resolver.Plugin) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
}

func (f *fakeNotifier) eventList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func (f *fakeNotifier) artistsFor(qid string) ([]string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.artists[qid]
	return a, ok
}

func (f *fakeNotifier) albumsFor(qid string) ([]resolver.Album, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.albums[qid]
	return a, ok
}

func (f *fakeNotifier) tracksFor(qid string) ([]resolver.Result, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.tracks[qid]
	return r, ok
}

func (f *fakeNotifier) stoppedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

// fakeStatus records status entries.
type fakeStatus struct {
	mu       sync.Mutex
	warnings []string
	errors   []string
}

func (f *fakeStatus) Warn(_, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.warnings = append(f.warnings, message)
}

func (f *fakeStatus) Error(_, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, message)
}

func (f *fakeStatus) counts() (warnings, errors int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.warnings), len(f.errors)
}

// fakeFetcher answers from a fixed table on a separate goroutine.
type fakeFetcher struct {
	mu       sync.Mutex
	bodies   map[string][]byte
	requests []string
	wg       sync.WaitGroup
}

func (f *fakeFetcher) Fetch(_ context.Context, url string, done resolver.FetchFunc) {
	f.mu.Lock()
	f.requests = append(f.requests, url)
	body, ok := f.bodies[url]
	f.mu.Unlock()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		if !ok {
			done(nil, os.ErrNotExist)
			return
		}
		done(body, nil)
	}()
}

func (f *fakeFetcher) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// fakeStore is an in-memory ConfigStore.
type fakeStore struct {
	mu      sync.Mutex
	configs map[string]map[string]any
	saves   int
}

func (f *fakeStore) Load(_ context.Context, plugin string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg := make(map[string]any)
	for k, v := range f.configs[plugin] {
		cfg[k] = v
	}
	return cfg, nil
}

func (f *fakeStore) Save(_ context.Context, plugin string, config map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.configs == nil {
		f.configs = make(map[string]map[string]any)
	}
	f.configs[plugin] = config
	f.saves++
	return nil
}

func (f *fakeStore) configFor(plugin string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.configs[plugin]
}

// fakeForm keeps widget properties in memory. Widgets named in missing are
// never created.
type fakeForm struct {
	mu      sync.Mutex
	ui      *resolver.ConfigUI
	widgets map[string]map[string]any
	missing map[string]bool
	filled  []resolver.Snapshot
}

func (f *fakeForm) Render(ui *resolver.ConfigUI) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ui = ui
	f.widgets = make(map[string]map[string]any)
	for _, b := range ui.Fields {
		if f.missing[b.Widget] {
			continue
		}
		f.widgets[b.Widget] = make(map[string]any)
	}
	return nil
}

func (f *fakeForm) widgetFor(field string) string {
	for _, b := range f.ui.Fields {
		if b.Name == field {
			return b.Widget
		}
	}
	return ""
}

func (f *fakeForm) Fill(values resolver.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range values {
		name := f.widgetFor(v.Field)
		w, ok := f.widgets[name]
		if !ok {
			return &resolver.MissingWidgetError{Field: v.Field, Widget: name}
		}
		w[v.Property] = v.Value
	}
	f.filled = append(f.filled, values)
	return nil
}

func (f *fakeForm) Read(fields []resolver.FieldBinding) (resolver.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := make(resolver.Snapshot, 0, len(fields))
	for _, b := range fields {
		w, ok := f.widgets[b.Widget]
		if !ok {
			return nil, &resolver.MissingWidgetError{Field: b.Name, Widget: b.Widget}
		}
		snap = append(snap, resolver.FieldValue{Field: b.Name, Property: b.Property, Value: w[b.Property]})
	}
	return snap, nil
}

func (f *fakeForm) set(widget, property string, value any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.widgets[widget][property] = value
}

func (f *fakeForm) fills() []resolver.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]resolver.Snapshot(nil), f.filled...)
}

// writeScript writes src into a fresh temp dir and returns its path.
func writeScript(t *testing.T, name, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(src), 0o600))
	return path
}

// openPlugin creates a plugin and closes it when the test ends.
func openPlugin(t *testing.T, path string, opts ...resolver.Option) *resolver.Plugin {
	t.Helper()
	p, err := resolver.New(path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, p.Close(ctx))
	})
	return p
}

func flush(t *testing.T, p *resolver.Plugin) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Flush(ctx))
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 0xff, A: 0xff})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
