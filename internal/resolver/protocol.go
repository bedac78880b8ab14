// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package resolver

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/resolverd/internal/script"
	"github.com/holomush/resolverd/pkg/errutil"
)

var tracer = otel.Tracer("resolverd/resolver")

// Resolver object locations. Current scripts register an instance; legacy
// scripts define the well-known global.
const (
	instanceRef = "Tomahawk.resolver.instance"
	legacyRef   = "TomahawkResolver"
)

// resolverRef returns the receiver for resolver method calls.
func (p *Plugin) resolverRef() string {
	if p.currentAPI() {
		return instanceRef
	}
	return legacyRef
}

// currentAPI reports whether the script registered a resolver instance.
func (p *Plugin) currentAPI() bool {
	return p.rt != nil && p.rt.Defined(instanceRef)
}

// eval evaluates a call expression on the owner goroutine, tracing and
// timing it. Script errors are logged and returned.
func (p *Plugin) eval(ctx context.Context, call, expr string) (v any, err error) {
	if p.rt == nil {
		return nil, ErrPluginClosed(p.path)
	}
	ctx, span := tracer.Start(ctx, "resolver."+call,
		trace.WithAttributes(
			attribute.String("resolver.plugin", p.id),
			attribute.String("resolver.call", call),
		),
	)
	start := time.Now()
	defer func() {
		RecordScriptCall(p.id, call, time.Since(start), err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			p.logger.WarnContext(ctx, "script call failed", "call", call, "error", err)
		}
		span.End()
	}()
	return p.rt.Eval(expr)
}

// property evaluates ref.name. Functions are called as methods so both
// settings objects and settings() methods work.
func (p *Plugin) property(ctx context.Context, ref, name string) (any, error) {
	v, err := p.eval(ctx, name, ref+"."+name)
	if err != nil {
		return nil, err
	}
	if _, ok := v.(script.Func); ok {
		return p.eval(ctx, name, p.rt.Method(ref, name))
	}
	return v, nil
}

// readSettings reads the settings map from ref.settings, falling back to
// the legacy getSettings() global.
func (p *Plugin) readSettings(ctx context.Context, ref string) (map[string]any, error) {
	var v any
	var err error
	switch {
	case p.rt.Defined(ref + ".settings"):
		v, err = p.property(ctx, ref, "settings")
	case p.rt.Defined("getSettings"):
		v, err = p.eval(ctx, "getSettings", p.rt.Func("getSettings"))
	default:
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}
	m, _ := asMap(v)
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

// readUserConfig returns the script's view of its user configuration,
// falling back to the stored configuration.
func (p *Plugin) readUserConfig(ctx context.Context) (map[string]any, error) {
	ref := p.resolverRef()
	if p.rt == nil || !p.rt.Defined(ref+".getUserConfig") {
		return cloneMap(p.userConfig), nil
	}
	v, err := p.eval(ctx, "getUserConfig", p.rt.Method(ref, "getUserConfig"))
	if err != nil {
		return nil, err
	}
	m, ok := asMap(v)
	if !ok {
		return map[string]any{}, nil
	}
	return m, nil
}

// Resolve dispatches a query into the script. Results are reported to the
// pipeline asynchronously; off the owner goroutine the call returns at once.
func (p *Plugin) Resolve(ctx context.Context, q Query) {
	p.dispatch(ctx, "resolve", func(ctx context.Context) {
		p.resolve(ctx, q)
	})
}

func (p *Plugin) resolve(ctx context.Context, q Query) {
	if !p.Running() || p.rt == nil {
		p.logger.DebugContext(ctx, "ignoring query on plugin that is not running", "query_id", q.ID)
		return
	}
	if q.ID == "" {
		q.ID = ulid.Make().String()
	}

	kind, call := KindResolve, "resolve"
	var expr string
	current := p.currentAPI()
	switch {
	case q.IsFullText() && current:
		kind, call = KindSearch, "search"
		expr = p.rt.Method(instanceRef, "search", script.QuoteAll(q.ID, q.FullText)...)
	case q.IsFullText():
		kind = KindSearch
		expr = p.rt.Func("resolve", script.QuoteAll(q.ID, "", "", q.FullText)...)
	case current:
		expr = p.rt.Method(instanceRef, "resolve", script.QuoteAll(q.ID, q.Artist, q.Album, q.Track)...)
	default:
		expr = p.rt.Func("resolve", script.QuoteAll(q.ID, q.Artist, q.Album, q.Track)...)
	}

	h := &QueryHandle{ID: q.ID, Kind: kind, Artist: q.Artist, Album: q.Album}
	p.track(h)

	v, err := p.eval(ctx, call, expr)
	if err != nil {
		// Nothing will arrive for this query; let the pipeline finish early.
		if p.handles.current(h) {
			p.handles.remove(h)
			p.pipeline.ReportResults(q.ID, nil)
		}
		return
	}
	if p.syncReply(ctx, call, v) {
		p.completeResults(ctx, q.ID, payload(v, "results"))
	}
}

// Artists asks the script for the artists of a collection. The answer is
// delivered through Notifier.ArtistsResult.
func (p *Plugin) Artists(ctx context.Context, qid, collection string) {
	p.dispatch(ctx, "artists", func(ctx context.Context) {
		p.browse(ctx, &QueryHandle{ID: qid, Kind: KindArtists, Collection: collection})
	})
}

// Albums asks the script for an artist's albums in a collection. The answer
// is delivered through Notifier.AlbumsResult.
func (p *Plugin) Albums(ctx context.Context, qid, collection, artist string) {
	p.dispatch(ctx, "albums", func(ctx context.Context) {
		p.browse(ctx, &QueryHandle{ID: qid, Kind: KindAlbums, Collection: collection, Artist: artist})
	})
}

// Tracks asks the script for the tracks of an album in a collection. The
// answer is delivered through Notifier.TracksResult.
func (p *Plugin) Tracks(ctx context.Context, qid, collection, artist, album string) {
	p.dispatch(ctx, "tracks", func(ctx context.Context) {
		p.browse(ctx, &QueryHandle{ID: qid, Kind: KindTracks, Collection: collection, Artist: artist, Album: album})
	})
}

func (p *Plugin) browse(ctx context.Context, h *QueryHandle) {
	if h.ID == "" {
		h.ID = ulid.Make().String()
	}
	if !p.canBrowse(h.Collection) {
		p.logger.DebugContext(ctx, "browse call not issued",
			"call", h.Kind.String(),
			"collection", h.Collection,
		)
		p.deliverBrowse(h, nil)
		return
	}

	ref := p.resolverRef()
	var expr string
	switch h.Kind {
	case KindArtists:
		expr = p.rt.Method(ref, "artists", script.QuoteAll(h.Collection, h.ID)...)
	case KindAlbums:
		expr = p.rt.Method(ref, "albums", script.QuoteAll(h.Collection, h.Artist, h.ID)...)
	case KindTracks:
		expr = p.rt.Method(ref, "tracks", script.QuoteAll(h.Collection, h.Artist, h.Album, h.ID)...)
	default:
		return
	}

	p.track(h)
	call := h.Kind.String()
	v, err := p.eval(ctx, call, expr)
	if err != nil {
		if p.handles.current(h) {
			p.handles.remove(h)
			p.deliverBrowse(h, nil)
		}
		return
	}
	if !p.syncReply(ctx, call, v) || !p.handles.current(h) {
		return
	}
	p.handles.remove(h)
	switch h.Kind {
	case KindArtists:
		p.deliverBrowse(h, payload(v, "artists"))
	case KindAlbums:
		p.deliverBrowse(h, payload(v, "albums"))
	case KindTracks:
		p.deliverBrowse(h, payload(v, "results"))
	}
}

// canBrowse reports whether a browse call for collection may reach the script.
func (p *Plugin) canBrowse(collection string) bool {
	return p.Running() && p.rt != nil &&
		p.Capabilities().Has(Browsable) &&
		p.collectionNamed(collection) != nil
}

// deliverBrowse normalizes a browse payload and notifies. A nil payload
// delivers an empty result.
func (p *Plugin) deliverBrowse(h *QueryHandle, raw []any) {
	switch h.Kind {
	case KindArtists:
		p.notifier.ArtistsResult(h.ID, h.Collection, normalizeNames(raw))
	case KindAlbums:
		p.notifier.AlbumsResult(h.ID, h.Collection, h.Artist, normalizeAlbums(h.Artist, raw))
	case KindTracks:
		results, rejected := normalizeResults(p.Name(), raw)
		p.logRejections(p.ownerCtx, h.ID, rejected)
		p.notifier.TracksResult(h.ID, h.Collection, h.Artist, h.Album, results)
	}
}

// syncReply reports whether an asynchronous call returned a payload
// synchronously. Such replies break the protocol but are still processed.
func (p *Plugin) syncReply(ctx context.Context, call string, v any) bool {
	if isEmpty(v) {
		return false
	}
	err := ErrProtocolViolation(p.Name(), call)
	RecordProtocolViolation(p.id, call)
	errutil.LogWarnContext(ctx, p.logger, "script returned synchronously", err)
	p.status.Warn(p.Name(), err.Error())
	return true
}

// payload extracts the record list from a reply: either the list itself or
// the list under key.
func payload(v any, key string) []any {
	if m, ok := asMap(v); ok {
		if list, ok := m[key]; ok {
			return asList(list)
		}
	}
	if _, ok := v.([]any); ok {
		return asList(v)
	}
	return nil
}

// completeResults claims the handle for qid and forwards normalized results.
// Results for unknown, completed or abandoned queries are ignored.
func (p *Plugin) completeResults(ctx context.Context, qid string, raw []any) {
	h, ok := p.handles.claim(qid, KindResolve, KindSearch)
	if !ok {
		p.logger.DebugContext(ctx, "ignoring results for unknown query", "query_id", qid)
		return
	}
	results, rejected := normalizeResults(p.Name(), raw)
	p.logRejections(ctx, h.ID, rejected)
	RecordResults(p.id, len(results))
	p.pipeline.ReportResults(h.ID, results)
}

// logRejections logs dropped records the way validation errors are logged:
// one warning per batch with the full list.
func (p *Plugin) logRejections(ctx context.Context, qid string, rejected []rejection) {
	if len(rejected) == 0 {
		return
	}
	errs := make([]string, 0, len(rejected))
	for _, r := range rejected {
		RecordRejected(p.id, r.reason)
		errs = append(errs, r.err.Error())
	}
	p.logger.WarnContext(ctx, "records rejected",
		"query_id", qid,
		"error_count", len(rejected),
		"errors", errs,
	)
}

// track registers h and arms its expiry timer.
func (p *Plugin) track(h *QueryHandle) {
	h.Created = time.Now()
	gen := p.gen
	h.timer = time.AfterFunc(p.Timeout(), func() {
		p.mb.post(func(ctx context.Context) {
			p.expire(ctx, gen, h)
		})
	})
	p.handles.add(h)
}

// expire abandons h if it is still outstanding.
func (p *Plugin) expire(ctx context.Context, gen uint64, h *QueryHandle) {
	if gen != p.gen || !p.handles.current(h) {
		return
	}
	p.handles.remove(h)
	RecordHandleAbandoned(p.id, "expired", 1)
	p.logger.DebugContext(ctx, "query expired",
		"query_id", h.ID,
		"kind", h.Kind.String(),
		"age", time.Since(h.Created),
	)
}

func (p *Plugin) logError(ctx context.Context, msg string, err error) {
	errutil.LogErrorContext(ctx, p.logger, msg, err)
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
