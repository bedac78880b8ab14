// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package resolver

import (
	"context"
	"errors"
	"time"

	"github.com/holomush/resolverd/internal/script"
)

// bindings builds the native objects installed into a fresh runtime.
// gen identifies the runtime; deferred work for an older runtime is dropped.
func (p *Plugin) bindings(gen uint64) script.Bindings {
	return script.Bindings{
		"Tomahawk": script.Bindings{
			"log":                  script.NativeFunc(p.nativeLog),
			"addTrackResults":      script.NativeFunc(p.nativeTrackResults),
			"addArtistResults":     script.NativeFunc(p.nativeArtistResults),
			"addAlbumResults":      script.NativeFunc(p.nativeAlbumResults),
			"addAlbumTrackResults": script.NativeFunc(p.nativeAlbumTrackResults),
			"reportCapabilities": script.NativeFunc(func(args []any) (any, error) {
				return p.nativeReportCapabilities(gen, args)
			}),
			"resolverData": script.NativeFunc(p.nativeResolverData),
			"setTimeout": script.NativeFunc(func(args []any) (any, error) {
				return p.nativeSetTimeout(gen, args)
			}),
			"asyncRequest": script.NativeFunc(func(args []any) (any, error) {
				return p.nativeAsyncRequest(gen, args)
			}),
			"resolver": script.Bindings{"instance": nil},
		},
		// Defaults for legacy scripts that do not define these entry points.
		legacyRef: script.Bindings{
			"init":           script.NativeFunc(nativeNoop),
			"getConfigUi":    script.NativeFunc(nativeNoop),
			"saveUserConfig": script.NativeFunc(nativeNoop),
			"getUserConfig": script.NativeFunc(func([]any) (any, error) {
				return cloneMap(p.userConfig), nil
			}),
		},
	}
}

func nativeNoop([]any) (any, error) { return nil, nil }

func arg(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return nil
}

func (p *Plugin) nativeLog(args []any) (any, error) {
	p.logger.Debug("script log", "message", asString(arg(args, 0)))
	return nil, nil
}

// nativeTrackResults receives {qid, results} for resolve and search calls.
func (p *Plugin) nativeTrackResults(args []any) (any, error) {
	m, ok := asMap(arg(args, 0))
	if !ok {
		return nil, errors.New("addTrackResults expects an object")
	}
	p.completeResults(p.ownerCtx, asString(m["qid"]), asList(m["results"]))
	return nil, nil
}

// nativeArtistResults receives {qid, artists}.
func (p *Plugin) nativeArtistResults(args []any) (any, error) {
	return nil, p.completeBrowse(KindArtists, arg(args, 0), "artists")
}

// nativeAlbumResults receives {qid, albums}.
func (p *Plugin) nativeAlbumResults(args []any) (any, error) {
	return nil, p.completeBrowse(KindAlbums, arg(args, 0), "albums")
}

// nativeAlbumTrackResults receives {qid, results}.
func (p *Plugin) nativeAlbumTrackResults(args []any) (any, error) {
	return nil, p.completeBrowse(KindTracks, arg(args, 0), "results")
}

func (p *Plugin) completeBrowse(kind QueryKind, v any, key string) error {
	m, ok := asMap(v)
	if !ok {
		return errors.New("browse results must be an object")
	}
	h, ok := p.handles.claim(asString(m["qid"]), kind)
	if !ok {
		p.logger.Debug("ignoring browse results for unknown query",
			"query_id", asString(m["qid"]),
			"kind", kind.String(),
		)
		return nil
	}
	p.deliverBrowse(h, asList(m[key]))
	return nil
}

// nativeReportCapabilities replaces the capability set and reloads
// collections on a later owner task, never nested inside the current call.
func (p *Plugin) nativeReportCapabilities(gen uint64, args []any) (any, error) {
	bits, ok := asInt(arg(args, 0))
	if !ok || bits < 0 {
		return nil, errors.New("reportCapabilities expects a non-negative integer")
	}
	p.mb.post(func(ctx context.Context) {
		if gen != p.gen {
			return
		}
		p.setCapabilities(Capabilities(bits))
		p.logger.Debug("capabilities reported", "capabilities", Capabilities(bits).String())
		p.loadCollections(ctx)
	})
	return nil, nil
}

func (p *Plugin) nativeResolverData([]any) (any, error) {
	return map[string]any{
		"scriptPath": p.path,
		"config":     cloneMap(p.userConfig),
	}, nil
}

// nativeSetTimeout calls fn after ms milliseconds on the owner goroutine.
func (p *Plugin) nativeSetTimeout(gen uint64, args []any) (any, error) {
	fn, ok := arg(args, 0).(script.Func)
	if !ok {
		return nil, errors.New("setTimeout expects a function")
	}
	ms, _ := asInt(arg(args, 1))
	if ms < 0 {
		ms = 0
	}

	var t *time.Timer
	t = time.AfterFunc(time.Duration(ms)*time.Millisecond, func() {
		p.mb.post(func(ctx context.Context) {
			if gen != p.gen {
				return
			}
			delete(p.timers, t)
			if _, err := fn.Call(); err != nil {
				p.logger.WarnContext(ctx, "timer callback failed", "error", err)
			}
		})
	})
	p.timers[t] = struct{}{}
	return nil, nil
}

// nativeAsyncRequest fetches url through the network collaborator and calls
// callback(body) or callback(null, error) on the owner goroutine.
func (p *Plugin) nativeAsyncRequest(gen uint64, args []any) (any, error) {
	url := asString(arg(args, 0))
	cb, ok := arg(args, 1).(script.Func)
	if url == "" || !ok {
		return nil, errors.New("asyncRequest expects a url and a callback")
	}

	deliver := func(body []byte, err error) {
		p.mb.post(func(ctx context.Context) {
			if gen != p.gen {
				return
			}
			var cbErr error
			if err != nil {
				_, cbErr = cb.Call(nil, err.Error())
			} else {
				_, cbErr = cb.Call(string(body))
			}
			if cbErr != nil {
				p.logger.WarnContext(ctx, "request callback failed", "url", url, "error", cbErr)
			}
		})
	}
	if p.fetcher == nil {
		deliver(nil, errors.New("network access is not configured"))
		return nil, nil
	}
	p.fetcher.Fetch(p.ownerCtx, url, deliver)
	return nil, nil
}
