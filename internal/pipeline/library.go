// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package pipeline

import (
	"cmp"
	"context"
	"slices"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/resolverd/internal/resolver"
)

// Browser is the browse surface of a plugin.
type Browser interface {
	Artists(ctx context.Context, qid, collection string)
	Albums(ctx context.Context, qid, collection, artist string)
	Tracks(ctx context.Context, qid, collection, artist, album string)
}

// browseResult is one browse answer. Only the field for its kind is set.
type browseResult struct {
	artists []string
	albums  []resolver.Album
	tracks  []resolver.Result
}

// CollectionAdded records an announced collection.
func (p *Pipeline) CollectionAdded(c *resolver.Collection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.library[c.Name] = c
	p.logger.Info("collection added", "collection", c.Name, "source", c.Source)
}

// CollectionRemoved forgets a retracted collection.
func (p *Pipeline) CollectionRemoved(c *resolver.Collection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.library[c.Name] == c {
		delete(p.library, c.Name)
	}
	p.logger.Info("collection removed", "collection", c.Name, "source", c.Source)
}

// Collections returns the announced collections ordered by name.
func (p *Pipeline) Collections() []*resolver.Collection {
	p.mu.RLock()
	out := make([]*resolver.Collection, 0, len(p.library))
	for _, c := range p.library {
		out = append(out, c)
	}
	p.mu.RUnlock()
	slices.SortFunc(out, func(a, b *resolver.Collection) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

// ArtistsResult completes a pending Artists call.
func (p *Pipeline) ArtistsResult(qid, _ string, artists []string) {
	p.deliver(qid, browseResult{artists: artists})
}

// AlbumsResult completes a pending Albums call.
func (p *Pipeline) AlbumsResult(qid, _, _ string, albums []resolver.Album) {
	p.deliver(qid, browseResult{albums: albums})
}

// TracksResult completes a pending Tracks call.
func (p *Pipeline) TracksResult(qid, _, _, _ string, results []resolver.Result) {
	p.deliver(qid, browseResult{tracks: results})
}

// Stopped logs a plugin stop.
func (p *Pipeline) Stopped(pl *resolver.Plugin) {
	p.logger.Info("plugin stopped", "plugin", pl.ID())
}

func (p *Pipeline) deliver(qid string, r browseResult) {
	p.mu.Lock()
	ch, ok := p.browses[qid]
	delete(p.browses, qid)
	p.mu.Unlock()
	if !ok {
		p.logger.Debug("browse result for unknown query dropped", "query_id", qid)
		return
	}
	ch <- r
}

// Artists lists the artists of a collection through b.
func (p *Pipeline) Artists(ctx context.Context, b Browser, collection string) ([]string, error) {
	r, err := p.browse(ctx, func(qid string) { b.Artists(ctx, qid, collection) })
	return r.artists, err
}

// Albums lists an artist's albums in a collection through b.
func (p *Pipeline) Albums(ctx context.Context, b Browser, collection, artist string) ([]resolver.Album, error) {
	r, err := p.browse(ctx, func(qid string) { b.Albums(ctx, qid, collection, artist) })
	return r.albums, err
}

// Tracks lists the tracks of an album in a collection through b.
func (p *Pipeline) Tracks(ctx context.Context, b Browser, collection, artist, album string) ([]resolver.Result, error) {
	r, err := p.browse(ctx, func(qid string) { b.Tracks(ctx, qid, collection, artist, album) })
	return r.tracks, err
}

func (p *Pipeline) browse(ctx context.Context, call func(qid string)) (browseResult, error) {
	qid := ulid.Make().String()
	ch := make(chan browseResult, 1)
	p.mu.Lock()
	p.browses[qid] = ch
	p.mu.Unlock()

	call(qid)

	select {
	case r := <-ch:
		return r, nil
	case <-ctx.Done():
		p.mu.Lock()
		delete(p.browses, qid)
		p.mu.Unlock()
		return browseResult{}, oops.In("pipeline").With("query_id", qid).Wrap(ctx.Err())
	}
}
