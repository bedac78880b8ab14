// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package resolver

import (
	"context"
	"strconv"
	"strings"
)

// LoadCollections asks a browsable script for its collection and replaces
// the announced set.
func (p *Plugin) LoadCollections(ctx context.Context) {
	p.dispatch(ctx, "collection", p.loadCollections)
}

func (p *Plugin) loadCollections(ctx context.Context) {
	if p.rt == nil || !p.ready || p.State() == StateStopped || !p.Capabilities().Has(Browsable) {
		return
	}
	ref := p.resolverRef()
	if !p.rt.Defined(ref + ".collection") {
		return
	}
	v, err := p.eval(ctx, "collection", p.rt.Method(ref, "collection"))
	if err != nil {
		return
	}
	m, ok := asMap(v)
	if !ok || len(m) == 0 {
		return
	}

	name := strings.TrimSpace(asString(m["prettyname"]))
	description, hasDescription := m["description"]
	if name == "" || !hasDescription {
		p.logRejections(ctx, "", []rejection{{
			reason: ReasonMissingField,
			err:    ErrMalformedRecord(0, "collection needs prettyname and description"),
		}})
		return
	}

	p.retractCollections()

	c := NewCollection(p.Name(), name, asString(description))
	if n, err := strconv.Atoi(strings.TrimSpace(asString(m["trackcount"]))); err == nil && n >= 0 {
		c.trackCount, c.hasTrackCount = n, true
	}
	if file := asString(m["iconfile"]); file != "" {
		if img, err := loadIconFile(relativeTo(p.path, file)); err == nil {
			c.setIcon(img)
		} else {
			p.logger.DebugContext(ctx, "collection icon not loaded", "file", file, "error", err)
		}
	}

	p.mu.Lock()
	p.collections = []*Collection{c}
	p.mu.Unlock()
	p.notifier.CollectionAdded(c)
	p.logger.InfoContext(ctx, "collection announced", "collection", c.Name)

	if url := asString(m["iconurl"]); url != "" && p.fetcher != nil {
		p.fetchCollectionIcon(c.Name, url)
	}
}

// fetchCollectionIcon installs a remote icon on the named collection if it
// still exists when the fetch completes. Failures keep the current icon.
func (p *Plugin) fetchCollectionIcon(name, url string) {
	gen := p.gen
	p.fetcher.Fetch(p.ownerCtx, url, func(body []byte, err error) {
		p.mb.post(func(ctx context.Context) {
			if gen != p.gen || err != nil {
				return
			}
			c := p.collectionNamed(name)
			if c == nil {
				return
			}
			img, err := decodeImage(body)
			if err != nil {
				p.logger.DebugContext(ctx, "collection icon not decoded", "url", url, "error", err)
				return
			}
			c.setIcon(img)
		})
	})
}

// retractCollections removes every announced collection, notifying each.
func (p *Plugin) retractCollections() {
	p.mu.Lock()
	old := p.collections
	p.collections = nil
	p.mu.Unlock()
	for _, c := range old {
		p.notifier.CollectionRemoved(c)
	}
}

func (p *Plugin) collectionNamed(name string) *Collection {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, c := range p.collections {
		if c.Name == name {
			return c
		}
	}
	return nil
}
