// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package resolver

import (
	"context"
	"strings"
	"time"
)

// Capabilities is the bitset a script reports through reportCapabilities.
type Capabilities uint32

// Capability bits.
const (
	Browsable      Capabilities = 1 << 0
	PlaylistSync   Capabilities = 1 << 1
	AccountFactory Capabilities = 1 << 2
)

// Has reports whether every bit of c2 is set.
func (c Capabilities) Has(c2 Capabilities) bool {
	return c&c2 == c2
}

func (c Capabilities) String() string {
	var parts []string
	if c.Has(Browsable) {
		parts = append(parts, "browsable")
	}
	if c.Has(PlaylistSync) {
		parts = append(parts, "playlist_sync")
	}
	if c.Has(AccountFactory) {
		parts = append(parts, "account_factory")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Query is a resolution request. A query with FullText set is a search;
// otherwise Artist, Album and Track identify the wanted track.
type Query struct {
	ID       string
	Artist   string
	Album    string
	Track    string
	FullText string
}

// IsFullText reports whether q is a free-text search.
func (q Query) IsFullText() bool {
	return q.FullText != ""
}

// QueryKind identifies the call that created a QueryHandle.
type QueryKind int

// Query kinds.
const (
	KindResolve QueryKind = iota
	KindSearch
	KindArtists
	KindAlbums
	KindTracks
)

func (k QueryKind) String() string {
	switch k {
	case KindResolve:
		return "resolve"
	case KindSearch:
		return "search"
	case KindArtists:
		return "artists"
	case KindAlbums:
		return "albums"
	case KindTracks:
		return "tracks"
	default:
		return "unknown"
	}
}

// Track is the identity of a playable track.
type Track struct {
	Artist     string
	Album      string
	Title      string
	Duration   time.Duration
	AlbumPos   int
	DiscNumber int
	Year       int
}

// Result is a validated playable match produced by a plugin.
type Result struct {
	ID          string
	Track       Track
	URL         string
	MimeType    string
	Bitrate     int
	Size        int64
	Score       float64
	Checked     bool
	PurchaseURL string
	LinkURL     string
	// Provenance is the name of the plugin that produced the result.
	Provenance string
}

// Album is a browse result entry.
type Album struct {
	Artist string
	Name   string
}

// Resolver is the view of a plugin the pipeline dispatches to.
type Resolver interface {
	Name() string
	Weight() int
	Timeout() time.Duration
	Resolve(ctx context.Context, q Query)
}
