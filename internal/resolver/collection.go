// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package resolver

import (
	"image"
	"sync"
)

// Collection is a named, browsable grouping of tracks exposed by a plugin.
// Name and Description are fixed at creation; the icon may be replaced
// later when a remote fetch completes.
type Collection struct {
	Name        string
	Description string
	// Source is the name of the plugin that owns the collection.
	Source string

	trackCount    int
	hasTrackCount bool

	mu   sync.RWMutex
	icon image.Image
}

// NewCollection creates a collection owned by source.
func NewCollection(source, name, description string) *Collection {
	return &Collection{Source: source, Name: name, Description: description}
}

// TrackCount returns the track count if the script reported one.
func (c *Collection) TrackCount() (int, bool) {
	return c.trackCount, c.hasTrackCount
}

// Icon returns the collection icon, or nil if none is set.
func (c *Collection) Icon() image.Image {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.icon
}

func (c *Collection) setIcon(img image.Image) {
	c.mu.Lock()
	c.icon = img
	c.mu.Unlock()
}
