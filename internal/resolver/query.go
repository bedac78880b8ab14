// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package resolver

import (
	"slices"
	"sync/atomic"
	"time"
)

// QueryHandle correlates an outstanding asynchronous script call with its caller.
type QueryHandle struct {
	ID         string
	Kind       QueryKind
	Collection string
	Artist     string
	Album      string
	Created    time.Time

	timer *time.Timer
}

// handleTable holds outstanding handles in dispatch order.
// It is owned by the plugin's owner goroutine; only count is safe elsewhere.
type handleTable struct {
	byID  map[string]*QueryHandle
	order []*QueryHandle
	count atomic.Int64
}

func newHandleTable() *handleTable {
	return &handleTable{byID: make(map[string]*QueryHandle)}
}

// add registers h, replacing any handle with the same id.
func (t *handleTable) add(h *QueryHandle) {
	if old, ok := t.byID[h.ID]; ok {
		t.remove(old)
	}
	t.byID[h.ID] = h
	t.order = append(t.order, h)
	t.count.Store(int64(len(t.byID)))
}

// claim removes and returns the handle matching id and one of kinds.
// An empty id matches the oldest handle of any of kinds.
func (t *handleTable) claim(id string, kinds ...QueryKind) (*QueryHandle, bool) {
	if id != "" {
		h, ok := t.byID[id]
		if !ok || !slices.Contains(kinds, h.Kind) {
			return nil, false
		}
		t.remove(h)
		return h, true
	}
	for _, h := range t.order {
		if slices.Contains(kinds, h.Kind) {
			t.remove(h)
			return h, true
		}
	}
	return nil, false
}

// current reports whether h is still outstanding.
func (t *handleTable) current(h *QueryHandle) bool {
	return t.byID[h.ID] == h
}

// discard drops every handle without completion and returns how many were dropped.
func (t *handleTable) discard() int {
	n := len(t.byID)
	for _, h := range t.order {
		if h.timer != nil {
			h.timer.Stop()
		}
	}
	t.byID = make(map[string]*QueryHandle)
	t.order = nil
	t.count.Store(0)
	return n
}

func (t *handleTable) remove(h *QueryHandle) {
	if h.timer != nil {
		h.timer.Stop()
	}
	delete(t.byID, h.ID)
	for i, o := range t.order {
		if o == h {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	t.count.Store(int64(len(t.byID)))
}

func (t *handleTable) len() int {
	return int(t.count.Load())
}
