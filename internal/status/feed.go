// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package status keeps the job status list: recent warnings and errors
// raised by plugins, newest last.
package status

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/agilira/go-timecache"
	"github.com/oklog/ulid/v2"

	"github.com/holomush/resolverd/internal/resolver"
)

// DefaultCapacity bounds the feed when New is given a non-positive capacity.
const DefaultCapacity = 100

// Level classifies an entry.
type Level int

// Entry levels.
const (
	LevelWarn Level = iota
	LevelError
)

func (l Level) String() string {
	if l == LevelError {
		return "error"
	}
	return "warn"
}

// Entry is one status item.
type Entry struct {
	ID      string
	Time    time.Time
	Level   Level
	Source  string
	Message string
}

// Feed is a bounded, concurrency-safe list of status entries. Every entry is
// also written to the logger. It satisfies resolver.StatusFeed.
type Feed struct {
	logger *slog.Logger

	mu      sync.RWMutex
	entries []Entry
	start   int
	size    int
}

// Compile-time interface check.
var _ resolver.StatusFeed = (*Feed)(nil)

// New creates a feed holding at most capacity entries.
func New(capacity int, logger *slog.Logger) *Feed {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{logger: logger, entries: make([]Entry, capacity)}
}

// Warn records a warning.
func (f *Feed) Warn(source, message string) {
	f.add(LevelWarn, source, message)
}

// Error records an error.
func (f *Feed) Error(source, message string) {
	f.add(LevelError, source, message)
}

func (f *Feed) add(level Level, source, message string) {
	e := Entry{
		ID:      ulid.Make().String(),
		Time:    timecache.CachedTime(),
		Level:   level,
		Source:  source,
		Message: message,
	}

	f.mu.Lock()
	idx := (f.start + f.size) % len(f.entries)
	f.entries[idx] = e
	if f.size < len(f.entries) {
		f.size++
	} else {
		f.start = (f.start + 1) % len(f.entries)
	}
	f.mu.Unlock()

	slogLevel := slog.LevelWarn
	if level == LevelError {
		slogLevel = slog.LevelError
	}
	f.logger.Log(context.Background(), slogLevel, "job status",
		"status_id", e.ID,
		"source", source,
		"message", message,
	)
}

// Entries returns the retained entries, oldest first.
func (f *Feed) Entries() []Entry {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Entry, 0, f.size)
	for i := range f.size {
		out = append(out, f.entries[(f.start+i)%len(f.entries)])
	}
	return out
}

// Len returns the number of retained entries. An empty feed has nothing to show.
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.size
}

// Dismiss removes the entry with id. It reports whether one was removed.
func (f *Feed) Dismiss(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := make([]Entry, 0, f.size)
	found := false
	for i := range f.size {
		e := f.entries[(f.start+i)%len(f.entries)]
		if e.ID == id {
			found = true
			continue
		}
		kept = append(kept, e)
	}
	if !found {
		return false
	}
	clear(f.entries)
	copy(f.entries, kept)
	f.start, f.size = 0, len(kept)
	return true
}
