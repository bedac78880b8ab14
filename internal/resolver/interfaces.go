// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package resolver

import (
	"context"
)

// Pipeline dispatches queries to registered resolvers and receives their results.
type Pipeline interface {
	RegisterResolver(r Resolver)
	UnregisterResolver(r Resolver)
	ReportResults(qid string, results []Result)
}

// Notifier receives collection, browse and lifecycle notifications.
// Calls arrive on the plugin's owner goroutine and must not block.
type Notifier interface {
	CollectionAdded(c *Collection)
	CollectionRemoved(c *Collection)
	ArtistsResult(qid, collection string, artists []string)
	AlbumsResult(qid, collection, artist string, albums []Album)
	TracksResult(qid, collection, artist, album string, results []Result)
	Stopped(p *Plugin)
}

// StatusFeed receives human-readable notices for the job status list.
type StatusFeed interface {
	Warn(source, message string)
	Error(source, message string)
}

// FetchFunc receives the outcome of a fetch.
type FetchFunc func(body []byte, err error)

// Fetcher retrieves remote resources asynchronously. done may be called on any goroutine.
type Fetcher interface {
	Fetch(ctx context.Context, url string, done FetchFunc)
}

// ConfigStore persists per-plugin user configuration.
type ConfigStore interface {
	Load(ctx context.Context, plugin string) (map[string]any, error)
	Save(ctx context.Context, plugin string, config map[string]any) error
}

// Form is the configuration editor collaborator. It renders a ConfigUI and
// reads and writes widget properties by name.
type Form interface {
	Render(ui *ConfigUI) error
	Fill(values Snapshot) error
	Read(fields []FieldBinding) (Snapshot, error)
}

type nopPipeline struct{}

func (nopPipeline) RegisterResolver(Resolver)      {}
func (nopPipeline) UnregisterResolver(Resolver)    {}
func (nopPipeline) ReportResults(string, []Result) {}

type nopNotifier struct{}

func (nopNotifier) CollectionAdded(*Collection)                           {}
func (nopNotifier) CollectionRemoved(*Collection)                         {}
func (nopNotifier) ArtistsResult(string, string, []string)                {}
func (nopNotifier) AlbumsResult(string, string, string, []Album)          {}
func (nopNotifier) TracksResult(string, string, string, string, []Result) {}
func (nopNotifier) Stopped(*Plugin)                                       {}

type nopStatusFeed struct{}

func (nopStatusFeed) Warn(string, string)  {}
func (nopStatusFeed) Error(string, string) {}
