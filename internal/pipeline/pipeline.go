// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package pipeline dispatches queries to registered resolvers and collects
// their asynchronous results.
package pipeline

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/resolverd/internal/resolver"
)

// Response is the outcome of one query.
type Response struct {
	QueryID string
	// Results are ranked by score, then by resolver weight.
	Results []resolver.Result
	// Asked is the number of resolvers the query was sent to.
	Asked int
	// Answered is the number of resolvers that reported before the deadline.
	Answered int
}

// arrival is one resolver report and when it came in.
type arrival struct {
	at      time.Time
	results []resolver.Result
}

// pending collects reports for one query.
type pending struct {
	mu       sync.Mutex
	started  time.Time
	arrivals []arrival
	answered int
	asked    int
	done     chan struct{}
	closed   bool
}

func (p *pending) report(results []resolver.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.arrivals = append(p.arrivals, arrival{at: time.Now(), results: results})
	p.answered++
	if p.answered >= p.asked {
		p.closed = true
		close(p.done)
	}
}

// Pipeline is an in-process query dispatcher. It satisfies
// resolver.Pipeline and resolver.Notifier.
type Pipeline struct {
	logger *slog.Logger

	mu        sync.RWMutex
	resolvers []resolver.Resolver
	queries   map[string]*pending
	browses   map[string]chan browseResult
	library   map[string]*resolver.Collection

	wg sync.WaitGroup
}

// Compile-time interface checks.
var (
	_ resolver.Pipeline = (*Pipeline)(nil)
	_ resolver.Notifier = (*Pipeline)(nil)
)

// New creates an empty pipeline.
func New(logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		logger:  logger,
		queries: make(map[string]*pending),
		browses: make(map[string]chan browseResult),
		library: make(map[string]*resolver.Collection),
	}
}

// RegisterResolver adds r to the dispatch set. Registering twice is a no-op.
func (p *Pipeline) RegisterResolver(r resolver.Resolver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if slices.Contains(p.resolvers, r) {
		return
	}
	p.resolvers = append(p.resolvers, r)
	p.logger.Info("resolver registered", "resolver", r.Name(), "weight", r.Weight())
}

// UnregisterResolver removes r from the dispatch set.
func (p *Pipeline) UnregisterResolver(r resolver.Resolver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resolvers = slices.DeleteFunc(p.resolvers, func(o resolver.Resolver) bool { return o == r })
	p.logger.Info("resolver unregistered", "resolver", r.Name())
}

// Resolvers returns the registered resolvers, highest weight first.
func (p *Pipeline) Resolvers() []resolver.Resolver {
	p.mu.RLock()
	out := slices.Clone(p.resolvers)
	p.mu.RUnlock()
	slices.SortStableFunc(out, func(a, b resolver.Resolver) int {
		return cmp.Compare(b.Weight(), a.Weight())
	})
	return out
}

// ReportResults delivers one resolver's answer for qid. Reports for unknown
// or finished queries are dropped.
func (p *Pipeline) ReportResults(qid string, results []resolver.Result) {
	p.mu.RLock()
	q, ok := p.queries[qid]
	p.mu.RUnlock()
	if !ok {
		p.logger.Debug("results for unknown query dropped", "query_id", qid, "count", len(results))
		return
	}
	q.report(results)
}

// Resolve sends q to every registered resolver and waits until all of them
// have reported, the longest resolver timeout has passed, or ctx ends.
// Results arriving after their resolver's own timeout are discarded.
func (p *Pipeline) Resolve(ctx context.Context, q resolver.Query) (*Response, error) {
	if q.ID == "" {
		q.ID = ulid.Make().String()
	}
	if !q.IsFullText() && q.Track == "" {
		return nil, oops.In("pipeline").Code("INVALID_QUERY").Errorf("query needs a track or free text")
	}

	targets := p.Resolvers()
	resp := &Response{QueryID: q.ID, Asked: len(targets)}
	if len(targets) == 0 {
		return resp, nil
	}

	pend := &pending{started: time.Now(), asked: len(targets), done: make(chan struct{})}
	p.mu.Lock()
	if _, dup := p.queries[q.ID]; dup {
		p.mu.Unlock()
		return nil, oops.In("pipeline").Code("DUPLICATE_QUERY").With("query_id", q.ID).Errorf("query already in flight")
	}
	p.queries[q.ID] = pend
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.queries, q.ID)
		p.mu.Unlock()
	}()

	var longest time.Duration
	for _, r := range targets {
		longest = max(longest, r.Timeout())
		p.dispatch(ctx, r, q)
	}

	timer := time.NewTimer(longest)
	defer timer.Stop()
	select {
	case <-pend.done:
	case <-timer.C:
		p.logger.DebugContext(ctx, "query deadline reached", "query_id", q.ID, "timeout", longest)
	case <-ctx.Done():
		return nil, oops.In("pipeline").With("query_id", q.ID).Wrap(ctx.Err())
	}

	pend.mu.Lock()
	pend.closed = true
	arrivals := slices.Clone(pend.arrivals)
	resp.Answered = pend.answered
	pend.mu.Unlock()

	resp.Results = rank(onTime(arrivals, targets, pend.started), targets)
	return resp, nil
}

func (p *Pipeline) dispatch(ctx context.Context, r resolver.Resolver, q resolver.Query) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				p.logger.Error("resolver dispatch panicked", "resolver", r.Name(), "query_id", q.ID, "panic", rec)
			}
		}()
		r.Resolve(ctx, q)
	}()
}

// Wait blocks until every dispatch goroutine has returned.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// onTime flattens arrivals, dropping results that came in after their
// resolver's timeout.
func onTime(arrivals []arrival, targets []resolver.Resolver, started time.Time) []resolver.Result {
	timeouts := make(map[string]time.Duration, len(targets))
	for _, r := range targets {
		timeouts[r.Name()] = r.Timeout()
	}
	var results []resolver.Result
	for _, a := range arrivals {
		elapsed := a.at.Sub(started)
		for _, res := range a.results {
			if t, ok := timeouts[res.Provenance]; ok && elapsed > t {
				continue
			}
			results = append(results, res)
		}
	}
	return results
}

// rank orders results by score, then by the weight of the reporting resolver.
func rank(results []resolver.Result, targets []resolver.Resolver) []resolver.Result {
	weights := make(map[string]int, len(targets))
	for _, r := range targets {
		weights[r.Name()] = r.Weight()
	}
	slices.SortStableFunc(results, func(a, b resolver.Result) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(weights[b.Provenance], weights[a.Provenance])
	})
	return results
}
