// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package fetch retrieves remote resources for plugins: collection icons
// and script asyncRequest calls.
package fetch

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/holomush/resolverd/internal/resolver"
)

// Defaults used when Config leaves a field zero.
const (
	DefaultTimeout  = 10 * time.Second
	DefaultRetries  = 2
	DefaultBackoff  = 200 * time.Millisecond
	DefaultMaxBytes = 8 << 20
)

// Config controls HTTP fetching.
type Config struct {
	// Timeout bounds each attempt.
	Timeout time.Duration
	// Retries is the number of extra attempts after a retryable failure.
	Retries uint64
	// Backoff is the initial exponential backoff delay.
	Backoff time.Duration
	// MaxBytes caps the response body.
	MaxBytes int64
	// UserAgent is sent with every request.
	UserAgent string
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Backoff <= 0 {
		c.Backoff = DefaultBackoff
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = DefaultMaxBytes
	}
	if c.UserAgent == "" {
		c.UserAgent = "resolverd"
	}
	return c
}

// Fetcher performs GET requests on background goroutines and reports the
// outcome through a callback. It satisfies resolver.Fetcher.
type Fetcher struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
	wg     sync.WaitGroup
}

// Compile-time interface check.
var _ resolver.Fetcher = (*Fetcher)(nil)

// New creates a Fetcher. A nil client uses a client with cfg.Timeout.
func New(cfg Config, client *http.Client, logger *slog.Logger) *Fetcher {
	cfg = cfg.withDefaults()
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{cfg: cfg, client: client, logger: logger}
}

// Fetch starts retrieving url and calls done exactly once with the body or
// an error. done runs on a goroutine owned by the Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, url string, done resolver.FetchFunc) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		body, err := f.Get(ctx, url)
		if err != nil {
			f.logger.DebugContext(ctx, "fetch failed", "url", url, "error", err)
		}
		done(body, err)
	}()
}

// Get retrieves url synchronously, retrying server errors and transport
// failures with exponential backoff.
func (f *Fetcher) Get(ctx context.Context, url string) ([]byte, error) {
	backoff := retry.WithMaxRetries(f.cfg.Retries, retry.NewExponential(f.cfg.Backoff))

	var body []byte
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		b, err := f.attempt(ctx, url)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (f *Fetcher) attempt(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, oops.In("fetch").Code("INVALID_URL").With("url", url).Wrap(err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, retry.RetryableError(oops.In("fetch").With("url", url).Wrap(err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, retry.RetryableError(oops.In("fetch").
			Code("HTTP_STATUS").
			With("url", url).
			With("status", resp.StatusCode).
			Errorf("server returned %s", resp.Status))
	}
	if resp.StatusCode >= 300 {
		return nil, oops.In("fetch").
			Code("HTTP_STATUS").
			With("url", url).
			With("status", resp.StatusCode).
			Errorf("server returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBytes+1))
	if err != nil {
		return nil, retry.RetryableError(oops.In("fetch").With("url", url).Wrap(err))
	}
	if int64(len(body)) > f.cfg.MaxBytes {
		return nil, oops.In("fetch").
			Code("TOO_LARGE").
			With("url", url).
			With("limit", f.cfg.MaxBytes).
			Errorf("response body exceeds limit")
	}
	return body, nil
}

// Wait blocks until every in-flight Fetch has called its callback.
func (f *Fetcher) Wait() {
	f.wg.Wait()
}
