// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package control

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/samber/oops"
)

// SocketClient talks to a control socket.
type SocketClient struct {
	http *http.Client
}

// NewSocketClient returns a client for the socket at path.
func NewSocketClient(path string) *SocketClient {
	return &SocketClient{http: &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", path)
			},
		},
		Timeout: 10 * time.Second,
	}}
}

// Status fetches the process status.
func (c *SocketClient) Status(ctx context.Context) (*StatusResponse, error) {
	var out StatusResponse
	if err := c.do(ctx, http.MethodGet, "/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Reload asks the process to reload the named plugin.
func (c *SocketClient) Reload(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "/plugins/"+url.PathEscape(name)+"/reload", nil)
}

// Shutdown asks the process to exit.
func (c *SocketClient) Shutdown(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/shutdown", nil)
}

func (c *SocketClient) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, "http://resolverd"+path, nil)
	if err != nil {
		return oops.In("control").With("path", path).Wrap(err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return oops.In("control").Code("SOCKET_UNAVAILABLE").With("path", path).Wrap(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		var msg MessageResponse
		_ = json.NewDecoder(resp.Body).Decode(&msg)
		code := "CONTROL_REQUEST_FAILED"
		if resp.StatusCode == http.StatusNotFound {
			code = "PLUGIN_NOT_FOUND"
		}
		return oops.In("control").
			Code(code).
			With("path", path).
			With("status", resp.StatusCode).
			Errorf("control request failed: %s", msg.Message)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return oops.In("control").With("path", path).Wrapf(err, "decode response")
	}
	return nil
}
