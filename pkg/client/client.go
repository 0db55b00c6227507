// Copyright (C) 2025 Nora Labs (engineering@noralabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package client talks to the Nora orchestrator over HTTP.
//
// It owns the network half of a chat turn: request construction, the
// streamed read loop, and the two turn timers (watchdog and hard
// timeout). All state folding is delegated to pkg/ux's TurnReducer; all
// rendering is left to the CLI.
package client

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"
)

// HTTPClient abstracts the HTTP operations the services need, so tests
// can substitute a mock without a listening server.
type HTTPClient interface {
	// Post sends a POST request with the given content type and body.
	// The caller owns the response body and must close it.
	Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error)
}

// realHTTPClient wraps *http.Client behind HTTPClient.
type realHTTPClient struct {
	client *http.Client
}

func (c *realHTTPClient) Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "text/event-stream")
	return c.client.Do(req)
}

var (
	sharedHTTPClient     *http.Client
	sharedHTTPClientOnce sync.Once
)

// sharedClient returns a singleton pooled HTTP client.
//
// No overall client timeout is set: streamed chat responses stay open
// for minutes, and the per-turn deadline is enforced through the request
// context instead.
func sharedClient() *http.Client {
	sharedHTTPClientOnce.Do(func() {
		sharedHTTPClient = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	})
	return sharedHTTPClient
}
