// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mcptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// HTTPTransport speaks one-request-one-response JSON-RPC over plain HTTP
// POST. It has no push channel: Receive always fails with a ProtocolError
// telling the caller to use SendRequest's request/response pattern instead.
// HTTP is considered always "connected" — there's no persistent socket to
// lose.
type HTTPTransport struct {
	baseURL   string
	client    *http.Client
	authToken string

	mu      sync.Mutex
	metrics Metrics
}

// NewHTTPTransport builds an HTTP transport against baseURL using pool's
// connection limits.
func NewHTTPTransport(baseURL string, pool HTTPPoolConfig) *HTTPTransport {
	return &HTTPTransport{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: pool.RequestTimeout,
			Transport: &http.Transport{
				MaxConnsPerHost:     pool.MaxConnectionsPerHost,
				IdleConnTimeout:     pool.KeepAliveTimeout,
				TLSHandshakeTimeout: pool.ConnectTimeout,
			},
		},
	}
}

// WithAuthToken attaches a bearer token sent with every request.
func (t *HTTPTransport) WithAuthToken(token string) *HTTPTransport {
	t.authToken = token
	return t
}

// Connect is a no-op: HTTP has no connection to establish ahead of time.
func (t *HTTPTransport) Connect(ctx context.Context) error {
	return nil
}

// Send POSTs msg and discards the response body; use SendRequest when the
// reply matters.
func (t *HTTPTransport) Send(ctx context.Context, msg Message) error {
	resp, err := t.do(ctx, msg)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

// SendRequest POSTs msg and decodes the JSON-RPC reply.
func (t *HTTPTransport) SendRequest(ctx context.Context, msg Message) (Message, error) {
	resp, err := t.do(ctx, msg)
	if err != nil {
		return Message{}, err
	}
	defer resp.Body.Close()

	var out Message
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Message{}, &TransportIOError{Message: err.Error(), Operation: "send_request", Cause: err}
	}
	return out, nil
}

func (t *HTTPTransport) do(ctx context.Context, msg Message) (*http.Response, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, &TransportIOError{Message: err.Error(), Operation: "send", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/mcp", bytes.NewReader(data))
	if err != nil {
		return nil, &TransportIOError{Message: err.Error(), Operation: "send", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if t.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+t.authToken)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		t.mu.Lock()
		t.metrics.FailedConnections++
		t.mu.Unlock()
		return nil, &TransportIOError{Message: err.Error(), Operation: "send", Cause: err}
	}

	if resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, &ConnectionError{Message: fmt.Sprintf("http error: %d", resp.StatusCode), Endpoint: t.baseURL, TransportType: "http"}
	}

	t.mu.Lock()
	t.metrics.TotalMessagesSent++
	t.metrics.TotalBytesSent += uint64(len(data))
	t.mu.Unlock()
	return resp, nil
}

// Receive always fails: HTTP transport has no server-initiated push channel.
func (t *HTTPTransport) Receive(ctx context.Context) (Message, error) {
	return Message{}, &ProtocolError{
		Message:   "HTTP transport does not support receive - use request/response pattern",
		Operation: "receive",
		Expected:  "response",
		Received:  "not supported",
	}
}

// Disconnect is a no-op.
func (t *HTTPTransport) Disconnect(ctx context.Context) error { return nil }

// IsConnected always returns true: there is no persistent socket to lose.
func (t *HTTPTransport) IsConnected() bool { return true }

func (t *HTTPTransport) HealthCheck(ctx context.Context) (Health, error) {
	return Health{IsConnected: true}, nil
}

// Ping performs a GET against /health and times the round trip.
func (t *HTTPTransport) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/health", nil)
	if err != nil {
		return 0, &TransportIOError{Message: err.Error(), Operation: "ping", Cause: err}
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return 0, &TransportIOError{Message: err.Error(), Operation: "ping", Cause: err}
	}
	defer resp.Body.Close()
	return time.Since(start), nil
}

func (t *HTTPTransport) Metrics() Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.metrics
}

// Reconnect is a no-op: HTTP doesn't need reconnection.
func (t *HTTPTransport) Reconnect(ctx context.Context) error { return nil }
