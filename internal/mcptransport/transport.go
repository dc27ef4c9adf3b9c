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

// Package mcptransport provides a transport-agnostic abstraction over the
// wire connecting the engine to an MCP-speaking process or service: stdio
// (a child process auto-restarted on crash), WebSocket (with exponential
// reconnect backoff), and HTTP (one request, one response, no push channel).
package mcptransport

import (
	"context"
	"encoding/json"
	"time"
)

// Message is a raw JSON-RPC 2.0 envelope. The transport layer doesn't
// interpret method/params/result — that's the MCP client's job — it only
// moves bytes across whichever wire the server requires.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError carries a JSON-RPC error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Transport is the contract every wire implementation satisfies: connect,
// exchange messages, report health, and reconnect on demand. Implementations
// are not safe for concurrent use by multiple goroutines calling Send/Receive
// simultaneously — callers serialize access the same way a single MCP client
// owns one transport.
type Transport interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, msg Message) error
	Receive(ctx context.Context) (Message, error)
	Disconnect(ctx context.Context) error
	IsConnected() bool
	HealthCheck(ctx context.Context) (Health, error)
	Ping(ctx context.Context) (time.Duration, error)
	Metrics() Metrics
	Reconnect(ctx context.Context) error
}

// ReconnectConfig governs exponential-backoff reconnection for transports
// that maintain a persistent connection (WebSocket; stdio's analogous
// restart schedule is linear, see stdio.go).
type ReconnectConfig struct {
	Enabled           bool
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// DefaultReconnectConfig matches the engine's historical defaults.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		Enabled:           true,
		MaxAttempts:       5,
		InitialDelay:      500 * time.Millisecond,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// delayForAttempt returns the backoff delay before the given 1-indexed
// reconnect attempt, capped at MaxDelay.
func (c ReconnectConfig) delayForAttempt(attempt int) time.Duration {
	delayMs := float64(c.InitialDelay.Milliseconds())
	for i := 1; i < attempt; i++ {
		delayMs *= c.BackoffMultiplier
	}
	capMs := float64(c.MaxDelay.Milliseconds())
	if delayMs > capMs {
		delayMs = capMs
	}
	return time.Duration(delayMs) * time.Millisecond
}

// HTTPPoolConfig governs the HTTP transport's underlying client.
type HTTPPoolConfig struct {
	MaxConnectionsPerHost int
	ConnectTimeout        time.Duration
	RequestTimeout        time.Duration
	KeepAliveTimeout      time.Duration
}

// DefaultHTTPPoolConfig matches the engine's historical defaults.
func DefaultHTTPPoolConfig() HTTPPoolConfig {
	return HTTPPoolConfig{
		MaxConnectionsPerHost: 10,
		ConnectTimeout:        10 * time.Second,
		RequestTimeout:        30 * time.Second,
		KeepAliveTimeout:      90 * time.Second,
	}
}

// Health is a point-in-time snapshot of a transport's connection state.
type Health struct {
	IsConnected   bool
	LastPing      *time.Duration
	ConnectionAge time.Duration
	BytesSent     uint64
	BytesReceived uint64
	MessagesSent  uint64
	MessagesRecv  uint64
	LastError     string
}

// Metrics accumulates lifetime transport counters, reset only when the
// process restarts (not on individual reconnects).
type Metrics struct {
	TotalConnections      uint64
	SuccessfulConnections uint64
	FailedConnections     uint64
	ReconnectionAttempts  uint64
	TotalBytesSent        uint64
	TotalBytesReceived    uint64
	TotalMessagesSent     uint64
	TotalMessagesReceived uint64
	AverageLatency        time.Duration
	Uptime                time.Duration
}
