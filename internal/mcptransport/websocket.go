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
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketTransport speaks JSON-RPC text frames over a gorilla/websocket
// connection, with exponential-backoff reconnection on connection loss.
type WebSocketTransport struct {
	url             string
	reconnectConfig ReconnectConfig
	heartbeat       time.Duration

	mu               sync.Mutex
	conn             *websocket.Conn
	connectedAt      time.Time
	lastError        string
	reconnectAttempt int
	metrics          Metrics
}

// NewWebSocketTransport builds a transport that dials url on Connect, with
// the engine's default reconnect policy and a 30s heartbeat.
func NewWebSocketTransport(url string) *WebSocketTransport {
	return &WebSocketTransport{
		url:             url,
		reconnectConfig: DefaultReconnectConfig(),
		heartbeat:       30 * time.Second,
	}
}

// WithReconnectConfig overrides the reconnect policy.
func (t *WebSocketTransport) WithReconnectConfig(cfg ReconnectConfig) *WebSocketTransport {
	t.reconnectConfig = cfg
	return t
}

// WithHeartbeatInterval overrides the ping heartbeat interval. Zero disables it.
func (t *WebSocketTransport) WithHeartbeatInterval(d time.Duration) *WebSocketTransport {
	t.heartbeat = d
	return t
}

func (t *WebSocketTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.TotalConnections++

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, t.url, nil)
	if err != nil {
		t.metrics.FailedConnections++
		t.lastError = err.Error()
		return &TransportIOError{Message: "failed to connect", Operation: "connect", Cause: err}
	}

	t.conn = conn
	t.connectedAt = time.Now()
	t.reconnectAttempt = 0
	t.metrics.SuccessfulConnections++
	t.lastError = ""
	return nil
}

func (t *WebSocketTransport) Send(ctx context.Context, msg Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return &ConnectionError{Message: "not connected", Endpoint: t.url, TransportType: "websocket"}
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return &TransportIOError{Message: err.Error(), Operation: "send", Cause: err}
	}

	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return &TransportIOError{Message: err.Error(), Operation: "send", Cause: err}
	}

	t.metrics.TotalMessagesSent++
	t.metrics.TotalBytesSent += uint64(len(data))
	return nil
}

func (t *WebSocketTransport) Receive(ctx context.Context) (Message, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return Message{}, &ConnectionError{Message: "not connected", Endpoint: t.url, TransportType: "websocket"}
	}

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return Message{}, &ConnectionError{Message: "connection closed", Endpoint: t.url, TransportType: "websocket", RetryCount: t.reconnectAttempt}
		}

		switch kind {
		case websocket.TextMessage:
			t.mu.Lock()
			t.metrics.TotalMessagesReceived++
			t.metrics.TotalBytesReceived += uint64(len(data))
			t.mu.Unlock()

			var msg Message
			if err := json.Unmarshal(data, &msg); err != nil {
				return Message{}, &TransportIOError{Message: err.Error(), Operation: "receive", Cause: err}
			}
			return msg, nil
		case websocket.PingMessage, websocket.PongMessage:
			continue
		default:
			return Message{}, &ProtocolError{Message: "unexpected message type", Operation: "receive", Expected: "text", Received: "binary"}
		}
	}
}

func (t *WebSocketTransport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		_ = t.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = t.conn.Close()
	}
	t.conn = nil
	t.connectedAt = time.Time{}
	return nil
}

func (t *WebSocketTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

func (t *WebSocketTransport) HealthCheck(ctx context.Context) (Health, error) {
	connected := t.IsConnected()
	var lastPing *time.Duration
	if connected {
		if d, err := t.Ping(ctx); err == nil {
			lastPing = &d
		}
	}

	t.mu.Lock()
	var age time.Duration
	if !t.connectedAt.IsZero() {
		age = time.Since(t.connectedAt)
	}
	h := Health{
		IsConnected:   connected,
		LastPing:      lastPing,
		ConnectionAge: age,
		BytesSent:     t.metrics.TotalBytesSent,
		BytesReceived: t.metrics.TotalBytesReceived,
		MessagesSent:  t.metrics.TotalMessagesSent,
		MessagesRecv:  t.metrics.TotalMessagesReceived,
		LastError:     t.lastError,
	}
	t.mu.Unlock()
	return h, nil
}

// Ping writes a control ping frame and waits up to 5s for the pong,
// mirroring the engine's historical ping timeout.
func (t *WebSocketTransport) Ping(ctx context.Context) (time.Duration, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return 0, &ConnectionError{Message: "not connected", Endpoint: t.url, TransportType: "websocket"}
	}

	start := time.Now()
	pong := make(chan struct{}, 1)
	conn.SetPongHandler(func(string) error {
		select {
		case pong <- struct{}{}:
		default:
		}
		return nil
	})

	if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
		return 0, &TransportIOError{Message: err.Error(), Operation: "ping", Cause: err}
	}

	select {
	case <-pong:
		return time.Since(start), nil
	case <-time.After(5 * time.Second):
		return 0, &ConnectionError{Message: "ping timeout", Endpoint: t.url, TransportType: "websocket"}
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (t *WebSocketTransport) Metrics() Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := t.metrics
	if !t.connectedAt.IsZero() {
		m.Uptime = time.Since(t.connectedAt)
	}
	return m
}

// Reconnect disconnects and redials with exponential backoff, subject to
// ReconnectConfig.MaxAttempts.
func (t *WebSocketTransport) Reconnect(ctx context.Context) error {
	_ = t.Disconnect(ctx)
	return t.attemptReconnect(ctx)
}

func (t *WebSocketTransport) attemptReconnect(ctx context.Context) error {
	t.mu.Lock()
	if !t.reconnectConfig.Enabled || t.reconnectAttempt >= t.reconnectConfig.MaxAttempts {
		attempt := t.reconnectAttempt
		t.mu.Unlock()
		return &ConnectionError{Message: "reconnection limit reached", Endpoint: t.url, TransportType: "websocket", RetryCount: attempt}
	}
	t.reconnectAttempt++
	attempt := t.reconnectAttempt
	t.metrics.ReconnectionAttempts++
	cfg := t.reconnectConfig
	t.mu.Unlock()

	delay := cfg.delayForAttempt(attempt)
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return ctx.Err()
	}

	return t.Connect(ctx)
}
