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

package streaming

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// EventType names a message carried over a streaming WebSocket session.
type EventType string

const (
	EventChunk     EventType = "chunk"
	EventStarted   EventType = "started"
	EventCompleted EventType = "completed"
	EventError     EventType = "error"
	EventHeartbeat EventType = "heartbeat"
)

// Envelope wraps a single event with the stream it belongs to and its
// position in that stream, for client-side ordering and dedup.
type Envelope struct {
	StreamID string    `json:"stream_id"`
	Event    EventType `json:"type"`
	Sequence uint64    `json:"sequence"`
	Data     any       `json:"data,omitempty"`
}

// clientRequest is an inbound control message from a WebSocket client.
type clientRequest struct {
	Type     string `json:"type"` // "start_stream" | "stop_stream" | "ping"
	StreamID string `json:"stream_id"`
	Prompt   string `json:"prompt"`
}

// Session fans a Provider's chunk stream out over a single WebSocket
// connection, tracking one active stream per stream_id so a client may
// hold multiple concurrent streams open over one socket.
type Session struct {
	conn     *websocket.Conn
	provider Provider
	cfg      Config
	logger   *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	streams map[string]context.CancelFunc
}

const (
	wsHeartbeatInterval = 5 * time.Second
	wsClientTimeout     = 10 * time.Second
)

// Serve upgrades r into a WebSocket session and drives it until the
// connection closes or ctx is cancelled.
func Serve(ctx context.Context, w http.ResponseWriter, r *http.Request, provider Provider, cfg Config, logger *slog.Logger) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("websocket upgrade failed: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		conn:     conn,
		provider: provider,
		cfg:      cfg,
		logger:   logger,
		streams:  make(map[string]context.CancelFunc),
	}
	return s.run(ctx)
}

func (s *Session) run(ctx context.Context) error {
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.conn.Close()

	var lastPong atomic.Int64
	lastPong.Store(time.Now().UnixNano())
	s.conn.SetPongHandler(func(string) error {
		lastPong.Store(time.Now().UnixNano())
		return nil
	})

	go s.heartbeat(sessionCtx, &lastPong)

	for {
		var req clientRequest
		if err := s.conn.ReadJSON(&req); err != nil {
			s.stopAll()
			return err
		}

		switch req.Type {
		case "start_stream":
			s.startStream(sessionCtx, req.StreamID, req.Prompt)
		case "stop_stream":
			s.stopStream(req.StreamID)
		case "ping":
			s.writeEnvelope(Envelope{Event: EventHeartbeat, Data: map[string]time.Time{"timestamp": time.Now()}})
		}
	}
}

// heartbeat pings the client on wsHeartbeatInterval and disconnects if no
// pong is seen within wsClientTimeout.
func (s *Session) heartbeat(ctx context.Context, lastPong *atomic.Int64) {
	ticker := time.NewTicker(wsHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			since := time.Since(time.Unix(0, lastPong.Load()))
			if since > wsClientTimeout {
				s.logger.Warn("websocket client heartbeat timed out, disconnecting")
				s.conn.Close()
				return
			}
			s.writeMu.Lock()
			_ = s.conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
		}
	}
}

func (s *Session) startStream(ctx context.Context, streamID, prompt string) {
	s.mu.Lock()
	if _, exists := s.streams[streamID]; exists {
		s.mu.Unlock()
		s.writeEnvelope(Envelope{StreamID: streamID, Event: EventError, Data: "stream with this id already exists"})
		return
	}
	streamCtx, cancel := context.WithCancel(ctx)
	s.streams[streamID] = cancel
	s.mu.Unlock()

	go s.runStream(streamCtx, streamID, prompt)
}

func (s *Session) stopStream(streamID string) {
	s.mu.Lock()
	cancel, exists := s.streams[streamID]
	delete(s.streams, streamID)
	s.mu.Unlock()
	if exists {
		cancel()
	}
}

func (s *Session) stopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, cancel := range s.streams {
		cancel()
		delete(s.streams, id)
	}
}

func (s *Session) runStream(ctx context.Context, streamID, prompt string) {
	defer s.stopStream(streamID)

	results, err := s.provider.StreamResponse(ctx, prompt, s.cfg)
	if err != nil {
		s.writeEnvelope(Envelope{StreamID: streamID, Event: EventError, Data: err.Error()})
		return
	}

	var sequence uint64
	var totalChunks int
	start := time.Now()

	s.writeEnvelope(Envelope{StreamID: streamID, Event: EventStarted, Sequence: sequence, Data: map[string]string{"provider": s.provider.ProviderName()}})

	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-results:
			if !ok {
				sequence++
				s.writeEnvelope(Envelope{StreamID: streamID, Event: EventCompleted, Sequence: sequence, Data: map[string]any{
					"total_chunks": totalChunks,
					"duration_ms":  time.Since(start).Milliseconds(),
				}})
				return
			}
			if res.Err != nil {
				sequence++
				s.writeEnvelope(Envelope{StreamID: streamID, Event: EventError, Sequence: sequence, Data: res.Err.Error()})
				return
			}

			sequence++
			totalChunks++
			s.writeEnvelope(Envelope{StreamID: streamID, Event: EventChunk, Sequence: sequence, Data: res.Chunk})

			if res.Chunk.IsFinal {
				sequence++
				s.writeEnvelope(Envelope{StreamID: streamID, Event: EventCompleted, Sequence: sequence, Data: map[string]any{
					"total_chunks": totalChunks,
					"duration_ms":  time.Since(start).Milliseconds(),
				}})
				return
			}
		}
	}
}

func (s *Session) writeEnvelope(env Envelope) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(env); err != nil {
		s.logger.Debug("failed to write websocket envelope", slog.String("error", err.Error()))
	}
}
