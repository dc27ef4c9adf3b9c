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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Frame is one SSE event: "event: <name>\ndata: <json>\n\n".
type Frame struct {
	Event string
	Data  any
}

// WriteFrame serializes frame to w in SSE wire format.
func WriteFrame(w io.Writer, frame Frame) error {
	data, err := json.Marshal(frame.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal sse frame data: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", frame.Event, data)
	return err
}

// heartbeatPayload is the JSON body of a heartbeat frame.
type heartbeatPayload struct {
	Timestamp time.Time `json:"timestamp"`
}

// doneStatus is the JSON body of the terminal "done" frame.
type doneStatus struct {
	TotalChunks int   `json:"total_chunks"`
	TotalTokens *int  `json:"total_tokens,omitempty"`
	DurationMs  int64 `json:"duration_ms"`
}

// ServeSSE consumes results from a Provider's stream and writes SSE frames
// to w: event=chunk for each chunk, event=heartbeat every cfg.HeartbeatInterval
// of inactivity, and a terminal event=error or event=done. The handler
// returns once the stream ends or r's context is cancelled.
func ServeSSE(w http.ResponseWriter, r *http.Request, results <-chan Result, cfg Config) error {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("streaming not supported by response writer")
	}

	heartbeatInterval := cfg.HeartbeatInterval
	if heartbeatInterval <= 0 {
		heartbeatInterval = 15 * time.Second
	}
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	start := time.Now()
	totalChunks := 0
	var totalTokens *int

	for {
		select {
		case <-r.Context().Done():
			return r.Context().Err()

		case <-ticker.C:
			if err := WriteFrame(w, Frame{Event: "heartbeat", Data: heartbeatPayload{Timestamp: time.Now()}}); err != nil {
				return err
			}
			flusher.Flush()

		case res, ok := <-results:
			if !ok {
				if err := WriteFrame(w, Frame{Event: "done", Data: doneStatus{
					TotalChunks: totalChunks,
					TotalTokens: totalTokens,
					DurationMs:  time.Since(start).Milliseconds(),
				}}); err != nil {
					return err
				}
				flusher.Flush()
				return nil
			}

			if res.Err != nil {
				if err := WriteFrame(w, Frame{Event: "error", Data: map[string]string{"error": res.Err.Error()}}); err != nil {
					return err
				}
				flusher.Flush()
				if err := WriteFrame(w, Frame{Event: "done", Data: doneStatus{
					TotalChunks: totalChunks,
					TotalTokens: totalTokens,
					DurationMs:  time.Since(start).Milliseconds(),
				}}); err != nil {
					return err
				}
				flusher.Flush()
				return res.Err
			}

			totalChunks++
			if res.Chunk.Metadata != nil && res.Chunk.Metadata.TotalTokens != nil {
				totalTokens = res.Chunk.Metadata.TotalTokens
			}
			if err := WriteFrame(w, Frame{Event: "chunk", Data: res.Chunk}); err != nil {
				return err
			}
			flusher.Flush()
			ticker.Reset(heartbeatInterval)

			if res.Chunk.IsFinal {
				if err := WriteFrame(w, Frame{Event: "done", Data: doneStatus{
					TotalChunks: totalChunks,
					TotalTokens: totalTokens,
					DurationMs:  time.Since(start).Milliseconds(),
				}}); err != nil {
					return err
				}
				flusher.Flush()
				return nil
			}
		}
	}
}
