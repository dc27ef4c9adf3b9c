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

// Package streaming implements the chunk stream contract: a lazy,
// possibly-infinite sequence of chunks that ends at the first is_final
// chunk or on error, with backpressure, adaptive throttling, SSE framing,
// and WebSocket fan-out over the same producer.
package streaming

import (
	"context"
	"fmt"
	"time"
)

// Chunk is a single piece of a streamed response.
type Chunk struct {
	Content   string    `json:"content"`
	IsFinal   bool      `json:"is_final"`
	Metadata  *Metadata `json:"metadata,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Metadata carries provider-reported facts about a chunk.
type Metadata struct {
	Model            string `json:"model"`
	Provider         string `json:"provider"`
	TokenCount       *int   `json:"token_count,omitempty"`
	TotalTokens      *int   `json:"total_tokens,omitempty"`
	ProcessingTimeMs *int64 `json:"processing_time_ms,omitempty"`
}

// NewChunk builds a chunk with no metadata.
func NewChunk(content string, isFinal bool) Chunk {
	return Chunk{Content: content, IsFinal: isFinal, Timestamp: time.Now()}
}

// ContentLength returns the chunk's content length in bytes.
func (c Chunk) ContentLength() int { return len(c.Content) }

// Config tunes chunk emission. Zero-value knobs disable that constraint.
type Config struct {
	Enabled         bool
	MaxChunkSize    int // bytes; release when aggregate buffered size reaches this
	MinChunkDelay   time.Duration
	MaxChunkDelay   time.Duration
	BufferSize      int
	IncludeMetadata bool
	HeartbeatInterval time.Duration
}

// DefaultConfig mirrors the Rust original's defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		MaxChunkSize:      1024,
		MinChunkDelay:     10 * time.Millisecond,
		MaxChunkDelay:     100 * time.Millisecond,
		BufferSize:        1000,
		IncludeMetadata:   true,
		HeartbeatInterval: 15 * time.Second,
	}
}

// Result is a single item on a chunk stream: either a Chunk or an error.
// The stream ends on the first item carrying IsFinal=true or a non-nil
// Err.
type Result struct {
	Chunk Chunk
	Err   error
}

// Provider produces a chunk stream from a prompt. Implementations push
// Results onto the returned channel and close it when the stream ends;
// they must stop producing, best-effort, once ctx is cancelled.
type Provider interface {
	StreamResponse(ctx context.Context, prompt string, cfg Config) (<-chan Result, error)
	ProviderName() string
	SupportsStreaming() bool
}

// NotSupportedError reports a provider that cannot stream.
type NotSupportedError struct {
	Provider string
}

func (e *NotSupportedError) Error() string {
	return fmt.Sprintf("streaming not supported for provider: %s", e.Provider)
}

// BufferOverflowError reports the backpressure buffer exceeding its
// configured capacity.
type BufferOverflowError struct {
	BufferSize int
}

func (e *BufferOverflowError) Error() string {
	return fmt.Sprintf("stream buffer overflow: %d chunks", e.BufferSize)
}

// ConnectionError reports a transport-level streaming failure.
type ConnectionError struct {
	Message string
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("stream connection error: %s", e.Message)
}
