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
	"sync"
	"time"
)

// Stats reports a Buffer's current occupancy.
type Stats struct {
	BufferedChunks  int
	TotalChunksSent uint64
	BufferSizeBytes int
}

// Buffer holds chunks pending emission and decides, per spec, when the
// next one is released: aggregate buffered bytes reaching max_chunk_size,
// max_chunk_delay elapsing since the last emission, or — failing both —
// never, as long as min_chunk_delay hasn't yet elapsed. These three knobs
// define a smoothed emission schedule.
type Buffer struct {
	mu sync.Mutex

	cfg          Config
	chunks       []Chunk
	lastSend     time.Time
	haveLastSend bool
	totalSent    uint64
}

// NewBuffer creates an empty backpressure buffer.
func NewBuffer(cfg Config) *Buffer {
	return &Buffer{cfg: cfg}
}

// Add appends chunk to the buffer, failing with BufferOverflowError once
// the configured capacity is reached.
func (b *Buffer) Add(chunk Chunk) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cfg.BufferSize > 0 && len(b.chunks) >= b.cfg.BufferSize {
		return &BufferOverflowError{BufferSize: b.cfg.BufferSize}
	}
	b.chunks = append(b.chunks, chunk)
	return nil
}

// shouldSend reports whether the next buffered chunk is ready to emit.
// Caller must hold b.mu.
func (b *Buffer) shouldSend() bool {
	if len(b.chunks) == 0 {
		return false
	}

	if b.haveLastSend && b.cfg.MinChunkDelay > 0 {
		if time.Since(b.lastSend) < b.cfg.MinChunkDelay {
			return false
		}
	}

	if b.haveLastSend && b.cfg.MaxChunkDelay > 0 {
		if time.Since(b.lastSend) >= b.cfg.MaxChunkDelay {
			return true
		}
	}

	if b.cfg.MaxChunkSize > 0 {
		var total int
		for _, c := range b.chunks {
			total += c.ContentLength()
		}
		if total >= b.cfg.MaxChunkSize {
			return true
		}
	}

	return false
}

// Next returns the oldest buffered chunk if it's ready to emit.
func (b *Buffer) Next() (Chunk, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.shouldSend() {
		return Chunk{}, false
	}

	chunk := b.chunks[0]
	b.chunks = b.chunks[1:]
	b.lastSend = time.Now()
	b.haveLastSend = true
	b.totalSent++
	return chunk, true
}

// Drain returns and clears every remaining buffered chunk, for use when
// the upstream producer ends and whatever is left must still be flushed.
func (b *Buffer) Drain() []Chunk {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.chunks
	b.chunks = nil
	return out
}

// Stats reports the buffer's current occupancy.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	var bytes int
	for _, c := range b.chunks {
		bytes += c.ContentLength()
	}
	return Stats{
		BufferedChunks:  len(b.chunks),
		TotalChunksSent: b.totalSent,
		BufferSizeBytes: bytes,
	}
}
