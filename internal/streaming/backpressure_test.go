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
	"testing"
	"time"
)

func TestBuffer_OverflowsAtCapacity(t *testing.T) {
	b := NewBuffer(Config{BufferSize: 2})

	if err := b.Add(NewChunk("a", false)); err != nil {
		t.Fatalf("add 1: %v", err)
	}
	if err := b.Add(NewChunk("b", false)); err != nil {
		t.Fatalf("add 2: %v", err)
	}
	err := b.Add(NewChunk("c", false))
	if err == nil {
		t.Fatal("expected overflow error on third add")
	}
	if _, ok := err.(*BufferOverflowError); !ok {
		t.Fatalf("expected *BufferOverflowError, got %T", err)
	}
}

func TestBuffer_ReleasesOnMaxChunkSize(t *testing.T) {
	b := NewBuffer(Config{BufferSize: 10, MaxChunkSize: 3})
	b.Add(NewChunk("ab", false))
	b.Add(NewChunk("cd", false))

	chunk, ok := b.Next()
	if !ok {
		t.Fatal("expected a chunk ready once aggregate size reaches max_chunk_size")
	}
	if chunk.Content != "ab" {
		t.Fatalf("expected oldest chunk first, got %q", chunk.Content)
	}
}

func TestBuffer_WithholdsBeforeMinDelay(t *testing.T) {
	b := NewBuffer(Config{BufferSize: 10, MaxChunkSize: 1, MinChunkDelay: time.Hour})
	b.Add(NewChunk("a", false))
	if _, ok := b.Next(); !ok {
		t.Fatal("expected first chunk to release immediately (no prior send)")
	}

	b.Add(NewChunk("b", false))
	if _, ok := b.Next(); ok {
		t.Fatal("expected second chunk withheld until min_chunk_delay elapses")
	}
}

func TestBuffer_ReleasesOnMaxDelay(t *testing.T) {
	b := NewBuffer(Config{BufferSize: 10, MaxChunkDelay: 5 * time.Millisecond})
	b.Add(NewChunk("a", false))
	b.Next() // prime lastSend

	b.Add(NewChunk("b", false))
	time.Sleep(10 * time.Millisecond)
	if _, ok := b.Next(); !ok {
		t.Fatal("expected chunk released once max_chunk_delay elapsed")
	}
}

func TestBuffer_DrainReturnsRemainder(t *testing.T) {
	b := NewBuffer(Config{BufferSize: 10})
	b.Add(NewChunk("a", false))
	b.Add(NewChunk("b", false))

	remaining := b.Drain()
	if len(remaining) != 2 {
		t.Fatalf("expected 2 drained chunks, got %d", len(remaining))
	}
	if stats := b.Stats(); stats.BufferedChunks != 0 {
		t.Fatalf("expected buffer empty after drain, got %d", stats.BufferedChunks)
	}
}
