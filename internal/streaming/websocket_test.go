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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type echoProvider struct{}

func (echoProvider) ProviderName() string { return "echo" }
func (echoProvider) SupportsStreaming() bool { return true }

func (echoProvider) StreamResponse(ctx context.Context, prompt string, cfg Config) (<-chan Result, error) {
	out := make(chan Result, 2)
	go func() {
		defer close(out)
		out <- Result{Chunk: NewChunk(prompt, false)}
		out <- Result{Chunk: NewChunk("", true)}
	}()
	return out, nil
}

func TestSession_StartStreamFansChunksOverWebSocket(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Serve(context.Background(), w, r, echoProvider{}, DefaultConfig(), nil)
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(clientRequest{Type: "start_stream", StreamID: "s1", Prompt: "hi"}); err != nil {
		t.Fatalf("write start_stream: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var events []Envelope
	for len(events) < 3 { // started, chunk, completed
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("read envelope: %v", err)
		}
		events = append(events, env)
	}

	if events[0].Event != EventStarted {
		t.Fatalf("expected first event started, got %s", events[0].Event)
	}
	if events[1].Event != EventChunk {
		t.Fatalf("expected second event chunk, got %s", events[1].Event)
	}
	if events[2].Event != EventCompleted {
		t.Fatalf("expected third event completed, got %s", events[2].Event)
	}
	if events[1].Sequence == 0 {
		t.Fatal("expected a non-zero sequence number on the chunk event")
	}
}

func TestSession_DuplicateStreamIDRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Serve(context.Background(), w, r, blockingProvider{}, DefaultConfig(), nil)
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.WriteJSON(clientRequest{Type: "start_stream", StreamID: "dup", Prompt: "hi"})
	conn.WriteJSON(clientRequest{Type: "start_stream", StreamID: "dup", Prompt: "hi"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var sawDuplicateError bool
	for i := 0; i < 2; i++ {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("read envelope: %v", err)
		}
		if env.Event == EventError {
			sawDuplicateError = true
		}
	}
	if !sawDuplicateError {
		t.Fatal("expected an error event for the duplicate stream id")
	}
}

// blockingProvider never closes its stream, useful for testing session
// bookkeeping (e.g. duplicate stream id rejection) without the stream
// completing first.
type blockingProvider struct{}

func (blockingProvider) ProviderName() string    { return "blocking" }
func (blockingProvider) SupportsStreaming() bool { return true }

func (blockingProvider) StreamResponse(ctx context.Context, prompt string, cfg Config) (<-chan Result, error) {
	out := make(chan Result)
	go func() {
		<-ctx.Done()
		close(out)
	}()
	return out, nil
}
