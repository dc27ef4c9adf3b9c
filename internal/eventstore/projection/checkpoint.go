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

package projection

import (
	"context"
	"sync"
	"time"

	"github.com/relaywork/relay/internal/eventstore"
)

// Checkpoint records a projection's durable progress through the event
// stream.
type Checkpoint struct {
	ProjectionName  string
	Position        eventstore.Position
	EventsProcessed int64
	State           State
	UpdatedAt       time.Time
}

// CheckpointStore persists projection checkpoints. A Manager uses one
// instance shared across all registered projections.
type CheckpointStore interface {
	// Get returns the checkpoint for name, or a zero-position Checkpoint in
	// StateBuilding if none has been saved yet.
	Get(ctx context.Context, name string) (Checkpoint, error)

	// Save upserts the checkpoint for name.
	Save(ctx context.Context, cp Checkpoint) error

	// Delete removes the checkpoint for name, resetting it to zero on next
	// Get. Used by Rebuild.
	Delete(ctx context.Context, name string) error
}

// MemCheckpointStore is an in-memory CheckpointStore, used by tests and
// single-process runs.
type MemCheckpointStore struct {
	mu          sync.RWMutex
	checkpoints map[string]Checkpoint
}

// Compile-time interface assertion.
var _ CheckpointStore = (*MemCheckpointStore)(nil)

// NewMemCheckpointStore creates an empty in-memory checkpoint store.
func NewMemCheckpointStore() *MemCheckpointStore {
	return &MemCheckpointStore{checkpoints: make(map[string]Checkpoint)}
}

func (s *MemCheckpointStore) Get(ctx context.Context, name string) (Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cp, ok := s.checkpoints[name]; ok {
		return cp, nil
	}
	return Checkpoint{ProjectionName: name, State: StateBuilding}, nil
}

func (s *MemCheckpointStore) Save(ctx context.Context, cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp.UpdatedAt = time.Now()
	s.checkpoints[cp.ProjectionName] = cp
	return nil
}

func (s *MemCheckpointStore) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, name)
	return nil
}
