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

// Package projection implements read-model projections over the event
// store: registration, checkpointing, idempotent rebuild, and
// global-position-ordered delivery.
package projection

import (
	"context"

	"github.com/relaywork/relay/internal/eventstore"
)

// State is a projection's lifecycle state.
type State string

const (
	StateBuilding   State = "building"
	StateActive     State = "active"
	StateFailed     State = "failed"
	StateRebuilding State = "rebuilding"
	StateStopped    State = "stopped"
)

// Projection is a read model fed by the event store. EventTypes declares
// which event types it cares about; HandleEvent is invoked for each
// matching event in ascending global-position order.
type Projection interface {
	// Name uniquely identifies this projection for checkpointing.
	Name() string

	// EventTypes lists the event types this projection consumes.
	EventTypes() []string

	// HandleEvent applies a single matching event to the projection's state.
	HandleEvent(ctx context.Context, event *eventstore.Envelope) error

	// Initialize prepares any storage the projection needs. Called once on
	// registration.
	Initialize(ctx context.Context) error

	// Reset clears the projection's materialized state. Called before a
	// rebuild.
	Reset(ctx context.Context) error
}

// ShouldHandle reports whether event's type is one p declares interest in.
// Projections may embed a helper that uses this default instead of
// hand-rolling the membership check.
func ShouldHandle(p Projection, event *eventstore.Envelope) bool {
	for _, t := range p.EventTypes() {
		if t == event.EventType {
			return true
		}
	}
	return false
}
