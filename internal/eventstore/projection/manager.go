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
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/relaywork/relay/internal/broadcast"
	"github.com/relaywork/relay/internal/eventstore"
)

// ManagerConfig tunes the manager's feed loops.
type ManagerConfig struct {
	// CheckpointFrequency saves a checkpoint after this many events
	// processed, in addition to always checkpointing at the end of a batch.
	CheckpointFrequency int64

	// BatchSize is how many events each EventsFromPosition read pulls.
	BatchSize int

	// FallbackPollInterval is how often a projection's feed loop wakes even
	// without a broadcast signal, so a missed publish never stalls it
	// indefinitely.
	FallbackPollInterval time.Duration
}

// DefaultManagerConfig returns the manager's baseline tuning.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		CheckpointFrequency:  100,
		BatchSize:            1000,
		FallbackPollInterval: 5 * time.Second,
	}
}

// Manager registers Projections and runs each one's feed loop as its own
// goroutine, woken by a shared broadcast topic of newly appended events and
// backed by the store's own ordered EventsFromPosition for correctness (the
// broadcast is a wake-up signal, not the source of truth — a projection
// never misses an event just because it dropped a broadcast message).
type Manager struct {
	store      eventstore.Store
	checkpoint CheckpointStore
	wake       *broadcast.Topic[struct{}]
	cfg        ManagerConfig
	logger     *slog.Logger

	mu          sync.Mutex
	projections map[string]*registration
}

type registration struct {
	proj   Projection
	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.RWMutex
	state State
}

// NewManager builds a Manager over store, checkpointing through cp and
// waking on wake (typically fed by the same Append path that writes to
// store).
func NewManager(store eventstore.Store, cp CheckpointStore, wake *broadcast.Topic[struct{}], cfg ManagerConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.FallbackPollInterval <= 0 {
		cfg.FallbackPollInterval = 5 * time.Second
	}
	return &Manager{
		store:       store,
		checkpoint:  cp,
		wake:        wake,
		cfg:         cfg,
		logger:      logger,
		projections: make(map[string]*registration),
	}
}

// Register initializes proj, ensures its checkpoint exists, and starts its
// feed loop. Re-registering a name that's already running is a no-op.
func (m *Manager) Register(ctx context.Context, proj Projection) error {
	name := proj.Name()

	m.mu.Lock()
	if _, exists := m.projections[name]; exists {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if err := proj.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize projection %s: %w", name, err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	reg := &registration{proj: proj, cancel: cancel, done: make(chan struct{}), state: StateBuilding}

	m.mu.Lock()
	m.projections[name] = reg
	m.mu.Unlock()

	go m.feedLoop(loopCtx, reg)
	return nil
}

// Unregister stops name's feed loop. The projection's materialized state
// and checkpoint are left intact.
func (m *Manager) Unregister(name string) {
	m.mu.Lock()
	reg, ok := m.projections[name]
	if ok {
		delete(m.projections, name)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	reg.cancel()
	<-reg.done
}

// State returns the current lifecycle state of a registered projection.
func (m *Manager) State(name string) (State, bool) {
	m.mu.Lock()
	reg, ok := m.projections[name]
	m.mu.Unlock()
	if !ok {
		return "", false
	}
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.state, true
}

// Rebuild resets a projection's materialized state and checkpoint, then
// restarts its feed loop from position zero. The projection stays
// resumable throughout — a crash mid-rebuild leaves a partial checkpoint
// that the next Rebuild (or plain Register) can continue from.
func (m *Manager) Rebuild(ctx context.Context, name string) error {
	m.mu.Lock()
	reg, ok := m.projections[name]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("projection %s is not registered", name)
	}

	reg.cancel()
	<-reg.done

	reg.mu.Lock()
	reg.state = StateRebuilding
	reg.mu.Unlock()

	if err := reg.proj.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset projection %s: %w", name, err)
	}
	if err := m.checkpoint.Delete(ctx, name); err != nil {
		return fmt.Errorf("failed to clear checkpoint for %s: %w", name, err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	newReg := &registration{proj: reg.proj, cancel: cancel, done: make(chan struct{}), state: StateRebuilding}

	m.mu.Lock()
	m.projections[name] = newReg
	m.mu.Unlock()

	go m.feedLoop(loopCtx, newReg)
	return nil
}

func (m *Manager) feedLoop(ctx context.Context, reg *registration) {
	defer close(reg.done)

	name := reg.proj.Name()
	var sub *broadcast.Subscription[struct{}]
	if m.wake != nil {
		sub = m.wake.Subscribe()
		defer sub.Unsubscribe()
	}

	ticker := time.NewTicker(m.cfg.FallbackPollInterval)
	defer ticker.Stop()

	// Drain whatever is already durable before declaring the projection
	// caught up, exactly like a rebuild replaying from position zero.
	if err := m.drain(ctx, reg); err != nil {
		m.logger.Error("projection feed loop failed", slog.String("projection", name), slog.String("error", err.Error()))
		reg.mu.Lock()
		reg.state = StateFailed
		reg.mu.Unlock()
		return
	}

	reg.mu.Lock()
	reg.state = StateActive
	reg.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			reg.mu.Lock()
			reg.state = StateStopped
			reg.mu.Unlock()
			return
		case <-ticker.C:
		case <-wakeChan(sub):
		}

		if err := m.drain(ctx, reg); err != nil {
			m.logger.Error("projection feed loop failed", slog.String("projection", name), slog.String("error", err.Error()))
			reg.mu.Lock()
			reg.state = StateFailed
			reg.mu.Unlock()
			return
		}
	}
}

func wakeChan(sub *broadcast.Subscription[struct{}]) <-chan struct{} {
	if sub == nil {
		return nil
	}
	return sub.C()
}

// drain pulls and applies events from the projection's checkpoint up to
// the store's current tail, saving a checkpoint every CheckpointFrequency
// events and always at the end of the drain.
func (m *Manager) drain(ctx context.Context, reg *registration) error {
	name := reg.proj.Name()
	cp, err := m.checkpoint.Get(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}

	sinceCheckpoint := int64(0)
	for {
		events, err := m.store.EventsFromPosition(ctx, cp.Position, m.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("failed to read events from position: %w", err)
		}
		if len(events) == 0 {
			break
		}

		for _, event := range events {
			if ShouldHandle(reg.proj, event) {
				if err := reg.proj.HandleEvent(ctx, event); err != nil {
					return fmt.Errorf("handler failed for event %s: %w", event.EventID, err)
				}
			}
			cp.Position = eventstore.Position{Millis: event.RecordedAt.UnixMilli(), EventID: event.EventID}
			cp.EventsProcessed++
			sinceCheckpoint++

			if m.cfg.CheckpointFrequency > 0 && sinceCheckpoint >= m.cfg.CheckpointFrequency {
				if err := m.checkpoint.Save(ctx, cp); err != nil {
					return fmt.Errorf("failed to save checkpoint: %w", err)
				}
				sinceCheckpoint = 0
			}
		}

		if len(events) < m.cfg.BatchSize {
			break
		}
	}

	cp.State = StateActive
	if err := m.checkpoint.Save(ctx, cp); err != nil {
		return fmt.Errorf("failed to save final checkpoint: %w", err)
	}
	return nil
}
