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

package registry

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// StaleConfig tunes the heartbeat staleness sweep.
type StaleConfig struct {
	// UnhealthyAfter marks an instance Unhealthy once last_seen is older
	// than this.
	UnhealthyAfter time.Duration

	// EvictAfter removes an instance entirely once last_seen is older than
	// this. Must be >= UnhealthyAfter to have any effect.
	EvictAfter time.Duration

	// SweepInterval is how often the background sweep runs.
	SweepInterval time.Duration
}

// DefaultStaleConfig returns the sweep's baseline tuning.
func DefaultStaleConfig() StaleConfig {
	return StaleConfig{
		UnhealthyAfter: 30 * time.Second,
		EvictAfter:     5 * time.Minute,
		SweepInterval:  10 * time.Second,
	}
}

// Registry is an in-memory, RWMutex-guarded store of service instances. It
// mirrors state persisted by an external agent store — this package owns
// only the runtime view (health, heartbeats, load-balancing selection).
type Registry struct {
	mu        sync.RWMutex
	instances map[string]*Instance
	byName    map[string][]string // name -> instance ids, for round-robin ordering

	rrMu       sync.Mutex
	rrCounters map[string]*atomic.Uint64

	logger *slog.Logger
}

// New creates an empty Registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		instances:  make(map[string]*Instance),
		byName:     make(map[string][]string),
		rrCounters: make(map[string]*atomic.Uint64),
		logger:     logger,
	}
}

// roundRobinCounter returns the shared atomic counter for name, creating it
// if this is the first call for that name.
func (r *Registry) roundRobinCounter(name string) *atomic.Uint64 {
	r.rrMu.Lock()
	defer r.rrMu.Unlock()
	c, ok := r.rrCounters[name]
	if !ok {
		c = &atomic.Uint64{}
		r.rrCounters[name] = c
	}
	return c
}

// Register adds a new instance for cfg, assigning it a fresh UUID and
// setting registered_at = last_seen = now with Health Unknown.
func (r *Registry) Register(ctx context.Context, cfg Config, metadata map[string]string) (*Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	inst := &Instance{
		ID:           uuid.NewString(),
		Name:         cfg.Name,
		Endpoint:     cfg.Endpoint,
		Capabilities: cfg.Capabilities,
		Metadata:     metadata,
		Health:       HealthUnknown,
		RegisteredAt: now,
		LastSeen:     now,
	}

	r.instances[inst.ID] = inst
	r.byName[inst.Name] = append(r.byName[inst.Name], inst.ID)

	r.logger.Info("registered service instance",
		slog.String("instance_id", inst.ID), slog.String("name", inst.Name), slog.String("endpoint", inst.Endpoint))
	return inst, nil
}

// Unregister removes id from the registry.
func (r *Registry) Unregister(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unregisterLocked(id)
}

func (r *Registry) unregisterLocked(id string) error {
	inst, ok := r.instances[id]
	if !ok {
		return &NotFoundError{ID: id}
	}
	delete(r.instances, id)

	ids := r.byName[inst.Name]
	for i, existing := range ids {
		if existing == id {
			r.byName[inst.Name] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(r.byName[inst.Name]) == 0 {
		delete(r.byName, inst.Name)
	}
	return nil
}

// UpdateHealthStatus sets id's health and bumps last_seen to now.
func (r *Registry) UpdateHealthStatus(ctx context.Context, id string, health Health) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.instances[id]
	if !ok {
		return &NotFoundError{ID: id}
	}
	inst.Health = health
	inst.LastSeen = time.Now()
	return nil
}

// UpdateLoad records the latest load metrics for id, consumed by the
// LeastConnections/ResponseTime/WeightedRoundRobin strategies.
func (r *Registry) UpdateLoad(ctx context.Context, id string, activeConnections int, avgResponseTimeMs, cpuPercent, memoryPercent float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.instances[id]
	if !ok {
		return &NotFoundError{ID: id}
	}
	inst.ActiveConnections = activeConnections
	inst.AvgResponseTimeMs = avgResponseTimeMs
	inst.CPUPercent = cpuPercent
	inst.MemoryPercent = memoryPercent
	return nil
}

// DiscoverByCapability returns every Healthy instance whose capability set
// contains cap.
func (r *Registry) DiscoverByCapability(ctx context.Context, cap string) ([]*Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Instance
	for _, inst := range r.instances {
		if inst.Health == HealthHealthy && inst.HasCapability(cap) {
			out = append(out, inst)
		}
	}
	return out, nil
}

// GetServiceInstances returns all instances of name regardless of health.
func (r *Registry) GetServiceInstances(ctx context.Context, name string) ([]*Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byName[name]
	out := make([]*Instance, 0, len(ids))
	for _, id := range ids {
		if inst, ok := r.instances[id]; ok {
			out = append(out, inst)
		}
	}
	return out, nil
}

// GetByID returns a single instance.
func (r *Registry) GetByID(ctx context.Context, id string) (*Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inst, ok := r.instances[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	return inst, nil
}

// sweepStale marks instances unhealthy once stale beyond
// cfg.UnhealthyAfter and evicts them once stale beyond cfg.EvictAfter.
func (r *Registry) sweepStale(cfg StaleConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for id, inst := range r.instances {
		age := now.Sub(inst.LastSeen)
		if age > cfg.EvictAfter {
			r.logger.Warn("evicting stale service instance",
				slog.String("instance_id", id), slog.String("name", inst.Name), slog.Duration("age", age))
			r.unregisterLocked(id)
			continue
		}
		if age > cfg.UnhealthyAfter && inst.Health != HealthUnhealthy {
			r.logger.Info("marking service instance unhealthy due to missed heartbeats",
				slog.String("instance_id", id), slog.String("name", inst.Name), slog.Duration("age", age))
			inst.Health = HealthUnhealthy
		}
	}
}

// StartStaleSweep runs the background staleness sweep until ctx is
// cancelled.
func (r *Registry) StartStaleSweep(ctx context.Context, cfg StaleConfig) {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 10 * time.Second
	}
	ticker := time.NewTicker(cfg.SweepInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sweepStale(cfg)
			}
		}
	}()
}
