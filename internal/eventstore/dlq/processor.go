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

package dlq

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Handler retries a dead-lettered event. A nil error marks the entry
// Resolved; a non-nil error feeds IncrementRetry's backoff/exceeded logic.
type Handler func(ctx context.Context, entry *Entry) error

// Processor wakes on a fixed interval, pulls retry-eligible entries from a
// Queue, and runs each through a caller-supplied Handler. Cancellation via
// Stop is checked at the next tick boundary — a batch already in flight
// runs to completion rather than aborting mid-way.
type Processor struct {
	queue   Queue
	handler Handler
	cfg     Config
	logger  *slog.Logger

	batchSize int

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
}

// NewProcessor builds a Processor over queue, draining up to batchSize
// candidates per tick through handler.
func NewProcessor(queue Queue, handler Handler, cfg Config, batchSize int, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Processor{
		queue:     queue,
		handler:   handler,
		cfg:       cfg,
		logger:    logger,
		batchSize: batchSize,
	}
}

// Start launches the background processing loop. It is a no-op if already
// running or if the queue is disabled.
func (p *Processor) Start(ctx context.Context) {
	if !p.cfg.Enabled {
		return
	}
	if !p.running.CompareAndSwap(false, true) {
		return
	}

	p.mu.Lock()
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	stopCh := p.stopCh
	doneCh := p.doneCh
	p.mu.Unlock()

	go p.run(ctx, stopCh, doneCh)
}

func (p *Processor) run(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(p.cfg.ProcessingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.running.Store(false)
			return
		case <-stopCh:
			p.running.Store(false)
			return
		case <-ticker.C:
			if !p.running.Load() {
				return
			}
			if err := p.ProcessRetries(ctx); err != nil {
				p.logger.Error("dead-letter processing pass failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Stop signals the processor to halt after its current tick. It blocks
// until the loop goroutine has exited.
func (p *Processor) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	p.mu.Lock()
	stopCh := p.stopCh
	doneCh := p.doneCh
	p.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}
	if doneCh != nil {
		<-doneCh
	}
}

// IsRunning reports whether the processing loop is active.
func (p *Processor) IsRunning() bool {
	return p.running.Load()
}

// ProcessRetries runs a single pass: pull due candidates and retry each
// through the handler. Exposed directly so callers can trigger an
// out-of-band pass without waiting for the ticker.
func (p *Processor) ProcessRetries(ctx context.Context) error {
	candidates, err := p.queue.RetryCandidates(ctx, p.batchSize)
	if err != nil {
		return err
	}

	for _, entry := range candidates {
		p.retryOne(ctx, entry)
	}
	return nil
}

func (p *Processor) retryOne(ctx context.Context, entry *Entry) {
	if err := p.queue.MarkRetrying(ctx, entry.ID); err != nil {
		p.logger.Error("failed to mark entry retrying",
			slog.String("entry_id", entry.ID), slog.String("error", err.Error()))
		return
	}

	err := p.handler(ctx, entry)
	if err == nil {
		if markErr := p.queue.MarkResolved(ctx, entry.ID); markErr != nil {
			p.logger.Error("failed to mark entry resolved",
				slog.String("entry_id", entry.ID), slog.String("error", markErr.Error()))
		}
		return
	}

	p.logger.Warn("dead-letter retry failed",
		slog.String("entry_id", entry.ID),
		slog.Int("retry_count", entry.RetryCount),
		slog.String("error", err.Error()))

	if incErr := p.queue.IncrementRetry(ctx, entry.ID, err.Error(), p.cfg); incErr != nil {
		p.logger.Error("failed to increment retry count",
			slog.String("entry_id", entry.ID), slog.String("error", incErr.Error()))
	}
}
