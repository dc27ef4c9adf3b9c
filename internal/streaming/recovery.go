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
	"log/slog"
	"math"
	"time"
)

// RecoveryConfig tunes reconnect behavior when a provider's stream ends
// early with an error instead of an is_final chunk.
type RecoveryConfig struct {
	MaxReconnectAttempts int
	BaseBackoff          time.Duration
	MaxBackoff           time.Duration
}

// DefaultRecoveryConfig matches the Rust original's defaults.
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		MaxReconnectAttempts: 3,
		BaseBackoff:          500 * time.Millisecond,
		MaxBackoff:           10 * time.Second,
	}
}

// RecoveryProvider wraps a Provider, transparently reconnecting and
// resuming emission on a mid-stream error up to cfg.MaxReconnectAttempts.
// A reconnect re-issues the same prompt from scratch — the wrapped
// provider has no notion of resuming partway through a response, so the
// caller sees a fresh chunk sequence starting over, not a gapless splice.
type RecoveryProvider struct {
	inner  Provider
	cfg    RecoveryConfig
	logger *slog.Logger
}

// NewRecoveryProvider wraps inner with reconnect-on-error behavior.
func NewRecoveryProvider(inner Provider, cfg RecoveryConfig, logger *slog.Logger) *RecoveryProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecoveryProvider{inner: inner, cfg: cfg, logger: logger}
}

func (p *RecoveryProvider) ProviderName() string    { return p.inner.ProviderName() }
func (p *RecoveryProvider) SupportsStreaming() bool { return p.inner.SupportsStreaming() }

// StreamResponse streams from the wrapped provider, reconnecting on a
// mid-stream error until cfg.MaxReconnectAttempts is exhausted.
func (p *RecoveryProvider) StreamResponse(ctx context.Context, prompt string, cfg Config) (<-chan Result, error) {
	out := make(chan Result)
	go p.run(ctx, prompt, cfg, out)
	return out, nil
}

func (p *RecoveryProvider) run(ctx context.Context, prompt string, cfg Config, out chan<- Result) {
	defer close(out)

	attempt := 0
	for {
		inner, err := p.inner.StreamResponse(ctx, prompt, cfg)
		if err != nil {
			if !p.retry(ctx, out, attempt, err) {
				return
			}
			attempt++
			continue
		}

		streamErr := p.drain(ctx, inner, out)
		if streamErr == nil {
			return
		}
		if !p.retry(ctx, out, attempt, streamErr) {
			return
		}
		attempt++
	}
}

// drain forwards every result from inner to out, stopping at the first
// is_final chunk (success, returns nil) or the first error (returns it
// without forwarding, so the caller can decide whether to reconnect).
func (p *RecoveryProvider) drain(ctx context.Context, inner <-chan Result, out chan<- Result) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res, ok := <-inner:
			if !ok {
				return nil
			}
			if res.Err != nil {
				return res.Err
			}
			select {
			case out <- res:
			case <-ctx.Done():
				return ctx.Err()
			}
			if res.Chunk.IsFinal {
				return nil
			}
		}
	}
}

// retry reports whether another reconnect attempt should be made,
// sleeping for an exponential backoff first. It pushes the terminal error
// onto out and returns false once attempts are exhausted.
func (p *RecoveryProvider) retry(ctx context.Context, out chan<- Result, attempt int, cause error) bool {
	if attempt >= p.cfg.MaxReconnectAttempts {
		select {
		case out <- Result{Err: &ConnectionError{Message: cause.Error()}}:
		case <-ctx.Done():
		}
		return false
	}

	delay := time.Duration(float64(p.cfg.BaseBackoff) * math.Pow(2, float64(attempt)))
	if p.cfg.MaxBackoff > 0 && delay > p.cfg.MaxBackoff {
		delay = p.cfg.MaxBackoff
	}
	p.logger.Warn("streaming provider reconnecting after error",
		slog.String("provider", p.inner.ProviderName()), slog.Int("attempt", attempt+1), slog.Duration("backoff", delay), slog.String("cause", cause.Error()))

	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}
