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

// Package dispatcher implements cross-service RPC dispatch: registry
// lookup, HTTP call, status-family error classification, and a bounded
// retry policy for transient failures.
package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/relaywork/relay/internal/correlation"
	"github.com/relaywork/relay/internal/registry"
	"github.com/relaywork/relay/pkg/httpclient"
)

// Outcome classifies the result of a dispatched call for metrics and retry
// decisions.
type Outcome string

const (
	OutcomeSuccess      Outcome = "success"
	OutcomeClientError  Outcome = "client_error" // 4xx, permanent
	OutcomeServerError  Outcome = "server_error" // 5xx, transient
	OutcomeTransportErr Outcome = "transport_error"
)

// ServiceError wraps a non-2xx response, classified by HTTP status family.
type ServiceError struct {
	Service    string
	Method     string
	StatusCode int
	Outcome    Outcome
	Body       string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service call %s/%s failed with status %d (%s): %s",
		e.Service, e.Method, e.StatusCode, e.Outcome, e.Body)
}

// RetryPolicy bounds retry of transient outcomes. Idempotency of the call
// itself is the caller's responsibility.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// NoRetry disables retries (a single attempt).
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

// Dispatcher looks up a service instance via registry and issues an HTTP
// call to it.
type Dispatcher struct {
	registry *registry.Registry
	client   *http.Client
	strategy registry.Strategy
	cache    *discoveryCache

	latency *prometheus.HistogramVec

	rateLimit  rate.Limit
	rateBurst  int
	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter
}

// Config configures a Dispatcher.
type Config struct {
	Registry          *registry.Registry
	HTTPClient        httpclient.Config
	Strategy          registry.Strategy
	DiscoveryCacheTTL time.Duration

	// RatePerSecond caps outbound calls per destination service. Zero
	// disables limiting, matching the teacher's integration clients
	// (Datadog, Loki, Elasticsearch, Splunk) which only throttled when
	// a rate was configured.
	RatePerSecond float64
	RateBurst     int
}

// New builds a Dispatcher over cfg.
func New(cfg Config) (*Dispatcher, error) {
	client, err := httpclient.New(cfg.HTTPClient)
	if err != nil {
		return nil, fmt.Errorf("failed to build http client: %w", err)
	}

	strategy := cfg.Strategy
	if strategy == "" {
		strategy = registry.StrategyRoundRobin
	}

	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dispatcher_call_duration_seconds",
		Help:    "Latency of cross-service dispatch calls by service, method, and outcome.",
		Buckets: prometheus.DefBuckets,
	}, []string{"service", "method", "outcome"})

	rateBurst := cfg.RateBurst
	if rateBurst <= 0 {
		rateBurst = 1
	}

	return &Dispatcher{
		registry:  cfg.Registry,
		client:    client,
		strategy:  strategy,
		cache:     newDiscoveryCache(cfg.DiscoveryCacheTTL),
		latency:   latency,
		rateLimit: rate.Limit(cfg.RatePerSecond),
		rateBurst: rateBurst,
		limiters:  make(map[string]*rate.Limiter),
	}, nil
}

// limiterFor returns the per-service token bucket, creating it lazily on
// first use. Each destination service gets its own bucket so a slow or
// rate-limited downstream doesn't throttle calls to unrelated services,
// mirroring the teacher's per-integration rate.Limiter usage.
func (d *Dispatcher) limiterFor(serviceName string) *rate.Limiter {
	d.limitersMu.Lock()
	defer d.limitersMu.Unlock()
	lim, ok := d.limiters[serviceName]
	if !ok {
		lim = rate.NewLimiter(d.rateLimit, d.rateBurst)
		d.limiters[serviceName] = lim
	}
	return lim
}

// Collector returns the Dispatcher's Prometheus collector for registration
// with a metrics registry.
func (d *Dispatcher) Collector() prometheus.Collector {
	return d.latency
}

// CallService looks up service_name's endpoint via the registry, POSTs
// payload as JSON to endpoint/method, and decodes the JSON response. The
// request carries the inbound correlation id as a header. Non-2xx
// responses are classified by status family and returned as a
// *ServiceError; only 5xx (transient) outcomes are eligible for retry.
func (d *Dispatcher) CallService(ctx context.Context, serviceName, method string, payload any, policy RetryPolicy) (json.RawMessage, error) {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}

	var lastErr error
	delay := policy.InitialDelay

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		result, err := d.callOnce(ctx, serviceName, method, payload)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var svcErr *ServiceError
		transient := false
		if asServiceError(err, &svcErr) {
			transient = svcErr.Outcome == OutcomeServerError
		} else {
			transient = true // transport errors are treated as retryable
		}
		if !transient || attempt == policy.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		if delay == 0 {
			delay = policy.InitialDelay
		}
		delay = time.Duration(float64(delay) * policy.Multiplier)
		if policy.MaxDelay > 0 && delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}
	return nil, lastErr
}

func asServiceError(err error, target **ServiceError) bool {
	se, ok := err.(*ServiceError)
	if ok {
		*target = se
	}
	return ok
}

func (d *Dispatcher) callOnce(ctx context.Context, serviceName, method string, payload any) (json.RawMessage, error) {
	if d.rateLimit > 0 {
		if err := d.limiterFor(serviceName).Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait for %s: %w", serviceName, err)
		}
	}

	inst, err := d.lookup(ctx, serviceName)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	url := inst.Endpoint + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if id := correlation.CorrelationID(ctx); id != "" {
		req.Header.Set("X-Correlation-ID", id)
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		d.observe(serviceName, method, OutcomeTransportErr, time.Since(start))
		return nil, fmt.Errorf("request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		d.observe(serviceName, method, OutcomeTransportErr, time.Since(start))
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		outcome := classifyStatus(resp.StatusCode)
		d.observe(serviceName, method, outcome, time.Since(start))
		return nil, &ServiceError{
			Service:    serviceName,
			Method:     method,
			StatusCode: resp.StatusCode,
			Outcome:    outcome,
			Body:       string(respBody),
		}
	}

	d.observe(serviceName, method, OutcomeSuccess, time.Since(start))
	return json.RawMessage(respBody), nil
}

func classifyStatus(statusCode int) Outcome {
	switch {
	case statusCode >= 400 && statusCode < 500:
		return OutcomeClientError
	case statusCode >= 500:
		return OutcomeServerError
	default:
		return OutcomeTransportErr
	}
}

func (d *Dispatcher) observe(service, method string, outcome Outcome, elapsed time.Duration) {
	if d.latency == nil {
		return
	}
	d.latency.WithLabelValues(service, method, string(outcome)).Observe(elapsed.Seconds())
}

func (d *Dispatcher) lookup(ctx context.Context, serviceName string) (*registry.Instance, error) {
	return d.registry.SelectInstance(ctx, serviceName, d.strategy)
}

// DiscoverServices returns Healthy instances advertising capability,
// serving from the discovery cache when the entry is fresh and refreshing
// lazily on a stale or missing entry.
func (d *Dispatcher) DiscoverServices(ctx context.Context, capability string) ([]*registry.Instance, error) {
	if cached, ok := d.cache.get(capability); ok {
		return cached, nil
	}

	instances, err := d.registry.DiscoverByCapability(ctx, capability)
	if err != nil {
		return nil, err
	}
	d.cache.set(capability, instances)
	return instances, nil
}
