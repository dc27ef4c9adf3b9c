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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/relaywork/relay/internal/broadcast"
	"github.com/relaywork/relay/internal/budget"
	"github.com/relaywork/relay/internal/correlation"
	"github.com/relaywork/relay/internal/eventstore"
	"github.com/relaywork/relay/internal/log"
	"github.com/relaywork/relay/internal/mcptransport"
	"github.com/relaywork/relay/internal/registry"
	"github.com/relaywork/relay/internal/streaming"
	"github.com/relaywork/relay/pkg/errors"
	"github.com/relaywork/relay/pkg/workflow"
)

// server wires the daemon's HTTP surface to the workflow engine's
// components. Routes are deliberately minimal per spec.md's Non-goals
// (CLI entry points and route middleware are out of scope); this is the
// smoke-test surface the spec calls for, not a full API gateway.
type server struct {
	logger   *slog.Logger
	store    eventstore.Store
	enforcer *budget.Enforcer
	events   *broadcast.Topic[*eventstore.Envelope]
	executor *workflow.Executor
	registry *registry.Registry
	mcp      mcptransport.Transport
	version  string
}

type serverDeps struct {
	logger   *slog.Logger
	store    eventstore.Store
	enforcer *budget.Enforcer
	events   *broadcast.Topic[*eventstore.Envelope]
	executor *workflow.Executor
	registry *registry.Registry
	mcp      mcptransport.Transport
	version  string
}

func newServer(deps serverDeps) *server {
	return &server{
		logger:   deps.logger,
		store:    deps.store,
		enforcer: deps.enforcer,
		events:   deps.events,
		executor: deps.executor,
		registry: deps.registry,
		mcp:      deps.mcp,
		version:  deps.version,
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /v1/workflows/run", s.handleRunWorkflow)
	mux.HandleFunc("GET /v1/events/stream", s.handleEventStream)
	mux.HandleFunc("GET /v1/registry/instances", s.handleListInstances)
	return s.withCorrelation(mux)
}

// withCorrelation ensures every request carries a correlation ID (taken
// from the X-Correlation-ID header if present), echoes it back, and logs
// the request once it completes.
func (s *server) withCorrelation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := correlation.WithCorrelationID(r.Context(), r.Header.Get("X-Correlation-ID"))
		corrID := correlation.CorrelationID(ctx)
		w.Header().Set("X-Correlation-ID", corrID)

		next.ServeHTTP(w, r.WithContext(ctx))

		s.logger.Info("http request",
			append(correlation.LogAttrs(ctx),
				"method", r.Method,
				"path", r.URL.Path,
				"duration_ms", time.Since(start).Milliseconds(),
			)...,
		)
	})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}

func (s *server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	instances, err := s.registry.GetServiceInstances(r.Context(), name)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, instances)
}

// runWorkflowRequest is the POST /v1/workflows/run body: an inline
// workflow definition plus its input values.
type runWorkflowRequest struct {
	Definition json.RawMessage        `json:"definition"`
	Inputs     map[string]interface{} `json:"inputs"`
}

func (s *server) handleRunWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req runWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": fmt.Sprintf("invalid request body: %v", err)})
		return
	}

	def, err := workflow.ParseDefinition(req.Definition)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	if err := def.Validate(); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": err.Error()})
		return
	}

	if allowed, violation := s.enforcer.CheckRequestAllowed("workflow", def.Name, "", 0, 0, time.Now()); !allowed {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": "budget exceeded", "violation": violation})
		return
	}

	aggregateID := def.Name
	startedAt := time.Now()

	stepResults, outErr := s.runSteps(ctx, def, req.Inputs)

	version, _ := s.store.AggregateVersion(ctx, aggregateID)
	eventType := "workflow.completed"
	payload := map[string]any{"name": def.Name, "outputs": stepResults, "duration_ms": time.Since(startedAt).Milliseconds()}
	if outErr != nil {
		eventType = "workflow.failed"
		payload["error"] = outErr.Error()
	}
	data, _ := json.Marshal(payload)
	envelope := eventstore.NewEnvelope(aggregateID, "workflow", eventType, version+1, data)
	envelope.Metadata.CorrelationID = correlation.CorrelationID(ctx)
	if err := s.store.Append(ctx, envelope); err != nil {
		s.logger.Warn("failed to persist workflow completion event", log.Error(err))
	}
	s.events.Publish(envelope)

	if outErr != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": outErr.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"outputs": stepResults})
}

// runSteps executes def's steps sequentially against fresh workflow
// context seeded from inputs, mirroring the executor's own sub-workflow
// loop (pkg/workflow/executor.go's executeWorkflow) at the root level.
func (s *server) runSteps(ctx context.Context, def *workflow.Definition, inputs map[string]interface{}) (map[string]map[string]interface{}, error) {
	workflowContext := make(map[string]interface{})
	for _, in := range def.Inputs {
		if v, ok := inputs[in.Name]; ok {
			workflowContext[in.Name] = v
		} else if in.Default != nil {
			workflowContext[in.Name] = in.Default
		} else if in.Required {
			return nil, &errors.ValidationError{
				Field:      in.Name,
				Message:    fmt.Sprintf("required input %q not provided", in.Name),
				Suggestion: "include it in the request's inputs object",
			}
		}
	}

	stepResults := make(map[string]map[string]interface{})
	for i := range def.Steps {
		workflowContext["steps"] = stepResults
		result, err := s.executor.Execute(ctx, &def.Steps[i], workflowContext)
		if err != nil {
			return stepResults, fmt.Errorf("step %q: %w", def.Steps[i].ID, err)
		}
		stepResults[def.Steps[i].ID] = result.Output
	}
	return stepResults, nil
}

// handleEventStream serves Server-Sent Events for every envelope appended
// to the store, e.g. to watch workflow.completed/workflow.failed events
// across concurrent runs.
func (s *server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sub := s.events.Subscribe()
	defer sub.Unsubscribe()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case envelope, ok := <-sub.C():
			if !ok {
				return
			}
			if err := streaming.WriteFrame(w, streaming.Frame{Event: envelope.EventType, Data: envelope}); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
