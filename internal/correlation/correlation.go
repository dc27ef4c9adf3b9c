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

// Package correlation propagates a correlation ID and an optional causation
// ID through a context.Context, so every event, log line, and downstream
// call made while handling a request carries the same identifiers.
package correlation

import (
	"context"

	"github.com/google/uuid"
)

type contextKey int

const (
	correlationKey contextKey = iota
	causationKey
)

// New generates a fresh correlation ID (UUIDv4).
func New() string {
	return uuid.NewString()
}

// WithCorrelationID returns a context carrying id as the active correlation
// ID. If id is empty, a new one is generated so callers never have to guard
// against a blank value downstream.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = New()
	}
	return context.WithValue(ctx, correlationKey, id)
}

// CorrelationID returns the correlation ID carried by ctx, or "" if none was
// ever set.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey).(string)
	return id
}

// EnsureCorrelationID returns ctx unchanged if it already carries a
// correlation ID, otherwise returns a new context with a freshly generated
// one. Entry points (HTTP handlers, step executors, transport receive loops)
// call this once so everything downstream can rely on CorrelationID being
// non-empty.
func EnsureCorrelationID(ctx context.Context) context.Context {
	if CorrelationID(ctx) != "" {
		return ctx
	}
	return WithCorrelationID(ctx, "")
}

// WithCausationID returns a context recording id as the ID of the event or
// command that caused whatever happens next. Causation forms a chain
// (event A causes command B causes event C); correlation stays constant
// across the whole chain.
func WithCausationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, causationKey, id)
}

// CausationID returns the causation ID carried by ctx, or "" if none was set.
func CausationID(ctx context.Context) string {
	id, _ := ctx.Value(causationKey).(string)
	return id
}

// LogAttrs returns the correlation/causation IDs carried by ctx as a flat
// slog-style attribute slice (key, value, key, value, ...), omitting any
// identifier that isn't set. Intended to be spread into a structured log
// call alongside the call's own attributes.
func LogAttrs(ctx context.Context) []any {
	var attrs []any
	if id := CorrelationID(ctx); id != "" {
		attrs = append(attrs, "correlation_id", id)
	}
	if id := CausationID(ctx); id != "" {
		attrs = append(attrs, "causation_id", id)
	}
	return attrs
}
