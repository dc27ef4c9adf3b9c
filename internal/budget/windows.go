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

package budget

import (
	"sync"
	"time"
)

// Window is a rolling usage aggregate for one scope key over one
// granularity (day, month, minute, hour). It resets to zero the moment
// Now() crosses into a new period boundary.
type Window struct {
	Start       time.Time
	Requests    int64
	TotalTokens int64
	TotalCost   float64
}

// Tracker holds the live usage windows for every scope key, at every
// granularity a limit or rate check needs. Daily and monthly windows
// reset at UTC midnight and the first of the month respectively; minute
// and hour windows reset on the corresponding clock boundary, kept
// separate from the spend windows so request-rate limiting doesn't
// inherit a day-long accumulation period.
type Tracker struct {
	mu      sync.Mutex
	daily   map[string]*Window
	monthly map[string]*Window
	minute  map[string]*Window
	hour    map[string]*Window
}

// NewTracker returns an empty usage tracker.
func NewTracker() *Tracker {
	return &Tracker{
		daily:   make(map[string]*Window),
		monthly: make(map[string]*Window),
		minute:  make(map[string]*Window),
		hour:    make(map[string]*Window),
	}
}

// RecordUsage folds one request's token and cost usage into every
// granularity's window for key, rolling over any window whose boundary
// has passed.
func (t *Tracker) RecordUsage(key string, tokens int64, cost float64, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fold(t.daily, key, startOfDay(now), now, tokens, cost)
	fold(t.monthly, key, startOfMonth(now), now, tokens, cost)
	fold(t.minute, key, startOfMinute(now), now, tokens, cost)
	fold(t.hour, key, startOfHour(now), now, tokens, cost)
}

func fold(windows map[string]*Window, key string, periodStart, now time.Time, tokens int64, cost float64) {
	w, ok := windows[key]
	if !ok || w.Start.Before(periodStart) {
		w = &Window{Start: periodStart}
		windows[key] = w
	}
	w.Requests++
	w.TotalTokens += tokens
	w.TotalCost += cost
}

// Daily returns a snapshot of key's current daily window as of now,
// without mutating tracker state or counting a request.
func (t *Tracker) Daily(key string, now time.Time) Window {
	return t.peek(t.daily, key, startOfDay(now))
}

// Monthly returns a snapshot of key's current monthly window as of now.
func (t *Tracker) Monthly(key string, now time.Time) Window {
	return t.peek(t.monthly, key, startOfMonth(now))
}

// MinuteRequests returns the request count in key's current one-minute
// window as of now.
func (t *Tracker) MinuteRequests(key string, now time.Time) int64 {
	return t.peek(t.minute, key, startOfMinute(now)).Requests
}

// HourRequests returns the request count in key's current one-hour
// window as of now.
func (t *Tracker) HourRequests(key string, now time.Time) int64 {
	return t.peek(t.hour, key, startOfHour(now)).Requests
}

func (t *Tracker) peek(windows map[string]*Window, key string, periodStart time.Time) Window {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := windows[key]
	if !ok || w.Start.Before(periodStart) {
		return Window{Start: periodStart}
	}
	return *w
}

// Reset clears every window for key. An empty key clears all tracked
// usage; useful for tests and manual administrative resets.
func (t *Tracker) Reset(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if key == "" {
		t.daily = make(map[string]*Window)
		t.monthly = make(map[string]*Window)
		t.minute = make(map[string]*Window)
		t.hour = make(map[string]*Window)
		return
	}
	delete(t.daily, key)
	delete(t.monthly, key)
	delete(t.minute, key)
	delete(t.hour, key)
}

func startOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func startOfMonth(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func startOfMinute(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), u.Hour(), u.Minute(), 0, 0, time.UTC)
}

func startOfHour(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), u.Hour(), 0, 0, 0, time.UTC)
}
