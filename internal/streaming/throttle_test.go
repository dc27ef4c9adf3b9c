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
	"testing"
	"time"
)

func TestThrottle_SlowChunkIncreasesLoadFactor(t *testing.T) {
	th := NewThrottle(100*time.Millisecond, 10*time.Millisecond, time.Second)
	th.Observe(2 * time.Second)
	if got := th.LoadFactor(); got != 1.2 {
		t.Fatalf("expected load factor 1.2, got %v", got)
	}
}

func TestThrottle_FastChunkDecreasesLoadFactor(t *testing.T) {
	th := NewThrottle(100*time.Millisecond, 10*time.Millisecond, time.Second)
	th.Observe(50 * time.Millisecond)
	if got := th.LoadFactor(); got != 0.9 {
		t.Fatalf("expected load factor 0.9, got %v", got)
	}
}

func TestThrottle_LoadFactorCapped(t *testing.T) {
	th := NewThrottle(100*time.Millisecond, 0, time.Hour)
	for i := 0; i < 50; i++ {
		th.Observe(2 * time.Second)
	}
	if got := th.LoadFactor(); got != 5.0 {
		t.Fatalf("expected load factor capped at 5.0, got %v", got)
	}
}

func TestThrottle_LoadFactorFloored(t *testing.T) {
	th := NewThrottle(100*time.Millisecond, 0, time.Hour)
	for i := 0; i < 50; i++ {
		th.Observe(10 * time.Millisecond)
	}
	if got := th.LoadFactor(); got != 0.1 {
		t.Fatalf("expected load factor floored at 0.1, got %v", got)
	}
}

func TestThrottle_DelayClampedToBounds(t *testing.T) {
	th := NewThrottle(100*time.Millisecond, 50*time.Millisecond, 150*time.Millisecond)
	for i := 0; i < 50; i++ {
		th.Observe(2 * time.Second)
	}
	if got := th.Delay(); got != 150*time.Millisecond {
		t.Fatalf("expected delay clamped to max 150ms, got %v", got)
	}
}

func TestThrottle_MidRangeLeavesFactorUnchanged(t *testing.T) {
	th := NewThrottle(100*time.Millisecond, 0, time.Second)
	th.Observe(500 * time.Millisecond)
	if got := th.LoadFactor(); got != 1.0 {
		t.Fatalf("expected load factor unchanged at 1.0 for mid-range processing time, got %v", got)
	}
}
