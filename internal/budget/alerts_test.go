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
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type countingNotifier struct {
	calls atomic.Int32
}

func (n *countingNotifier) Notify(_ context.Context, _ NotificationChannel, _ AlertThreshold, _ float64) error {
	n.calls.Add(1)
	return nil
}

func TestRecordUsage_FiresAlertOnceThresholdCrossed(t *testing.T) {
	limits := LimitConfig{
		Global: GlobalLimits{CostTokenLimits: CostTokenLimits{DailyCostLimit: 10}, Enabled: true},
		Alerting: AlertingConfig{
			Enabled:         true,
			Thresholds:      []AlertThreshold{{Name: "warn", Type: ThresholdCost, Percentage: 80, Scope: ScopeGlobal}},
			CooldownMinutes: 30,
		},
	}
	e := NewEnforcer(limits)
	notifier := &countingNotifier{}
	e.SetNotifier(notifier)

	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	e.RecordUsage("openai", "gpt-4", "", 0, 9, now)

	if got := notifier.calls.Load(); got != 1 {
		t.Fatalf("expected exactly 1 alert, got %d", got)
	}
}

func TestRecordUsage_CooldownSuppressesRepeatedAlerts(t *testing.T) {
	limits := LimitConfig{
		Global: GlobalLimits{CostTokenLimits: CostTokenLimits{DailyCostLimit: 10}, Enabled: true},
		Alerting: AlertingConfig{
			Enabled:         true,
			Thresholds:      []AlertThreshold{{Name: "warn", Type: ThresholdCost, Percentage: 80, Scope: ScopeGlobal}},
			CooldownMinutes: 30,
		},
	}
	e := NewEnforcer(limits)
	notifier := &countingNotifier{}
	e.SetNotifier(notifier)

	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	e.RecordUsage("openai", "gpt-4", "", 0, 9, now)
	e.RecordUsage("openai", "gpt-4", "", 0, 0.1, now.Add(time.Minute))

	if got := notifier.calls.Load(); got != 1 {
		t.Fatalf("expected the second alert to be suppressed by cooldown, got %d calls", got)
	}
}

func TestRecordUsage_AlertFiresAgainAfterCooldownExpires(t *testing.T) {
	limits := LimitConfig{
		Global: GlobalLimits{CostTokenLimits: CostTokenLimits{DailyCostLimit: 10}, Enabled: true},
		Alerting: AlertingConfig{
			Enabled:         true,
			Thresholds:      []AlertThreshold{{Name: "warn", Type: ThresholdCost, Percentage: 80, Scope: ScopeGlobal}},
			CooldownMinutes: 30,
		},
	}
	e := NewEnforcer(limits)
	notifier := &countingNotifier{}
	e.SetNotifier(notifier)

	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	e.RecordUsage("openai", "gpt-4", "", 0, 9, now)
	e.RecordUsage("openai", "gpt-4", "", 0, 0.1, now.Add(31*time.Minute))

	if got := notifier.calls.Load(); got != 2 {
		t.Fatalf("expected the alert to fire again after the cooldown window passed, got %d calls", got)
	}
}

func TestRecordUsage_NoAlertBelowThreshold(t *testing.T) {
	limits := LimitConfig{
		Global: GlobalLimits{CostTokenLimits: CostTokenLimits{DailyCostLimit: 10}, Enabled: true},
		Alerting: AlertingConfig{
			Enabled:         true,
			Thresholds:      []AlertThreshold{{Name: "warn", Type: ThresholdCost, Percentage: 80, Scope: ScopeGlobal}},
			CooldownMinutes: 30,
		},
	}
	e := NewEnforcer(limits)
	notifier := &countingNotifier{}
	e.SetNotifier(notifier)

	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	e.RecordUsage("openai", "gpt-4", "", 0, 1, now)

	if got := notifier.calls.Load(); got != 0 {
		t.Fatalf("expected no alert below threshold, got %d calls", got)
	}
}
