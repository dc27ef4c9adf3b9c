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
	"strings"
	"testing"
	"time"
)

func TestEvaluateThrottle_85PercentUsedThrottlesWithExpectedDelay(t *testing.T) {
	limits := LimitConfig{Global: GlobalLimits{CostTokenLimits: CostTokenLimits{DailyCostLimit: 10}, Enabled: true}}
	e := NewEnforcer(limits)
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	e.tracker.RecordUsage(ScopeGlobal.Key(""), 0, 8.50, now)

	decision := e.EvaluateThrottle("", now)
	if decision.Kind != Throttle {
		t.Fatalf("expected Throttle, got %s", decision.Kind)
	}
	if decision.DelayMs != 250 {
		t.Fatalf("expected delay_ms ~250, got %d", decision.DelayMs)
	}
	if !strings.Contains(decision.Reason, "daily budget") {
		t.Fatalf("expected reason to mention daily budget, got %q", decision.Reason)
	}
}

func TestEvaluateThrottle_96PercentUsedBlocks(t *testing.T) {
	limits := LimitConfig{Global: GlobalLimits{CostTokenLimits: CostTokenLimits{DailyCostLimit: 10}, Enabled: true}}
	e := NewEnforcer(limits)
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	e.tracker.RecordUsage(ScopeGlobal.Key(""), 0, 9.60, now)

	decision := e.EvaluateThrottle("", now)
	if decision.Kind != Block {
		t.Fatalf("expected Block, got %s", decision.Kind)
	}
	if decision.RetryAfter != time.Hour {
		t.Fatalf("expected 1h retry-after, got %v", decision.RetryAfter)
	}
}

func TestEvaluateThrottle_BelowThresholdAllows(t *testing.T) {
	limits := LimitConfig{Global: GlobalLimits{CostTokenLimits: CostTokenLimits{DailyCostLimit: 10}, Enabled: true}}
	e := NewEnforcer(limits)
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	e.tracker.RecordUsage(ScopeGlobal.Key(""), 0, 2.0, now)

	if got := e.EvaluateThrottle("", now).Kind; got != Allow {
		t.Fatalf("expected Allow at 20%% usage, got %s", got)
	}
}

func TestEvaluateThrottle_ProviderBlocksAbove90Percent(t *testing.T) {
	limits := LimitConfig{
		Global: GlobalLimits{Enabled: false},
		Providers: map[string]ProviderLimits{
			"anthropic": {CostTokenLimits: CostTokenLimits{DailyCostLimit: 20}, Enabled: true},
		},
	}
	e := NewEnforcer(limits)
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	e.tracker.RecordUsage(ScopeProvider.Key("anthropic"), 0, 19, now)

	decision := e.EvaluateThrottle("anthropic", now)
	if decision.Kind != Block {
		t.Fatalf("expected provider block at 95%%, got %s", decision.Kind)
	}
	if decision.RetryAfter != 30*time.Minute {
		t.Fatalf("expected 30m retry-after, got %v", decision.RetryAfter)
	}
}

func TestCheckRequestAllowed_DeniesWhenProjectedCostExceedsDailyLimit(t *testing.T) {
	limits := LimitConfig{Global: GlobalLimits{CostTokenLimits: CostTokenLimits{DailyCostLimit: 10}, Enabled: true}}
	e := NewEnforcer(limits)
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	e.tracker.RecordUsage(ScopeGlobal.Key(""), 0, 9.95, now)

	allowed, violation := e.CheckRequestAllowed("openai", "gpt-4", "", 0, 0.10, now)
	if allowed {
		t.Fatal("expected request to be denied")
	}
	if violation == nil || violation.LimitType != LimitDailyCost {
		t.Fatalf("expected a daily cost violation, got %+v", violation)
	}
}

func TestCheckRequestAllowed_AllowsWithinBudget(t *testing.T) {
	limits := LimitConfig{Global: GlobalLimits{CostTokenLimits: CostTokenLimits{DailyCostLimit: 10}, Enabled: true}}
	e := NewEnforcer(limits)
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	allowed, violation := e.CheckRequestAllowed("openai", "gpt-4", "", 0, 1, now)
	if !allowed || violation != nil {
		t.Fatalf("expected request to be allowed, got violation %+v", violation)
	}
}

func TestCheckRequestAllowed_ModelMaxTokensPerRequest(t *testing.T) {
	limits := LimitConfig{
		Global: GlobalLimits{Enabled: false},
		Models: map[string]ModelLimits{
			"gpt-4": {MaxTokensPerRequest: 1000, Enabled: true},
		},
	}
	e := NewEnforcer(limits)
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	allowed, violation := e.CheckRequestAllowed("openai", "gpt-4", "", 1500, 0, now)
	if allowed {
		t.Fatal("expected request exceeding max tokens per request to be denied")
	}
	if violation.LimitType != LimitTokensPerRequest {
		t.Fatalf("expected a tokens-per-request violation, got %+v", violation)
	}
}

func TestCheckRequestAllowed_GlobalRateLimit(t *testing.T) {
	limits := LimitConfig{Global: GlobalLimits{RequestsPerMinute: 1, Enabled: true}}
	e := NewEnforcer(limits)
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	e.RecordUsage("openai", "gpt-4", "", 1, 0.01, now)

	allowed, violation := e.CheckRequestAllowed("openai", "gpt-4", "", 1, 0.01, now.Add(time.Second))
	if allowed {
		t.Fatal("expected the second request within the same minute to be rate limited")
	}
	if violation.LimitType != LimitRequestsPerMinute {
		t.Fatalf("expected a requests-per-minute violation, got %+v", violation)
	}
}

func TestCalculateDynamicThrottle_BlocksOnSevereProjectedOverage(t *testing.T) {
	e := NewEnforcer(DefaultLimitConfig())
	decision := e.CalculateDynamicThrottle(10, 20, 10) // projects to $100 against a $20 budget
	if decision.Kind != Block {
		t.Fatalf("expected Block for a severe projected overage, got %s", decision.Kind)
	}
}

func TestCalculateDynamicThrottle_ThrottlesOnModestProjectedOverage(t *testing.T) {
	e := NewEnforcer(DefaultLimitConfig())
	decision := e.CalculateDynamicThrottle(2, 20, 10) // projects to $20 against a $20 budget -> at the edge
	if decision.Kind != Allow {
		t.Fatalf("expected Allow when projection exactly meets budget, got %s", decision.Kind)
	}

	decision = e.CalculateDynamicThrottle(2.5, 20, 10) // projects to $25 against a $20 budget
	if decision.Kind != Throttle {
		t.Fatalf("expected Throttle for a modest projected overage, got %s", decision.Kind)
	}
}

func TestCalculateDynamicThrottle_AllowsWithinProjectedBudget(t *testing.T) {
	e := NewEnforcer(DefaultLimitConfig())
	decision := e.CalculateDynamicThrottle(1, 100, 10)
	if decision.Kind != Allow {
		t.Fatalf("expected Allow, got %s", decision.Kind)
	}
}
