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

// Package budget implements the budget enforcement system: per-scope
// spending limits, rolling usage windows, graduated throttle decisions,
// and threshold alerts.
package budget

import "time"

// Scope identifies which axis a limit or usage window applies to.
type Scope string

const (
	ScopeGlobal   Scope = "global"
	ScopeProvider Scope = "provider"
	ScopeModel    Scope = "model"
	ScopeUser     Scope = "user"
)

// Key returns the usage-window lookup key for this scope and its name
// (empty for ScopeGlobal, which has exactly one window).
func (s Scope) Key(name string) string {
	if s == ScopeGlobal || name == "" {
		return string(s)
	}
	return string(s) + ":" + name
}

// CostTokenLimits bounds spend and token consumption over day and month
// windows. A zero value for a limit means "unbounded" for that axis.
type CostTokenLimits struct {
	DailyCostLimit    float64
	MonthlyCostLimit  float64
	DailyTokenLimit   int64
	MonthlyTokenLimit int64
}

// GlobalLimits are the system-wide spending ceiling, checked before any
// narrower scope.
type GlobalLimits struct {
	CostTokenLimits
	RequestsPerMinute int
	RequestsPerHour   int
	Enabled           bool
}

// ProviderLimits bound spend for a single upstream provider (e.g. openai,
// anthropic).
type ProviderLimits struct {
	CostTokenLimits
	RequestsPerMinute int
	Enabled           bool
}

// ModelLimits bound spend and per-request token use for a single model.
type ModelLimits struct {
	CostTokenLimits
	MaxTokensPerRequest int
	Enabled             bool
}

// UserLimits bound spend for a single caller-supplied user id.
type UserLimits struct {
	CostTokenLimits
	RequestsPerHour int
	Enabled         bool
}

// LimitConfig is the full budget configuration: a global ceiling plus
// optional narrower overrides keyed by provider, model, and user id.
type LimitConfig struct {
	Global    GlobalLimits
	Providers map[string]ProviderLimits
	Models    map[string]ModelLimits
	Users     map[string]UserLimits
	Alerting  AlertingConfig
}

// DefaultLimitConfig returns conservative day-one defaults: a $100/day,
// $2000/month global cost ceiling, 1M/30M daily/monthly tokens, 100
// requests/minute and 1000/hour, with two standard cost alerts (80% and
// 95% of the global daily limit) and a 30 minute alert cooldown.
func DefaultLimitConfig() LimitConfig {
	return LimitConfig{
		Global: GlobalLimits{
			CostTokenLimits: CostTokenLimits{
				DailyCostLimit:    100,
				MonthlyCostLimit:  2000,
				DailyTokenLimit:   1_000_000,
				MonthlyTokenLimit: 30_000_000,
			},
			RequestsPerMinute: 100,
			RequestsPerHour:   1000,
			Enabled:           true,
		},
		Providers: map[string]ProviderLimits{},
		Models:    map[string]ModelLimits{},
		Users:     map[string]UserLimits{},
		Alerting: AlertingConfig{
			Enabled: true,
			Thresholds: []AlertThreshold{
				{Name: "global-daily-cost-warning", Type: ThresholdCost, Percentage: 80, Scope: ScopeGlobal},
				{Name: "global-daily-cost-critical", Type: ThresholdCost, Percentage: 95, Scope: ScopeGlobal},
			},
			CooldownMinutes: 30,
		},
	}
}

// globalBlockThreshold and globalThrottleThreshold are the percentage-of-
// daily-cost-limit breakpoints for the global scope: above 95% the request
// is blocked outright, above 80% it is throttled proportionally to how far
// over the soft limit it has gone.
const (
	globalBlockThreshold    = 95.0
	globalThrottleThreshold = 80.0
	globalBlockRetryAfter   = time.Hour
	globalRateBlockRetry    = time.Minute

	providerBlockThreshold  = 90.0
	providerBlockRetryAfter = 30 * time.Minute
)
