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
	"fmt"
	"sync"
	"time"
)

// DecisionKind is the outcome category of a throttle evaluation.
type DecisionKind string

const (
	Allow    DecisionKind = "allow"
	Throttle DecisionKind = "throttle"
	Block    DecisionKind = "block"
)

// Decision is the result of evaluating a request (or an in-flight
// streaming response) against the configured budget. Only the fields
// relevant to Kind are populated: DelayMs and Percentage for Throttle,
// Reason and RetryAfter for Throttle and Block.
type Decision struct {
	Kind       DecisionKind
	DelayMs    int
	Percentage float64
	Reason     string
	RetryAfter time.Duration
}

func allowDecision() Decision {
	return Decision{Kind: Allow}
}

func throttleDecision(delayMs int, pct float64, reason string) Decision {
	return Decision{Kind: Throttle, DelayMs: delayMs, Percentage: pct, Reason: reason}
}

func blockDecision(reason string, retryAfter time.Duration) Decision {
	return Decision{Kind: Block, Reason: reason, RetryAfter: retryAfter}
}

// LimitType names the specific axis a Violation was recorded against.
type LimitType string

const (
	LimitDailyCost         LimitType = "daily_cost"
	LimitMonthlyCost       LimitType = "monthly_cost"
	LimitDailyTokens       LimitType = "daily_tokens"
	LimitMonthlyTokens     LimitType = "monthly_tokens"
	LimitRequestsPerMinute LimitType = "requests_per_minute"
	LimitRequestsPerHour   LimitType = "requests_per_hour"
	LimitTokensPerRequest  LimitType = "tokens_per_request"
)

// Violation records a single hard-limit denial for later inspection
// (dashboards, audit trails).
type Violation struct {
	Timestamp      time.Time
	LimitType      LimitType
	Scope          Scope
	ScopeName      string
	CurrentValue   float64
	LimitValue     float64
	PercentageUsed float64
}

// Enforcer evaluates and tracks budget usage across the global,
// provider, model, and user scopes.
type Enforcer struct {
	mu         sync.Mutex
	limits     LimitConfig
	tracker    *Tracker
	violations []Violation
	alerts     *alertState
}

// NewEnforcer builds an Enforcer over limits, with a fresh, empty usage
// tracker.
func NewEnforcer(limits LimitConfig) *Enforcer {
	return &Enforcer{
		limits:  limits,
		tracker: NewTracker(),
		alerts:  newAlertState(),
	}
}

// UpdateConfig replaces the enforcer's limit configuration in place.
// Usage history is left untouched.
func (e *Enforcer) UpdateConfig(limits LimitConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.limits = limits
}

// Violations returns recorded violations at or after since.
func (e *Enforcer) Violations(since time.Time) []Violation {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Violation, 0, len(e.violations))
	for _, v := range e.violations {
		if !v.Timestamp.Before(since) {
			out = append(out, v)
		}
	}
	return out
}

func (e *Enforcer) recordViolation(v Violation) {
	e.mu.Lock()
	e.violations = append(e.violations, v)
	e.mu.Unlock()
}

// CheckRequestAllowed evaluates global, provider, model, and user scopes
// in that order and denies the request if any enabled scope's hard
// limit would be exceeded. userID may be empty when the caller is
// anonymous.
func (e *Enforcer) CheckRequestAllowed(provider, model, userID string, tokens int64, cost float64, now time.Time) (bool, *Violation) {
	e.mu.Lock()
	limits := e.limits
	e.mu.Unlock()

	if limits.Global.Enabled {
		if v := e.checkCostTokens(ScopeGlobal, "", limits.Global.CostTokenLimits, tokens, cost, now); v != nil {
			e.recordViolation(*v)
			return false, v
		}
		if limits.Global.RequestsPerMinute > 0 {
			if used := e.tracker.MinuteRequests(ScopeGlobal.Key(""), now); used+1 > int64(limits.Global.RequestsPerMinute) {
				v := Violation{Timestamp: now, LimitType: LimitRequestsPerMinute, Scope: ScopeGlobal,
					CurrentValue: float64(used + 1), LimitValue: float64(limits.Global.RequestsPerMinute), PercentageUsed: pct(used+1, int64(limits.Global.RequestsPerMinute))}
				e.recordViolation(v)
				return false, &v
			}
		}
	}

	if pl, ok := limits.Providers[provider]; ok && pl.Enabled {
		if v := e.checkCostTokens(ScopeProvider, provider, pl.CostTokenLimits, tokens, cost, now); v != nil {
			e.recordViolation(*v)
			return false, v
		}
	}

	if ml, ok := limits.Models[model]; ok && ml.Enabled {
		if ml.MaxTokensPerRequest > 0 && tokens > int64(ml.MaxTokensPerRequest) {
			v := Violation{Timestamp: now, LimitType: LimitTokensPerRequest, Scope: ScopeModel, ScopeName: model,
				CurrentValue: float64(tokens), LimitValue: float64(ml.MaxTokensPerRequest), PercentageUsed: pct(tokens, int64(ml.MaxTokensPerRequest))}
			e.recordViolation(v)
			return false, &v
		}
		if v := e.checkCostTokens(ScopeModel, model, ml.CostTokenLimits, tokens, cost, now); v != nil {
			e.recordViolation(*v)
			return false, v
		}
	}

	if userID != "" {
		if ul, ok := limits.Users[userID]; ok && ul.Enabled {
			if v := e.checkCostTokens(ScopeUser, userID, ul.CostTokenLimits, tokens, cost, now); v != nil {
				e.recordViolation(*v)
				return false, v
			}
			if ul.RequestsPerHour > 0 {
				if used := e.tracker.HourRequests(ScopeUser.Key(userID), now); used+1 > int64(ul.RequestsPerHour) {
					v := Violation{Timestamp: now, LimitType: LimitRequestsPerHour, Scope: ScopeUser, ScopeName: userID,
						CurrentValue: float64(used + 1), LimitValue: float64(ul.RequestsPerHour), PercentageUsed: pct(used+1, int64(ul.RequestsPerHour))}
					e.recordViolation(v)
					return false, &v
				}
			}
		}
	}

	return true, nil
}

func (e *Enforcer) checkCostTokens(scope Scope, name string, limits CostTokenLimits, tokens int64, cost float64, now time.Time) *Violation {
	daily := e.tracker.Daily(scope.Key(name), now)

	if limits.DailyCostLimit > 0 {
		projected := daily.TotalCost + cost
		if projected > limits.DailyCostLimit {
			return &Violation{Timestamp: now, LimitType: LimitDailyCost, Scope: scope, ScopeName: name,
				CurrentValue: projected, LimitValue: limits.DailyCostLimit, PercentageUsed: pctf(projected, limits.DailyCostLimit)}
		}
	}
	if limits.DailyTokenLimit > 0 {
		projected := daily.TotalTokens + tokens
		if projected > limits.DailyTokenLimit {
			return &Violation{Timestamp: now, LimitType: LimitDailyTokens, Scope: scope, ScopeName: name,
				CurrentValue: float64(projected), LimitValue: float64(limits.DailyTokenLimit), PercentageUsed: pct(projected, limits.DailyTokenLimit)}
		}
	}

	monthly := e.tracker.Monthly(scope.Key(name), now)
	if limits.MonthlyCostLimit > 0 {
		projected := monthly.TotalCost + cost
		if projected > limits.MonthlyCostLimit {
			return &Violation{Timestamp: now, LimitType: LimitMonthlyCost, Scope: scope, ScopeName: name,
				CurrentValue: projected, LimitValue: limits.MonthlyCostLimit, PercentageUsed: pctf(projected, limits.MonthlyCostLimit)}
		}
	}
	if limits.MonthlyTokenLimit > 0 {
		projected := monthly.TotalTokens + tokens
		if projected > limits.MonthlyTokenLimit {
			return &Violation{Timestamp: now, LimitType: LimitMonthlyTokens, Scope: scope, ScopeName: name,
				CurrentValue: float64(projected), LimitValue: float64(limits.MonthlyTokenLimit), PercentageUsed: pct(projected, limits.MonthlyTokenLimit)}
		}
	}
	return nil
}

// RecordUsage folds a completed request's usage into every scope it
// touches (global always, provider/model/user when non-empty) and
// evaluates alert thresholds against the new totals.
func (e *Enforcer) RecordUsage(provider, model, userID string, tokens int64, cost float64, now time.Time) {
	e.tracker.RecordUsage(ScopeGlobal.Key(""), tokens, cost, now)
	if provider != "" {
		e.tracker.RecordUsage(ScopeProvider.Key(provider), tokens, cost, now)
	}
	if model != "" {
		e.tracker.RecordUsage(ScopeModel.Key(model), tokens, cost, now)
	}
	if userID != "" {
		e.tracker.RecordUsage(ScopeUser.Key(userID), tokens, cost, now)
	}

	e.mu.Lock()
	cfg := e.limits.Alerting
	e.mu.Unlock()
	e.checkAndSendAlerts(cfg, provider, model, userID, now)
}

// EvaluateThrottle returns a graduated decision for the global budget,
// then (if the global scope is clear) the named provider's budget.
// Global: above 95% of the daily cost limit the request is blocked for
// an hour; above 80% it is throttled proportionally to how far over
// that soft limit usage has climbed. Provider: above 90% of its own
// daily cost limit the request is blocked for 30 minutes.
func (e *Enforcer) EvaluateThrottle(provider string, now time.Time) Decision {
	e.mu.Lock()
	limits := e.limits
	e.mu.Unlock()

	if limits.Global.Enabled && limits.Global.DailyCostLimit > 0 {
		daily := e.tracker.Daily(ScopeGlobal.Key(""), now)
		usedPct := pctf(daily.TotalCost, limits.Global.DailyCostLimit)

		if usedPct > globalBlockThreshold {
			return blockDecision("daily cost limit nearly exceeded", globalBlockRetryAfter)
		}
		if usedPct > globalThrottleThreshold {
			delayMs := int((usedPct - globalThrottleThreshold) * 50)
			return throttleDecision(delayMs, usedPct, fmt.Sprintf("throttling due to %.0f%% of daily budget used", usedPct))
		}
	}

	if pl, ok := limits.Providers[provider]; ok && pl.Enabled && pl.DailyCostLimit > 0 {
		daily := e.tracker.Daily(ScopeProvider.Key(provider), now)
		usedPct := pctf(daily.TotalCost, pl.DailyCostLimit)
		if usedPct > providerBlockThreshold {
			return blockDecision(fmt.Sprintf("provider %s daily limit nearly exceeded", provider), providerBlockRetryAfter)
		}
	}

	return allowDecision()
}

// CalculateDynamicThrottle projects a streaming request's current cost
// rate (per minute) forward over the remaining duration and compares
// against budgetLimit. If the projection would blow through the budget
// by more than half, the request is blocked outright; otherwise it is
// throttled by the percentage needed to land back under budget.
func (e *Enforcer) CalculateDynamicThrottle(costRatePerMinute, budgetLimit float64, timeRemainingMinutes int) Decision {
	projected := costRatePerMinute * float64(timeRemainingMinutes)
	if projected <= budgetLimit || projected <= 0 {
		return allowDecision()
	}

	throttleFactor := budgetLimit / projected
	throttlePct := (1 - throttleFactor) * 100

	if throttlePct > 50 {
		return blockDecision("projected cost exceeds budget limit significantly", 5*time.Minute)
	}
	return throttleDecision(int(throttlePct*10), throttlePct, fmt.Sprintf("reducing request rate by %.1f%% to stay within budget", throttlePct))
}

func pct(value, limit int64) float64 {
	if limit <= 0 {
		return 0
	}
	return float64(value) / float64(limit) * 100
}

func pctf(value, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return value / limit * 100
}
