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
	"log/slog"
	"sync"
	"time"
)

// ThresholdType is the usage axis an AlertThreshold watches.
type ThresholdType string

const (
	ThresholdCost     ThresholdType = "cost"
	ThresholdTokens   ThresholdType = "tokens"
	ThresholdRequests ThresholdType = "requests"
)

// AlertThreshold fires when a scope's usage crosses Percentage of its
// configured limit for Type.
type AlertThreshold struct {
	Name       string
	Type       ThresholdType
	Percentage float64
	Scope      Scope
	ScopeName  string // provider/model/user name; unused for ScopeGlobal
}

// NotificationChannel is a destination an alert is delivered to.
// Notifier implementations decide what each variant actually does;
// LogNotifier (the default) only honors ChannelLog.
type NotificationChannel struct {
	Kind    ChannelKind
	Target  string // email address, webhook URL, or Slack channel name
	Webhook string // Slack incoming-webhook URL, when Kind is ChannelSlack
}

type ChannelKind string

const (
	ChannelLog     ChannelKind = "log"
	ChannelEmail   ChannelKind = "email"
	ChannelWebhook ChannelKind = "webhook"
	ChannelSlack   ChannelKind = "slack"
)

// AlertingConfig configures threshold alerts and where they're sent.
type AlertingConfig struct {
	Enabled         bool
	Thresholds      []AlertThreshold
	Channels        []NotificationChannel
	CooldownMinutes int
}

// Notifier delivers a fired alert to a notification channel. Callers
// that need email/webhook/Slack delivery supply their own Notifier;
// the zero value of Enforcer uses logNotifier, which only logs.
type Notifier interface {
	Notify(ctx context.Context, channel NotificationChannel, threshold AlertThreshold, usedPct float64) error
}

type logNotifier struct{ logger *slog.Logger }

func (n logNotifier) Notify(_ context.Context, channel NotificationChannel, threshold AlertThreshold, usedPct float64) error {
	logger := n.logger
	if logger == nil {
		logger = slog.Default()
	}
	switch channel.Kind {
	case ChannelEmail:
		logger.Info("budget alert would be emailed", "threshold", threshold.Name, "to", channel.Target, "used_pct", usedPct)
	case ChannelWebhook:
		logger.Info("budget alert would be posted to webhook", "threshold", threshold.Name, "url", channel.Target, "used_pct", usedPct)
	case ChannelSlack:
		logger.Info("budget alert would be posted to slack", "threshold", threshold.Name, "channel", channel.Target, "used_pct", usedPct)
	default:
		logger.Warn("budget threshold crossed", "threshold", threshold.Name, "percentage", threshold.Percentage, "used_pct", usedPct, "scope", threshold.Scope)
	}
	return nil
}

// alertState tracks per-threshold cooldowns so a sustained breach
// doesn't spam every notification channel on every request.
type alertState struct {
	mu          sync.Mutex
	lastAlertAt map[string]time.Time
	notifier    Notifier
}

func newAlertState() *alertState {
	return &alertState{lastAlertAt: make(map[string]time.Time), notifier: logNotifier{}}
}

// SetNotifier overrides the default log-only notifier.
func (e *Enforcer) SetNotifier(n Notifier) {
	e.alerts.mu.Lock()
	defer e.alerts.mu.Unlock()
	e.alerts.notifier = n
}

func (e *Enforcer) checkAndSendAlerts(cfg AlertingConfig, provider, model, userID string, now time.Time) {
	if !cfg.Enabled {
		return
	}

	for _, threshold := range cfg.Thresholds {
		var scopeName string
		switch threshold.Scope {
		case ScopeGlobal:
			// applies unconditionally
		case ScopeProvider:
			if threshold.ScopeName != provider {
				continue
			}
			scopeName = provider
		case ScopeModel:
			if threshold.ScopeName != model {
				continue
			}
			scopeName = model
		case ScopeUser:
			if threshold.ScopeName != userID {
				continue
			}
			scopeName = userID
		default:
			continue
		}

		usedPct, crossed := e.thresholdCrossed(threshold, scopeName, now)
		if crossed {
			e.sendAlert(threshold, cfg, usedPct, now)
		}
	}
}

func (e *Enforcer) thresholdCrossed(threshold AlertThreshold, scopeName string, now time.Time) (float64, bool) {
	daily := e.tracker.Daily(threshold.Scope.Key(scopeName), now)

	var current, limit float64
	switch threshold.Type {
	case ThresholdCost:
		current = daily.TotalCost
		limit = e.costLimitForScope(threshold.Scope, scopeName)
	case ThresholdTokens:
		current = float64(daily.TotalTokens)
		limit = float64(e.tokenLimitForScope(threshold.Scope, scopeName))
	case ThresholdRequests:
		current = float64(daily.Requests)
		limit = float64(e.requestLimitForScope(threshold.Scope, scopeName))
	default:
		return 0, false
	}

	if limit <= 0 {
		return 0, false
	}
	usedPct := current / limit * 100
	return usedPct, usedPct >= threshold.Percentage
}

func (e *Enforcer) costLimitForScope(scope Scope, name string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch scope {
	case ScopeGlobal:
		return e.limits.Global.DailyCostLimit
	case ScopeProvider:
		return e.limits.Providers[name].DailyCostLimit
	case ScopeModel:
		return e.limits.Models[name].DailyCostLimit
	case ScopeUser:
		return e.limits.Users[name].DailyCostLimit
	}
	return 0
}

func (e *Enforcer) tokenLimitForScope(scope Scope, name string) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch scope {
	case ScopeGlobal:
		return e.limits.Global.DailyTokenLimit
	case ScopeProvider:
		return e.limits.Providers[name].DailyTokenLimit
	case ScopeModel:
		return e.limits.Models[name].DailyTokenLimit
	case ScopeUser:
		return e.limits.Users[name].DailyTokenLimit
	}
	return 0
}

func (e *Enforcer) requestLimitForScope(scope Scope, name string) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch scope {
	case ScopeGlobal:
		return int64(e.limits.Global.RequestsPerMinute)
	case ScopeProvider:
		return int64(e.limits.Providers[name].RequestsPerMinute)
	case ScopeUser:
		return int64(e.limits.Users[name].RequestsPerHour)
	}
	return 0
}

func (e *Enforcer) sendAlert(threshold AlertThreshold, cfg AlertingConfig, usedPct float64, now time.Time) {
	key := threshold.Name + ":" + string(threshold.Scope) + ":" + threshold.ScopeName

	e.alerts.mu.Lock()
	if last, ok := e.alerts.lastAlertAt[key]; ok {
		if now.Sub(last) < time.Duration(cfg.CooldownMinutes)*time.Minute {
			e.alerts.mu.Unlock()
			return
		}
	}
	e.alerts.lastAlertAt[key] = now
	notifier := e.alerts.notifier
	e.alerts.mu.Unlock()

	channels := cfg.Channels
	if len(channels) == 0 {
		channels = []NotificationChannel{{Kind: ChannelLog}}
	}
	for _, ch := range channels {
		_ = notifier.Notify(context.Background(), ch, threshold, usedPct)
	}
}
