package pricing

import (
	"fmt"
	"time"

	conductorerrors "github.com/relaywork/relay/pkg/errors"
)

// Freshness classifies how recently a pricing table was refreshed.
type Freshness string

const (
	FreshnessVeryFresh Freshness = "very_fresh" // < 1 hour
	FreshnessFresh     Freshness = "fresh"      // < 24 hours
	FreshnessModerate  Freshness = "moderate"   // < 72 hours
	FreshnessStale     Freshness = "stale"      // >= 72 hours
)

// VolumeTier is a usage-based discount tier applied on top of table pricing.
type VolumeTier string

const (
	VolumeStandard   VolumeTier = "standard"
	VolumeHigh       VolumeTier = "high"
	VolumeEnterprise VolumeTier = "enterprise"
)

// discountMultiplier returns the fraction of list price charged at this tier.
func (t VolumeTier) discountMultiplier() float64 {
	switch t {
	case VolumeHigh:
		return 0.95
	case VolumeEnterprise:
		return 0.90
	default:
		return 1.0
	}
}

// ErrPricingNotAvailable is returned when no pricing entry exists for a
// (provider, model) pair and the caller asked for a hard lookup rather than
// GetPricing's nil-returning form.
type ErrPricingNotAvailable struct {
	Provider string
	Model    string
}

func (e *ErrPricingNotAvailable) Error() string {
	return fmt.Sprintf("pricing not available for %s/%s", e.Provider, e.Model)
}

// PricingFreshness reports how long ago pm's table was last updated, bucketed
// per spec thresholds (<1h/<24h/<72h/>=72h).
func (pm *PricingManager) PricingFreshness() Freshness {
	pm.mu.RLock()
	updatedAt := pm.config.UpdatedAt
	pm.mu.RUnlock()

	age := time.Since(updatedAt)
	switch {
	case age < time.Hour:
		return FreshnessVeryFresh
	case age < 24*time.Hour:
		return FreshnessFresh
	case age < 72*time.Hour:
		return FreshnessModerate
	default:
		return FreshnessStale
	}
}

// RequirePricing returns pricing for (provider, model), or
// ErrPricingNotAvailable if the table has no matching entry. Use this over
// GetPricing when a missing price should fail the caller outright (e.g. cost
// enforcement) rather than silently degrade to an estimate.
func (pm *PricingManager) RequirePricing(provider, model string) (*ModelPricing, error) {
	mp := pm.GetPricing(provider, model)
	if mp == nil {
		return nil, conductorerrors.Wrap(&ErrPricingNotAvailable{Provider: provider, Model: model}, "pricing lookup")
	}
	return mp, nil
}

// CalculateCostWithVolumeTier applies a volume discount on top of the
// pricing-table cost, mirroring the three-tier discount schedule (Standard
// 0%, High 5%, Enterprise 10%).
func CalculateCostWithVolumeTier(mp *ModelPricing, usage TokenUsage, tier VolumeTier) *CostInfo {
	base := CalculateCost(mp, usage)
	if base.Accuracy == CostUnavailable {
		return base
	}
	discounted := *base
	discounted.Amount *= tier.discountMultiplier()
	return &discounted
}

// AutoRefresher periodically re-reads the user pricing file so a
// long-running process picks up pricing updates without restarting.
type AutoRefresher struct {
	manager  *PricingManager
	interval time.Duration
	stop     chan struct{}
}

// NewAutoRefresher builds a refresher for manager that reloads the user
// config file on the given interval. Call Start to begin the background
// loop and Stop to end it.
func NewAutoRefresher(manager *PricingManager, interval time.Duration) *AutoRefresher {
	return &AutoRefresher{manager: manager, interval: interval, stop: make(chan struct{})}
}

// Start runs the refresh loop until Stop is called. Intended to be launched
// via `go refresher.Start()`.
func (r *AutoRefresher) Start() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = r.manager.LoadUserConfig()
		case <-r.stop:
			return
		}
	}
}

// Stop ends the refresh loop started by Start.
func (r *AutoRefresher) Stop() {
	close(r.stop)
}
