package rebalance

import "github.com/rwafund/controlplane/pkg/money"

// TierState is one tier's computed ratio against the fund's total
// assets, and its signed deviation from target (spec.md §4.5).
type TierState struct {
	Tier         Tier
	Value        money.Amount
	CurrentRatio int64 // bps of total assets
	TargetRatio  int64
	DeviationBps int64 // current - target
	WithinBounds bool
}

// ComputeDeviation computes per-tier ratios and signed deviations, the
// first step of every trigger evaluation.
func ComputeDeviation(cfg Config, totalAssets money.Amount, values map[Tier]money.Amount) map[Tier]TierState {
	out := make(map[Tier]TierState, len(values))
	for tier, v := range values {
		bounds, ok := cfg.Tiers[tier]
		targetRatio := int64(0)
		if ok && !totalAssets.IsZero() {
			targetRatio = bounds.Target.RatioBps(totalAssets)
		}
		currentRatio := int64(0)
		if !totalAssets.IsZero() {
			currentRatio = v.RatioBps(totalAssets)
		}
		withinBounds := true
		if ok {
			withinBounds = v.Cmp(bounds.Low) >= 0 && v.Cmp(bounds.High) <= 0
		}
		out[tier] = TierState{
			Tier:         tier,
			Value:        v,
			CurrentRatio: currentRatio,
			TargetRatio:  targetRatio,
			DeviationBps: currentRatio - targetRatio,
			WithinBounds: withinBounds,
		}
	}
	return out
}
