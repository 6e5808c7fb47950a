package rebalance

import "github.com/rwafund/controlplane/pkg/money"

// PlannedAction is one ordered step of a generated plan, ahead of its
// store.RebalanceAction persistence form.
type PlannedAction struct {
	Priority    int
	Kind        string
	FromTier    Tier
	ToTier      Tier
	Asset       string
	Amount      money.Amount
	Method      string
	MaxSlippage int64 // bps
	MaxTier     Tier
}

// FundState is the planner's input snapshot, derived from the fund
// projection plus the pending-redemption table.
type FundState struct {
	TotalAssets     money.Amount
	L1              money.Amount // L1_cash + L1_yield combined
	L2              money.Amount
	L3              money.Amount
	PendingOutflow7d money.Amount // confirmed outflow within 7 days
}

// GeneratePlan implements the four-priority policy of spec.md §4.5,
// dropping any action below cfg.MinRebalanceAmount and flagging the plan
// for approval once the total exceeds cfg.ApprovalThreshold.
func GeneratePlan(cfg Config, state FundState) []PlannedAction {
	var actions []PlannedAction

	actions = append(actions, priority0PendingRedemption(cfg, state)...)
	actions = append(actions, priority1L1Refill(cfg, state)...)
	actions = append(actions, priority2L1Drain(cfg, state)...)
	actions = append(actions, priority3Buffer(cfg, state)...)

	return filterBelowMinimum(cfg, actions)
}

// priority0PendingRedemption emits a WATERFALL action when confirmed
// 7-day outflow exceeds 80% (or cfg.OutflowRatioBps) of L1+L2.
func priority0PendingRedemption(cfg Config, state FundState) []PlannedAction {
	available := state.L1.Add(state.L2)
	threshold := available.MulBps(cfg.OutflowRatioBps)
	if state.PendingOutflow7d.Cmp(threshold) <= 0 {
		return nil
	}
	deficit := state.PendingOutflow7d.Sub(threshold)
	return []PlannedAction{{
		Priority: 0,
		Kind:     ActionWaterfall,
		Amount:   deficit,
		MaxTier:  TierL3,
	}}
}

// priority1L1Refill covers an L1 deficit, first from L2's surplus over
// its target, then the remainder redeemed out of L3.
func priority1L1Refill(cfg Config, state FundState) []PlannedAction {
	bounds, ok := cfg.Tiers[TierL1]
	if !ok || state.L1.Cmp(bounds.Low) >= 0 {
		return nil
	}
	deficit := bounds.Low.Sub(state.L1)

	var actions []PlannedAction
	if l2Bounds, ok := cfg.Tiers[TierL2]; ok {
		surplus := state.L2.Sub(l2Bounds.Target)
		if surplus.Sign() > 0 {
			transfer := minAmount(surplus, deficit)
			if transfer.Sign() > 0 {
				actions = append(actions, PlannedAction{Priority: 1, Kind: ActionTransfer, FromTier: TierL2, ToTier: TierL1, Amount: transfer})
				deficit = deficit.Sub(transfer)
			}
		}
	}
	if deficit.Sign() > 0 {
		actions = append(actions, PlannedAction{Priority: 1, Kind: ActionRedeem, FromTier: TierL3, ToTier: TierL1, Asset: "L3_POOL", Amount: deficit})
	}
	return actions
}

// priority2L1Drain disposes of an L1 surplus over its high bound, first
// into L3's shortfall versus target, then into L2.
func priority2L1Drain(cfg Config, state FundState) []PlannedAction {
	bounds, ok := cfg.Tiers[TierL1]
	if !ok || state.L1.Cmp(bounds.High) <= 0 {
		return nil
	}
	surplus := state.L1.Sub(bounds.High)

	var actions []PlannedAction
	if l3Bounds, ok := cfg.Tiers[TierL3]; ok {
		shortfall := l3Bounds.Target.Sub(state.L3)
		if shortfall.Sign() > 0 {
			purchase := minAmount(shortfall, surplus)
			if purchase.Sign() > 0 {
				actions = append(actions, PlannedAction{Priority: 2, Kind: ActionPurchase, FromTier: TierL1, ToTier: TierL3, Asset: "L3_POOL", Amount: purchase, Method: "MARKET", MaxSlippage: 100})
				surplus = surplus.Sub(purchase)
			}
		}
	}
	if surplus.Sign() > 0 {
		actions = append(actions, PlannedAction{Priority: 2, Kind: ActionTransfer, FromTier: TierL1, ToTier: TierL2, Amount: surplus})
	}
	return actions
}

// priority3Buffer nudges L2/L3 back toward target when drift exceeds
// the configured tolerance and no higher-priority action already
// addressed it — the "rebalancing buffer" step, applied last.
func priority3Buffer(cfg Config, state FundState) []PlannedAction {
	l2Bounds, l2ok := cfg.Tiers[TierL2]
	l3Bounds, l3ok := cfg.Tiers[TierL3]
	if !l2ok || !l3ok {
		return nil
	}

	l2Deviation := state.L2.Sub(l2Bounds.Target)
	l3Deviation := l3Bounds.Target.Sub(state.L3)
	if l2Deviation.Sign() <= 0 || l3Deviation.Sign() <= 0 {
		return nil
	}
	if state.TotalAssets.IsZero() || l2Deviation.RatioBps(state.TotalAssets) < cfg.DriftToleranceBps {
		return nil
	}

	amount := minAmount(l2Deviation, l3Deviation)
	if amount.Sign() <= 0 {
		return nil
	}
	return []PlannedAction{{Priority: 3, Kind: ActionTransfer, FromTier: TierL2, ToTier: TierL3, Amount: amount}}
}

func filterBelowMinimum(cfg Config, actions []PlannedAction) []PlannedAction {
	out := actions[:0]
	for _, a := range actions {
		if a.Amount.Abs().Cmp(cfg.MinRebalanceAmount) < 0 {
			continue
		}
		out = append(out, a)
	}
	return out
}

func minAmount(a, b money.Amount) money.Amount {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// TotalAmount sums the absolute value of every action, the figure
// compared against cfg.ApprovalThreshold.
func TotalAmount(actions []PlannedAction) money.Amount {
	total := money.Zero()
	for _, a := range actions {
		total = total.Add(a.Amount.Abs())
	}
	return total
}

// RequiresApproval reports whether total exceeds cfg.ApprovalThreshold.
func RequiresApproval(cfg Config, actions []PlannedAction) bool {
	return TotalAmount(actions).Cmp(cfg.ApprovalThreshold) > 0
}
