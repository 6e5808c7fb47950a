// Package rebalance implements the Rebalance Engine (spec.md §4.5):
// trigger evaluation, deviation computation, ordered plan generation,
// the simulation gate, and priority-ordered execution with
// partial-failure semantics. Grounded on the teacher's AMM rebalancing
// intent (blackhole.go's Swap/Mint/Stake sequencing and
// pkg/util/simulation_test.go's slippage checks) generalized from a
// two-asset DEX position to the fund's three-tier liquidity ladder.
package rebalance

import "github.com/rwafund/controlplane/pkg/money"

// Tier identifies one of the fund's three liquidity tiers.
type Tier string

const (
	TierL1 Tier = "L1"
	TierL2 Tier = "L2"
	TierL3 Tier = "L3"
)

// Action kinds (spec.md §3's closed action-variant set).
const (
	ActionTransfer  = "TRANSFER"
	ActionPurchase  = "PURCHASE"
	ActionRedeem    = "REDEEM"
	ActionWaterfall = "WATERFALL"
)

// TierBounds is one tier's target/low/high configuration, in base units.
type TierBounds struct {
	Target money.Amount
	Low    money.Amount
	High   money.Amount
}

// Config is the Rebalance Engine's closed configuration set (spec.md §6).
type Config struct {
	Tiers                map[Tier]TierBounds
	MinRebalanceAmount   money.Amount // default 10,000 base units
	ApprovalThreshold    money.Amount // default 50,000 base units
	DriftToleranceBps    int64        // default 100 (1%)
	PendingOutflowWindow int          // days, default 7
	OutflowRatioBps      int64        // default 8000 (80% of L1+L2)
}

// DefaultConfig returns the spec's stated defaults; callers override
// from YAML for production tier targets.
func DefaultConfig() Config {
	return Config{
		Tiers:                make(map[Tier]TierBounds),
		MinRebalanceAmount:   money.FromInt64(10_000),
		ApprovalThreshold:    money.FromInt64(50_000),
		DriftToleranceBps:    100,
		PendingOutflowWindow: 7,
		OutflowRatioBps:      8000,
	}
}
