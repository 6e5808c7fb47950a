// Package risk implements the Risk Engine (spec.md §4.6): per-minute
// indicator computation, leveled response, the emergency driver, and a
// Monte-Carlo liquidity forecast. Grounded on the teacher's phase/report
// shape in internal/db (a single append-only snapshot row derived each
// tick) generalized from one LP-position health check to the fund's
// full indicator set.
package risk

import "github.com/rwafund/controlplane/pkg/money"

// Level is one of the four risk bands (spec.md §3/§4.6).
type Level string

const (
	LevelNormal   Level = "NORMAL"
	LevelElevated Level = "ELEVATED"
	LevelHigh     Level = "HIGH"
	LevelCritical Level = "CRITICAL"
)

var levelOrder = map[Level]int{LevelNormal: 0, LevelElevated: 1, LevelHigh: 2, LevelCritical: 3}

// AtMostElevated reports whether l is ELEVATED or better — the recovery
// watcher's termination condition.
func (l Level) AtMostElevated() bool { return levelOrder[l] <= levelOrder[LevelElevated] }

// Direction says whether a higher or lower raw value is worse for one
// indicator, since some (l1_ratio) are "more is safer" and others
// (oracle_staleness) are "more is worse".
type Direction int

const (
	HigherIsWorse Direction = iota
	LowerIsWorse
)

// Threshold is one indicator's three breakpoints, in bps (ratios) or
// the indicator's native unit (seconds for staleness, bps for rates).
type Threshold struct {
	Normal    int64
	Warning   int64
	Critical  int64
	Direction Direction
	Weight    int // contribution to the 0-100 composite score
}

// Indicator names (spec.md §4.6's closed set), used as Config map keys
// and as RiskSnapshot-derived severity labels.
const (
	IndL1Ratio              = "l1_ratio"
	IndL1L2Ratio            = "l1_l2_ratio"
	IndRedemptionCoverage   = "redemption_coverage"
	IndNavVolatility24h     = "nav_volatility_24h"
	IndAssetPriceDeviation  = "asset_price_deviation"
	IndOracleStaleness      = "oracle_staleness"
	IndConcentrationSingle  = "concentration_single"
	IndConcentrationTop3    = "concentration_top3"
	IndConcentrationCounter = "concentration_counterparty"
	IndDailyRedemptionRate  = "daily_redemption_rate"
	IndPendingApprovalRatio = "pending_approval_ratio"
	IndRedemptionVelocity7d = "redemption_velocity_7d"
)

// Config is the Risk Engine's closed configuration set (spec.md §6).
type Config struct {
	Thresholds map[string]Threshold

	// L1Low gates the ELEVATED->rebalance trigger: "if l1_ratio < L1.low,
	// invoke the Rebalance Engine with trigger LIQUIDITY".
	L1Low money.Amount

	// HistoricalRedemptionRateBps/HistoricalDepositRateBps feed the
	// liquidity forecast's probabilistic outflow/inflow terms.
	HistoricalRedemptionRateBps int64
	HistoricalDepositRateBps    int64

	// MonteCarloTrials is fixed at 1000 per spec.md §4.6; kept
	// configurable only so tests can shrink it for speed.
	MonteCarloTrials int

	// RecoveryConsecutiveOK records the emergency driver's termination
	// rule (2 consecutive ELEVATED-or-lower snapshots). EmergencyDriver
	// does not read it: its watcher polls every 5 minutes and stops after
	// a fixed 2 consecutive such snapshots.
	RecoveryConsecutiveOK int
}

// DefaultThresholds returns spec-reasonable defaults; operators
// override per-indicator from YAML.
func DefaultThresholds() map[string]Threshold {
	return map[string]Threshold{
		IndL1Ratio:              {Normal: 2000, Warning: 1500, Critical: 1000, Direction: LowerIsWorse, Weight: 15},
		IndL1L2Ratio:            {Normal: 6000, Warning: 5000, Critical: 4000, Direction: LowerIsWorse, Weight: 10},
		IndRedemptionCoverage:   {Normal: 15000, Warning: 12000, Critical: 10000, Direction: LowerIsWorse, Weight: 15},
		IndNavVolatility24h:     {Normal: 200, Warning: 500, Critical: 1000, Direction: HigherIsWorse, Weight: 10},
		IndAssetPriceDeviation:  {Normal: 100, Warning: 300, Critical: 700, Direction: HigherIsWorse, Weight: 10},
		IndOracleStaleness:      {Normal: 60, Warning: 300, Critical: 900, Direction: HigherIsWorse, Weight: 5},
		IndConcentrationSingle:  {Normal: 2000, Warning: 3000, Critical: 4000, Direction: HigherIsWorse, Weight: 10},
		IndConcentrationTop3:    {Normal: 4500, Warning: 6000, Critical: 7500, Direction: HigherIsWorse, Weight: 5},
		IndConcentrationCounter: {Normal: 3000, Warning: 4000, Critical: 5000, Direction: HigherIsWorse, Weight: 5},
		IndDailyRedemptionRate:  {Normal: 200, Warning: 500, Critical: 1000, Direction: HigherIsWorse, Weight: 5},
		IndPendingApprovalRatio: {Normal: 1000, Warning: 2500, Critical: 4000, Direction: HigherIsWorse, Weight: 5},
		IndRedemptionVelocity7d: {Normal: 1500, Warning: 3000, Critical: 5000, Direction: HigherIsWorse, Weight: 5},
	}
}

// DefaultConfig returns the spec's stated defaults.
func DefaultConfig() Config {
	return Config{
		Thresholds:                  DefaultThresholds(),
		HistoricalRedemptionRateBps: 300, // 3% annualized baseline
		HistoricalDepositRateBps:    250,
		MonteCarloTrials:            1000,
		RecoveryConsecutiveOK:       2,
	}
}
