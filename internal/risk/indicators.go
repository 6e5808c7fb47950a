package risk

import "github.com/rwafund/controlplane/pkg/money"

// Inputs is everything ComputeIndicators needs. Liquidity and coverage
// figures come straight out of the projection/pending-redemption
// tables; price/concentration/oracle figures are the output of external
// feeds (price oracle, custodian reconciliation) this engine does not
// own — spec.md scopes the "risk evaluator" to indicator *response*, not
// to sourcing market data, so those numbers arrive as already-computed
// inputs from whichever feed component calls ComputeIndicators.
type Inputs struct {
	TotalAssets    money.Amount
	L1             money.Amount
	L2             money.Amount
	Liability      money.Amount
	LiquidityGap7d money.Amount

	NavVolatility24hBps          int64
	AssetPriceDeviationBps       int64
	OracleStalenessSeconds       int64
	ConcentrationSingleBps       int64
	ConcentrationTop3Bps         int64
	ConcentrationCounterpartyBps int64
	DailyRedemptionRateBps       int64
	PendingApprovalRatioBps      int64
	RedemptionVelocity7dBps      int64
}

// Indicators is the computed snapshot, field-for-field what
// store.RiskSnapshot persists.
type Indicators struct {
	L1Ratio              int64
	L1L2Ratio            int64
	RedemptionCoverage   int64
	LiquidityGap7d       money.Amount
	NavVolatility24h     int64
	AssetPriceDeviation  int64
	OracleStaleness      int64
	ConcentrationSingle  int64
	ConcentrationTop3    int64
	ConcentrationCounter int64
	DailyRedemptionRate  int64
	PendingApprovalRatio int64
	RedemptionVelocity7d int64
}

// ComputeIndicators derives the liquidity/coverage ratios from
// on-chain-sourced amounts and passes the externally-fed indicators
// through unchanged.
func ComputeIndicators(in Inputs) Indicators {
	l1l2 := in.L1.Add(in.L2)
	return Indicators{
		L1Ratio:              in.L1.RatioBps(in.TotalAssets),
		L1L2Ratio:            l1l2.RatioBps(in.TotalAssets),
		RedemptionCoverage:   l1l2.RatioBps(in.Liability),
		LiquidityGap7d:       in.LiquidityGap7d,
		NavVolatility24h:     in.NavVolatility24hBps,
		AssetPriceDeviation:  in.AssetPriceDeviationBps,
		OracleStaleness:      in.OracleStalenessSeconds,
		ConcentrationSingle:  in.ConcentrationSingleBps,
		ConcentrationTop3:    in.ConcentrationTop3Bps,
		ConcentrationCounter: in.ConcentrationCounterpartyBps,
		DailyRedemptionRate:  in.DailyRedemptionRateBps,
		PendingApprovalRatio: in.PendingApprovalRatioBps,
		RedemptionVelocity7d: in.RedemptionVelocity7dBps,
	}
}

// severity maps one indicator's raw value to 0 (normal) .. 3 (beyond
// critical) using its threshold's direction.
func severity(value int64, t Threshold) int {
	breaches := func(bound int64) bool {
		if t.Direction == HigherIsWorse {
			return value >= bound
		}
		return value <= bound
	}
	switch {
	case breaches(t.Critical):
		return 3
	case breaches(t.Warning):
		return 2
	case breaches(t.Normal):
		return 1
	default:
		return 0
	}
}

// values flattens Indicators into the (name -> raw value) map severity
// scoring iterates over.
func (ind Indicators) values() map[string]int64 {
	return map[string]int64{
		IndL1Ratio:              ind.L1Ratio,
		IndL1L2Ratio:            ind.L1L2Ratio,
		IndRedemptionCoverage:   ind.RedemptionCoverage,
		IndNavVolatility24h:     ind.NavVolatility24h,
		IndAssetPriceDeviation:  ind.AssetPriceDeviation,
		IndOracleStaleness:      ind.OracleStaleness,
		IndConcentrationSingle:  ind.ConcentrationSingle,
		IndConcentrationTop3:    ind.ConcentrationTop3,
		IndConcentrationCounter: ind.ConcentrationCounter,
		IndDailyRedemptionRate:  ind.DailyRedemptionRate,
		IndPendingApprovalRatio: ind.PendingApprovalRatio,
		IndRedemptionVelocity7d: ind.RedemptionVelocity7d,
	}
}

// Evaluate computes the risk level (max severity across indicators) and
// a 0-100 weighted composite score.
func Evaluate(cfg Config, ind Indicators) (Level, int) {
	maxSeverity := 0
	weightedSum := 0
	totalWeight := 0
	for name, value := range ind.values() {
		t, ok := cfg.Thresholds[name]
		if !ok {
			continue
		}
		sev := severity(value, t)
		if sev > maxSeverity {
			maxSeverity = sev
		}
		weightedSum += sev * t.Weight
		totalWeight += t.Weight
	}

	level := [...]Level{LevelNormal, LevelElevated, LevelHigh, LevelCritical}[maxSeverity]

	score := 0
	if totalWeight > 0 {
		score = (weightedSum * 100) / (totalWeight * 3)
	}
	if score > 100 {
		score = 100
	}
	return level, score
}
