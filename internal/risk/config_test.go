package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfigThresholdsCoverAllIndicators(t *testing.T) {
	cfg := DefaultConfig()
	names := []string{
		IndL1Ratio, IndL1L2Ratio, IndRedemptionCoverage, IndNavVolatility24h,
		IndAssetPriceDeviation, IndOracleStaleness, IndConcentrationSingle,
		IndConcentrationTop3, IndConcentrationCounter, IndDailyRedemptionRate,
		IndPendingApprovalRatio, IndRedemptionVelocity7d,
	}
	for _, n := range names {
		_, ok := cfg.Thresholds[n]
		assert.True(t, ok, "missing threshold for %s", n)
	}
}

func TestLevelAtMostElevatedOrdering(t *testing.T) {
	levels := []Level{LevelNormal, LevelElevated, LevelHigh, LevelCritical}
	want := []bool{true, true, false, false}
	for i, l := range levels {
		assert.Equal(t, want[i], l.AtMostElevated(), "level %s", l)
	}
}
