package rebalance

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rwafund/controlplane/pkg/money"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Tiers[TierL1] = TierBounds{Target: money.FromInt64(300_000), Low: money.FromInt64(200_000), High: money.FromInt64(400_000)}
	cfg.Tiers[TierL2] = TierBounds{Target: money.FromInt64(400_000), Low: money.FromInt64(300_000), High: money.FromInt64(500_000)}
	cfg.Tiers[TierL3] = TierBounds{Target: money.FromInt64(300_000), Low: money.FromInt64(200_000), High: money.FromInt64(400_000)}
	return cfg
}

func TestComputeDeviationWithinBounds(t *testing.T) {
	cfg := testConfig()
	total := money.FromInt64(1_000_000)
	values := map[Tier]money.Amount{
		TierL1: money.FromInt64(300_000),
		TierL2: money.FromInt64(400_000),
		TierL3: money.FromInt64(300_000),
	}

	out := ComputeDeviation(cfg, total, values)
	assert.True(t, out[TierL1].WithinBounds)
	assert.Equal(t, int64(0), out[TierL1].DeviationBps)
	assert.Equal(t, int64(3000), out[TierL1].TargetRatio)
}

func TestComputeDeviationBelowLowFlagsOutOfBounds(t *testing.T) {
	cfg := testConfig()
	total := money.FromInt64(1_000_000)
	values := map[Tier]money.Amount{TierL1: money.FromInt64(150_000)}

	out := ComputeDeviation(cfg, total, values)
	assert.False(t, out[TierL1].WithinBounds)
	assert.Less(t, out[TierL1].DeviationBps, int64(0))
}

func TestComputeDeviationZeroTotalAssets(t *testing.T) {
	cfg := testConfig()
	values := map[Tier]money.Amount{TierL1: money.FromInt64(0)}
	out := ComputeDeviation(cfg, money.Zero(), values)
	assert.Equal(t, int64(0), out[TierL1].CurrentRatio)
}
