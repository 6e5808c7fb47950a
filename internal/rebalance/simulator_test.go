package rebalance

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rwafund/controlplane/pkg/money"
)

func TestVerifyPostStateWithinTolerance(t *testing.T) {
	cfg := testConfig()
	state := FundState{
		TotalAssets: money.FromInt64(1_000_000),
		L1:          money.FromInt64(300_000),
		L2:          money.FromInt64(400_000),
		L3:          money.FromInt64(300_000),
	}
	_, err := VerifyPostState(cfg, state)
	require.NoError(t, err)
}

func TestVerifyPostStateExceedsTolerance(t *testing.T) {
	cfg := testConfig()
	state := FundState{
		TotalAssets: money.FromInt64(1_000_000),
		L1:          money.FromInt64(100_000), // 10% vs 30% target: 2000bps drift
		L2:          money.FromInt64(400_000),
		L3:          money.FromInt64(500_000),
	}
	_, err := VerifyPostState(cfg, state)
	assert.ErrorIs(t, err, ErrDriftExceedsTolerance)
}

func TestMethodForKnownKinds(t *testing.T) {
	assert.Equal(t, "transferBetweenTiers", methodFor(ActionTransfer))
	assert.Equal(t, "executeWaterfall", methodFor(ActionWaterfall))
	assert.Equal(t, "", methodFor("BOGUS"))
}

func TestSlippageBpsWithinBudget(t *testing.T) {
	requested := big.NewInt(10_000)
	actual := big.NewInt(9_980) // 20bps short
	assert.Equal(t, int64(20), slippageBps(requested, actual))
}

func TestSlippageBpsExceedsBudget(t *testing.T) {
	requested := big.NewInt(10_000)
	actual := big.NewInt(9_700) // 3% short, vs. a 200bps (2%) MaxSlippage budget
	bps := slippageBps(requested, actual)
	assert.Greater(t, bps, int64(200))
}

func TestSlippageBpsZeroRequestedIsZero(t *testing.T) {
	assert.Equal(t, int64(0), slippageBps(big.NewInt(0), big.NewInt(100)))
}
