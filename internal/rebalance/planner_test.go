package rebalance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rwafund/controlplane/pkg/money"
)

func TestGeneratePlanNoActionsWhenWithinBounds(t *testing.T) {
	cfg := testConfig()
	state := FundState{
		TotalAssets: money.FromInt64(1_000_000),
		L1:          money.FromInt64(300_000),
		L2:          money.FromInt64(400_000),
		L3:          money.FromInt64(300_000),
	}
	actions := GeneratePlan(cfg, state)
	assert.Empty(t, actions)
}

func TestGeneratePlanRefillsL1FromL2SurplusThenL3(t *testing.T) {
	cfg := testConfig()
	state := FundState{
		TotalAssets: money.FromInt64(1_000_000),
		L1:          money.FromInt64(150_000), // deficit of 50,000 to reach low=200,000
		L2:          money.FromInt64(450_000), // surplus of 50,000 over target=400,000
		L3:          money.FromInt64(300_000),
	}
	actions := GeneratePlan(cfg, state)
	require.Len(t, actions, 1)
	assert.Equal(t, ActionTransfer, actions[0].Kind)
	assert.Equal(t, TierL2, actions[0].FromTier)
	assert.Equal(t, TierL1, actions[0].ToTier)
	assert.Equal(t, "50000", actions[0].Amount.String())
}

func TestGeneratePlanRefillFallsBackToRedeemWhenL2HasNoSurplus(t *testing.T) {
	cfg := testConfig()
	state := FundState{
		TotalAssets: money.FromInt64(1_000_000),
		L1:          money.FromInt64(150_000),
		L2:          money.FromInt64(350_000), // below its own target, no surplus
		L3:          money.FromInt64(300_000),
	}
	actions := GeneratePlan(cfg, state)
	require.Len(t, actions, 1)
	assert.Equal(t, ActionRedeem, actions[0].Kind)
	assert.Equal(t, TierL3, actions[0].FromTier)
	assert.Equal(t, TierL1, actions[0].ToTier)
	assert.Equal(t, "50000", actions[0].Amount.String())
}

func TestGeneratePlanDrainsL1SurplusIntoL3ThenL2(t *testing.T) {
	cfg := testConfig()
	state := FundState{
		TotalAssets: money.FromInt64(1_000_000),
		L1:          money.FromInt64(450_000), // surplus of 50,000 over high=400,000
		L2:          money.FromInt64(400_000),
		L3:          money.FromInt64(280_000), // shortfall of 20,000 vs target=300,000
	}
	actions := GeneratePlan(cfg, state)
	require.Len(t, actions, 2)
	assert.Equal(t, ActionPurchase, actions[0].Kind)
	assert.Equal(t, "20000", actions[0].Amount.String())
	assert.Equal(t, ActionTransfer, actions[1].Kind)
	assert.Equal(t, "30000", actions[1].Amount.String())
}

func TestGeneratePlanPendingOutflowEmitsWaterfall(t *testing.T) {
	cfg := testConfig()
	state := FundState{
		TotalAssets:      money.FromInt64(1_000_000),
		L1:               money.FromInt64(300_000),
		L2:               money.FromInt64(400_000),
		L3:               money.FromInt64(300_000),
		PendingOutflow7d: money.FromInt64(600_000), // exceeds 80% of L1+L2 (560,000)
	}
	actions := GeneratePlan(cfg, state)
	require.NotEmpty(t, actions)
	assert.Equal(t, ActionWaterfall, actions[0].Kind)
	assert.Equal(t, 0, actions[0].Priority)
	assert.Equal(t, "40000", actions[0].Amount.String())
}

func TestGeneratePlanDropsActionsBelowMinimum(t *testing.T) {
	cfg := testConfig()
	cfg.MinRebalanceAmount = money.FromInt64(100_000)
	state := FundState{
		TotalAssets: money.FromInt64(1_000_000),
		L1:          money.FromInt64(180_000), // deficit of 20,000, below the 100,000 minimum
		L2:          money.FromInt64(450_000),
		L3:          money.FromInt64(300_000),
	}
	actions := GeneratePlan(cfg, state)
	assert.Empty(t, actions)
}

func TestRequiresApprovalAboveThreshold(t *testing.T) {
	cfg := testConfig()
	actions := []PlannedAction{{Amount: money.FromInt64(60_000)}}
	assert.True(t, RequiresApproval(cfg, actions))
}

func TestRequiresApprovalBelowThreshold(t *testing.T) {
	cfg := testConfig()
	actions := []PlannedAction{{Amount: money.FromInt64(10_000)}}
	assert.False(t, RequiresApproval(cfg, actions))
}
