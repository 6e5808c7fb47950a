package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rwafund/controlplane/internal/tasks"
)

func TestPriorityForCriticalEvents(t *testing.T) {
	for _, name := range []string{"EmergencyModeChanged", "CriticalLiquidityAlert", "LowLiquidityAlert"} {
		assert.Equal(t, tasks.Critical, priorityFor(name), name)
	}
}

func TestPriorityForHighEvents(t *testing.T) {
	for _, name := range []string{"RedemptionRequested", "VoucherMinted", "SettlementWaterfallTriggered", "NavUpdated"} {
		assert.Equal(t, tasks.High, priorityFor(name), name)
	}
}

func TestPriorityForUnknownEventsDefaultToNormal(t *testing.T) {
	assert.Equal(t, tasks.Normal, priorityFor("DepositProcessed"))
	assert.Equal(t, tasks.Normal, priorityFor("SomethingNeverSeenBefore"))
}

func TestDefaultConfigMatchesSpecDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.EqualValues(t, 15, cfg.Confirmations)
	assert.Equal(t, 100, cfg.FlushCount)
}
