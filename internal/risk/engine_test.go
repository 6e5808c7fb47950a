package risk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rwafund/controlplane/pkg/money"
)

func TestLiquidityGapFlooredAtZero(t *testing.T) {
	in := Inputs{
		Liability: money.FromInt64(100_000),
		L1:        money.FromInt64(60_000),
		L2:        money.FromInt64(60_000),
	}
	assert.Equal(t, money.Zero().String(), liquidityGap(in).String())
}

func TestLiquidityGapPositiveShortfall(t *testing.T) {
	in := Inputs{
		Liability: money.FromInt64(500_000),
		L1:        money.FromInt64(100_000),
		L2:        money.FromInt64(50_000),
	}
	assert.Equal(t, "350000", liquidityGap(in).String())
}

func TestEngineStandardPausedDefaultsFalse(t *testing.T) {
	e := &Engine{}
	assert.False(t, e.IsStandardRedemptionPaused())
	e.setStandardPaused(true)
	assert.True(t, e.IsStandardRedemptionPaused())
	e.setStandardPaused(false)
	assert.False(t, e.IsStandardRedemptionPaused())
}

func TestNewIncidentIDIsStableForSameTimestamp(t *testing.T) {
	ts := time.Unix(1_800_000_000, 0)
	assert.Equal(t, NewIncidentID(ts), NewIncidentID(ts))
}

// TestTriggerEmergencySkipsWhileIncidentOpen guards against re-entering
// triggerEmergency on every scheduled tick while an incident is still
// open: it must not mint a new driver (and, via StartIncident, a new
// recovery-watcher goroutine) as long as currentIncidentID is set.
func TestTriggerEmergencySkipsWhileIncidentOpen(t *testing.T) {
	calls := 0
	e := &Engine{
		drivers:           make(map[string]*EmergencyDriver),
		currentIncidentID: "incident-open",
		newDriver: func() *EmergencyDriver {
			calls++
			return &EmergencyDriver{}
		},
	}
	err := e.triggerEmergency(context.Background(), Inputs{})
	assert.NoError(t, err)
	assert.Equal(t, 0, calls)
	assert.Equal(t, "incident-open", e.currentIncidentID)
}

// TestClearIncidentResetsCurrentIncidentID mirrors the
// EmergencyDriver.onResolved callback wired in triggerEmergency: once the
// currently-open incident resolves, its driver is dropped and
// currentIncidentID clears so the next CRITICAL tick mints a fresh ID.
func TestClearIncidentResetsCurrentIncidentID(t *testing.T) {
	e := &Engine{
		drivers:           map[string]*EmergencyDriver{"incident-1": {}},
		currentIncidentID: "incident-1",
	}
	e.clearIncident("incident-1")
	assert.Equal(t, "", e.currentIncidentID)
	assert.NotContains(t, e.drivers, "incident-1")
}

// TestClearIncidentIgnoresStaleResolution guards against a delayed
// resolution callback from a driver that is no longer the current one
// (e.g. a slow endIncident for an incident Engine already superseded)
// clobbering a newer currentIncidentID.
func TestClearIncidentIgnoresStaleResolution(t *testing.T) {
	e := &Engine{
		drivers:           map[string]*EmergencyDriver{"incident-old": {}, "incident-new": {}},
		currentIncidentID: "incident-new",
	}
	e.clearIncident("incident-old")
	assert.Equal(t, "incident-new", e.currentIncidentID)
	assert.NotContains(t, e.drivers, "incident-old")
	assert.Contains(t, e.drivers, "incident-new")
}
