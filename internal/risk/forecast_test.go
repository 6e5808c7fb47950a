package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rwafund/controlplane/pkg/money"
)

func TestComputeForecastNoneWhenWellCovered(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MonteCarloTrials = 500
	in := ForecastInputs{
		TotalAssets:      money.FromInt64(10_000_000),
		Available:        money.FromInt64(9_000_000),
		ConfirmedOutflow: money.FromInt64(10_000),
	}
	f := ComputeForecast(cfg, Horizon1d, in, NewSeededSource(1))
	assert.Equal(t, RecNone, f.Recommendation)
	assert.Equal(t, money.Zero().String(), f.SuggestedAmount.String())
}

func TestComputeForecastEmergencyWhenOutflowDwarfsAvailable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MonteCarloTrials = 500
	in := ForecastInputs{
		TotalAssets:      money.FromInt64(10_000_000),
		Available:        money.FromInt64(10_000),
		ConfirmedOutflow: money.FromInt64(5_000_000),
	}
	f := ComputeForecast(cfg, Horizon30d, in, NewSeededSource(1))
	assert.Equal(t, RecEmergency, f.Recommendation)
	assert.True(t, f.SuggestedAmount.Sign() > 0)
}

func TestComputeForecastIsDeterministicForFixedSeed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MonteCarloTrials = 200
	in := ForecastInputs{
		TotalAssets:      money.FromInt64(5_000_000),
		Available:        money.FromInt64(500_000),
		ConfirmedOutflow: money.FromInt64(300_000),
	}
	a := ComputeForecast(cfg, Horizon7d, in, NewSeededSource(42))
	b := ComputeForecast(cfg, Horizon7d, in, NewSeededSource(42))
	assert.Equal(t, a.ShortfallProbability, b.ShortfallProbability)
	assert.Equal(t, a.Recommendation, b.Recommendation)
}

func TestNewCryptoSourceProducesValuesInUnitRange(t *testing.T) {
	src := NewCryptoSource()
	for i := 0; i < 20; i++ {
		v := src.Float64()
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
}
