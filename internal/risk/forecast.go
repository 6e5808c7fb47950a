package risk

import (
	crand "crypto/rand"
	"encoding/binary"
	mrand "math/rand"

	"github.com/rwafund/controlplane/pkg/money"
)

// Horizon is one of the forecast's three fixed windows (spec.md §4.6).
type Horizon int

const (
	Horizon1d  Horizon = 1
	Horizon7d  Horizon = 7
	Horizon30d Horizon = 30
)

// Recommendation is the forecast's closed action-suggestion set.
type Recommendation string

const (
	RecNone             Recommendation = "NONE"
	RecMonitor          Recommendation = "MONITOR"
	RecPrepareLiquidity Recommendation = "PREPARE_LIQUIDITY"
	RecEmergency        Recommendation = "EMERGENCY"
)

// Source supplies uniform [0,1) floats for the Monte-Carlo sampler.
// Production uses cryptographic randomness; tests use a fixed seed so
// results are reproducible, per spec.md §4.6.
type Source interface{ Float64() float64 }

// cryptoSource draws from crypto/rand, the production source.
type cryptoSource struct{}

func (cryptoSource) Float64() float64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		// crypto/rand failing is a fatal environment problem; fall back
		// to 1, the top of both multiplier ranges (maximum outflow and
		// maximum inflow), rather than panicking mid-forecast.
		return 1
	}
	return float64(binary.BigEndian.Uint64(b[:])>>11) / (1 << 53)
}

// NewCryptoSource returns the production randomness source.
func NewCryptoSource() Source { return cryptoSource{} }

// NewSeededSource returns a deterministic source for tests.
func NewSeededSource(seed int64) Source { return mrand.New(mrand.NewSource(seed)) }

// Forecast is the liquidity forecast's result for one horizon.
type Forecast struct {
	Horizon              Horizon
	ConfirmedOutflow     money.Amount
	ProbabilisticOutflow money.Amount
	ExpectedInflow       money.Amount
	ShortfallProbability float64 // 0..1
	Recommendation       Recommendation
	SuggestedAmount      money.Amount
}

// ForecastInputs is the balance-sheet snapshot a forecast is computed
// against.
type ForecastInputs struct {
	TotalAssets      money.Amount
	Available        money.Amount // liquid tiers (L1+L2) available to meet outflow
	ConfirmedOutflow money.Amount // Σ non-settled/cancelled redemption gross within horizon
}

// ComputeForecast runs the Monte-Carlo shortfall simulation for one
// horizon (spec.md §4.6).
func ComputeForecast(cfg Config, h Horizon, in ForecastInputs, src Source) Forecast {
	horizonBps := int64(h) * 10_000 / 365
	probOutflow := in.TotalAssets.MulBps(cfg.HistoricalRedemptionRateBps).MulBps(horizonBps)
	expectedInflow := in.TotalAssets.MulBps(cfg.HistoricalDepositRateBps).MulBps(horizonBps).MulBps(5_000)

	trials := cfg.MonteCarloTrials
	if trials <= 0 {
		trials = 1000
	}

	outflowBase := in.ConfirmedOutflow.Add(probOutflow)
	shortfalls := 0
	for i := 0; i < trials; i++ {
		outflowMul := 0.8 + 0.4*src.Float64()  // U(0.8, 1.2)
		inflowMul := 0.5 + 1.0*src.Float64()   // U(0.5, 1.5)
		outflowTrial := scaleAmount(outflowBase, outflowMul)
		inflowTrial := scaleAmount(expectedInflow, inflowMul)
		if in.Available.Add(inflowTrial).Cmp(outflowTrial) < 0 {
			shortfalls++
		}
	}
	probability := float64(shortfalls) / float64(trials)

	gap := outflowBase.Sub(in.Available)
	rec, suggested := recommend(probability, gap)

	return Forecast{
		Horizon:              h,
		ConfirmedOutflow:     in.ConfirmedOutflow,
		ProbabilisticOutflow: probOutflow,
		ExpectedInflow:       expectedInflow,
		ShortfallProbability: probability,
		Recommendation:       rec,
		SuggestedAmount:      suggested,
	}
}

func recommend(probability float64, gap money.Amount) (Recommendation, money.Amount) {
	switch {
	case probability < 0.05:
		return RecNone, money.Zero()
	case probability < 0.20:
		return RecMonitor, money.Zero()
	case probability < 0.50:
		return RecPrepareLiquidity, gap.Abs()
	default:
		return RecEmergency, gap.Abs().MulBps(12_000)
	}
}

// scaleAmount multiplies a base.Amount by a float factor via bps
// quantization (factor resolved to the nearest basis point), keeping
// all money arithmetic inside pkg/money rather than reintroducing
// floats into the ledger path.
func scaleAmount(base money.Amount, factor float64) money.Amount {
	bps := int64(factor * 10_000)
	return base.MulBps(bps)
}
