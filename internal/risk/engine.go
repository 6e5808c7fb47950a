package risk

import (
	"context"
	"sync"
	"time"

	"github.com/rwafund/controlplane/internal/rebalance"
	"github.com/rwafund/controlplane/internal/store"
	"github.com/rwafund/controlplane/internal/tasks"
	"github.com/rwafund/controlplane/pkg/money"
)

// FeedFunc supplies the externally-sourced indicator inputs (price
// oracle, concentration/counterparty feed) the Risk Engine does not
// itself compute. Wired by cmd/controlplane from whatever price/
// custodian integrations exist outside this engine's scope.
type FeedFunc func(ctx context.Context) (Inputs, error)

// Engine is the Risk Engine (spec.md §4.6): it ticks, computes
// indicators, records a snapshot, and runs the leveled response.
type Engine struct {
	store     *store.Store
	rebalance *rebalance.Engine
	feed      FeedFunc
	cfg       Config

	standardPausedMu sync.RWMutex
	standardPaused   bool

	driverMu          sync.Mutex
	drivers           map[string]*EmergencyDriver
	currentIncidentID string
	newDriver         func() *EmergencyDriver
}

// New constructs a Risk Engine. newDriver builds a fresh
// *EmergencyDriver per incident (bound to the shared gateway/vault/
// rebalance engine, but with its own holder identity for lease
// fencing).
func New(st *store.Store, rb *rebalance.Engine, feed FeedFunc, cfg Config, newDriver func() *EmergencyDriver) *Engine {
	return &Engine{store: st, rebalance: rb, feed: feed, cfg: cfg, drivers: make(map[string]*EmergencyDriver), newDriver: newDriver}
}

// RegisterHandlers wires the scheduled indicator tick into the shared
// task runtime, matching the 1-minute cadence required once ELEVATED
// (spec.md §4.6: "increase snapshot frequency to 1 min").
func (e *Engine) RegisterHandlers(rt *tasks.Runtime) {
	rt.RegisterHandler("risk_indicators", func(ctx context.Context, _ tasks.Task) error {
		return e.Tick(ctx)
	})
	rt.RegisterHandler("liquidity_check", func(ctx context.Context, _ tasks.Task) error {
		return e.Tick(ctx)
	})
}

// IsStandardRedemptionPaused reports whether off-chain acceptance of
// STANDARD-channel redemption requests is currently paused (spec.md
// §4.6's HIGH-level effect). On-chain-confirmed requests are unaffected.
func (e *Engine) IsStandardRedemptionPaused() bool {
	e.standardPausedMu.RLock()
	defer e.standardPausedMu.RUnlock()
	return e.standardPaused
}

func (e *Engine) setStandardPaused(v bool) {
	e.standardPausedMu.Lock()
	e.standardPaused = v
	e.standardPausedMu.Unlock()
}

// Tick runs one indicator evaluation: compute, snapshot, respond.
func (e *Engine) Tick(ctx context.Context) error {
	in, err := e.feed(ctx)
	if err != nil {
		return err
	}
	ind := ComputeIndicators(in)
	level, score := Evaluate(e.cfg, ind)

	snap := &store.RiskSnapshot{
		Timestamp:            time.Now(),
		L1Ratio:              ind.L1Ratio,
		L1L2Ratio:            ind.L1L2Ratio,
		RedemptionCoverage:   ind.RedemptionCoverage,
		LiquidityGap7d:       ind.LiquidityGap7d.String(),
		NavVolatility24h:     ind.NavVolatility24h,
		AssetPriceDeviation:  ind.AssetPriceDeviation,
		OracleStaleness:      ind.OracleStaleness,
		ConcentrationSingle:  ind.ConcentrationSingle,
		ConcentrationTop3:    ind.ConcentrationTop3,
		ConcentrationCounter: ind.ConcentrationCounter,
		DailyRedemptionRate:  ind.DailyRedemptionRate,
		PendingApprovalRatio: ind.PendingApprovalRatio,
		RedemptionVelocity7d: ind.RedemptionVelocity7d,
		RiskLevel:            string(level),
		Score:                score,
	}
	if err := e.store.RecordSnapshot(ctx, snap); err != nil {
		return err
	}

	return e.respond(ctx, level, in, ind)
}

// respond implements the leveled-response effects of spec.md §4.6.
func (e *Engine) respond(ctx context.Context, level Level, in Inputs, ind Indicators) error {
	switch level {
	case LevelNormal:
		e.setStandardPaused(false)
		return nil

	case LevelElevated:
		e.setStandardPaused(false)
		if err := e.store.RecordRiskEvent(ctx, &store.RiskEvent{Kind: "risk_level_elevated", Severity: "warning"}); err != nil {
			return err
		}
		if in.L1.Cmp(e.cfg.L1Low) < 0 {
			return e.rebalance.Evaluate(ctx, rebalance.TriggerLiquidityAlert)
		}
		return nil

	case LevelHigh:
		e.setStandardPaused(true)
		if err := e.store.RecordRiskEvent(ctx, &store.RiskEvent{Kind: "risk_level_high", Severity: "critical"}); err != nil {
			return err
		}
		return e.rebalance.Evaluate(ctx, rebalance.TriggerLiquidityAlert)

	case LevelCritical:
		e.setStandardPaused(true)
		return e.triggerEmergency(ctx, in)

	default:
		return nil
	}
}

// TriggerEmergencyFromChainEvent starts an incident in response to an
// on-chain EmergencyModeChanged(true) event (SPEC_FULL.md's dispatch
// §4.3), rather than the engine's own CRITICAL-level classification.
// The mode is already set on-chain by the time this runs; this method
// pauses standard redemption off-chain, and the driver's StartIncident
// call (which re-sends setEmergencyMode(true) and pause()) decides
// whether the shortfall warrants an emergency rebalance.
func (e *Engine) TriggerEmergencyFromChainEvent(ctx context.Context) error {
	in, err := e.feed(ctx)
	if err != nil {
		return err
	}
	e.setStandardPaused(true)
	return e.triggerEmergency(ctx, in)
}

// TriggerForecast runs the Monte-Carlo liquidity forecast for all three
// horizons on demand, backing the command surface's TriggerForecast
// (spec.md §6). It reads the same balance-sheet feed Tick uses plus the
// store's outflow-within-horizon query for the confirmed-outflow term.
// The scheduled liquidity_forecast task does not call it: that task kind
// runs a rebalance evaluation (rebalance.Engine.RegisterHandlers).
func (e *Engine) TriggerForecast(ctx context.Context) (map[Horizon]Forecast, error) {
	in, err := e.feed(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[Horizon]Forecast, 3)
	for _, h := range []Horizon{Horizon1d, Horizon7d, Horizon30d} {
		rows, err := e.store.ListOutflowWithinHorizon(ctx, time.Now(), int(h))
		if err != nil {
			return nil, err
		}
		confirmed := money.Zero()
		for _, r := range rows {
			gross, _ := money.FromString(r.GrossAmount)
			confirmed = confirmed.Add(gross)
		}

		fin := ForecastInputs{
			TotalAssets:      in.TotalAssets,
			Available:        in.L1.Add(in.L2),
			ConfirmedOutflow: confirmed,
		}
		out[h] = ComputeForecast(e.cfg, h, fin, NewCryptoSource())
	}
	return out, nil
}

// triggerEmergency opens an incident on the first CRITICAL tick and then
// does nothing on every subsequent tick while that incident is still
// open: the recovery watcher launched by the one StartIncident call
// keeps renewing the lease and polling for recovery on its own cadence,
// so a 1-minute scheduler tick must not re-enter StartIncident (it would
// re-send setEmergencyMode(true)/pause() and leak another watcher
// goroutine per tick, per spec.md §4.6 "exactly one instance per
// emergency incident ID"). currentIncidentID is cleared by the
// onResolved callback once the driver's endIncident fires, allowing a
// later incident to mint a fresh ID.
func (e *Engine) triggerEmergency(ctx context.Context, in Inputs) error {
	e.driverMu.Lock()
	if e.currentIncidentID != "" {
		e.driverMu.Unlock()
		return nil
	}

	incidentID := NewIncidentID(time.Now())
	driver := e.newDriver()
	driver.SetOnResolved(e.clearIncident)
	e.drivers[incidentID] = driver
	e.currentIncidentID = incidentID
	e.driverMu.Unlock()

	return driver.StartIncident(ctx, incidentID, liquidityGap(in))
}

// clearIncident is the EmergencyDriver.onResolved callback: it drops the
// resolved incident's driver and, if it is still the one Engine considers
// open, clears currentIncidentID so the next CRITICAL tick mints a fresh
// incident rather than reusing a closed one.
func (e *Engine) clearIncident(resolvedID string) {
	e.driverMu.Lock()
	delete(e.drivers, resolvedID)
	if e.currentIncidentID == resolvedID {
		e.currentIncidentID = ""
	}
	e.driverMu.Unlock()
}

// liquidityGap is the shortfall between redeemable liability and the
// liquid tiers (L1+L2), floored at zero — the amount the emergency
// waterfall plan needs to raise.
func liquidityGap(in Inputs) money.Amount {
	gap := in.Liability.Sub(in.L1.Add(in.L2))
	if gap.Sign() < 0 {
		return money.Zero()
	}
	return gap
}
