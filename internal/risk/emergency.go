package risk

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/rwafund/controlplane/internal/gateway"
	"github.com/rwafund/controlplane/internal/rebalance"
	"github.com/rwafund/controlplane/internal/store"
	"github.com/rwafund/controlplane/pkg/money"
)

// EmergencyDriver runs the CRITICAL-level incident response (spec.md
// §4.6): setEmergencyMode/pause, a waterfall plan for the liquidity
// shortfall, and a recovery watcher that un-pauses once risk subsides.
// Exactly one driver instance runs per incident, enforced by a
// distributed lease keyed on the incident ID (spec.md §5).
type EmergencyDriver struct {
	store     *store.Store
	gw        *gateway.Gateway
	vault     common.Address
	rebalance *rebalance.Engine
	holderID  string

	watcherInterval time.Duration
	onResolved      func(incidentID string)
}

// NewEmergencyDriver builds a driver bound to the fund vault.
func NewEmergencyDriver(st *store.Store, gw *gateway.Gateway, vault common.Address, rb *rebalance.Engine, holderID string) *EmergencyDriver {
	return &EmergencyDriver{store: st, gw: gw, vault: vault, rebalance: rb, holderID: holderID, watcherInterval: 5 * time.Minute}
}

// SetOnResolved registers a callback fired once endIncident completes,
// letting the caller (Engine) learn when it may mint a fresh incident ID.
// Must be called before StartIncident; the driver never mutates it
// concurrently with a read.
func (d *EmergencyDriver) SetOnResolved(fn func(incidentID string)) {
	d.onResolved = fn
}

// StartIncident opens a new emergency incident: acquires the incident
// lease, commits setEmergencyMode(true)+pause() concurrently, emits a
// critical notification, kicks off a waterfall plan for the liquidity
// gap, and launches the recovery watcher in the background. It returns
// once the opening steps complete; the watcher continues independently
// until the incident resolves.
func (d *EmergencyDriver) StartIncident(ctx context.Context, incidentID string, liquidityGap money.Amount) error {
	leaseKey := "emergency-incident:" + incidentID
	if _, err := d.store.AcquireLease(ctx, leaseKey, d.holderID); err != nil {
		if errors.Is(err, store.ErrLeaseHeld) {
			return nil // another process already owns this incident
		}
		return err
	}

	var wg sync.WaitGroup
	var emergencyErr, pauseErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _, emergencyErr = d.gw.Send(ctx, d.vault, "setEmergencyMode", "admin", gateway.SendConstraints{SignerRole: gateway.RoleAdmin}, true)
	}()
	go func() {
		defer wg.Done()
		_, _, pauseErr = d.gw.Send(ctx, d.vault, "pause", "admin", gateway.SendConstraints{SignerRole: gateway.RoleAdmin})
	}()
	wg.Wait()

	if emergencyErr != nil {
		return errors.Wrap(emergencyErr, "commit setEmergencyMode(true)")
	}
	if pauseErr != nil {
		return errors.Wrap(pauseErr, "commit pause")
	}

	if err := d.store.RecordRiskEvent(ctx, &store.RiskEvent{Kind: "emergency_incident_opened", Severity: "critical", IncidentID: &incidentID, Detail: liquidityGap.String()}); err != nil {
		return err
	}

	if liquidityGap.Sign() > 0 {
		if _, err := d.rebalance.TriggerManualPlan(ctx); err != nil {
			// a failed waterfall plan does not abort incident opening —
			// the vault is already paused; the failure is recorded as a
			// risk event and the recovery watcher still starts.
			_ = d.store.RecordRiskEvent(ctx, &store.RiskEvent{Kind: "emergency_waterfall_failed", Severity: "warning", IncidentID: &incidentID, Detail: err.Error()})
		}
	}

	go d.runRecoveryWatcher(context.Background(), incidentID)
	return nil
}

// runRecoveryWatcher polls every watcherInterval and terminates the
// incident once two consecutive snapshots read ELEVATED or better.
func (d *EmergencyDriver) runRecoveryWatcher(ctx context.Context, incidentID string) {
	ticker := time.NewTicker(d.watcherInterval)
	defer ticker.Stop()

	consecutiveOK := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.store.RenewLease(ctx, "emergency-incident:"+incidentID, d.holderID); err != nil {
				return // lost the lease; another process may take over
			}
			snap, err := d.store.LatestSnapshot(ctx)
			if err != nil {
				continue
			}
			if Level(snap.RiskLevel).AtMostElevated() {
				consecutiveOK++
			} else {
				consecutiveOK = 0
			}
			if consecutiveOK >= 2 {
				d.endIncident(ctx, incidentID)
				return
			}
		}
	}
}

func (d *EmergencyDriver) endIncident(ctx context.Context, incidentID string) {
	if _, _, err := d.gw.Send(ctx, d.vault, "setEmergencyMode", "admin", gateway.SendConstraints{SignerRole: gateway.RoleAdmin}, false); err != nil {
		_ = d.store.RecordRiskEvent(ctx, &store.RiskEvent{Kind: "emergency_recovery_commit_failed", Severity: "critical", IncidentID: &incidentID, Detail: err.Error()})
		return
	}
	if _, _, err := d.gw.Send(ctx, d.vault, "unpause", "admin", gateway.SendConstraints{SignerRole: gateway.RoleAdmin}); err != nil {
		_ = d.store.RecordRiskEvent(ctx, &store.RiskEvent{Kind: "emergency_recovery_commit_failed", Severity: "critical", IncidentID: &incidentID, Detail: err.Error()})
		return
	}
	_ = d.store.RecordRiskEvent(ctx, &store.RiskEvent{Kind: "emergency_incident_closed", Severity: "info", IncidentID: &incidentID})
	_ = d.store.ReleaseLease(ctx, "emergency-incident:"+incidentID, d.holderID)
	// Post-incident report generation is a reporting concern (spec.md
	// Non-goals: "report rendering"); closing the incident here is
	// sufficient signal for the reporting job to pick up.
	if d.onResolved != nil {
		d.onResolved(incidentID)
	}
}

// NewIncidentID derives a stable incident identifier from a risk event
// timestamp, used when the caller has no externally-assigned ID.
func NewIncidentID(t time.Time) string {
	return "incident-" + strconv.FormatInt(t.Unix(), 10)
}
