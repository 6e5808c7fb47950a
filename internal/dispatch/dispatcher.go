// Package dispatch implements the Event Dispatcher & Projection layer
// (spec.md §4.3): one handler per chain event kind, each folding its
// projection write into the same transaction as the event's durable
// processed marker.
package dispatch

import (
	"context"

	gethlog "github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/rwafund/controlplane/internal/approval"
	"github.com/rwafund/controlplane/internal/gateway"
	"github.com/rwafund/controlplane/internal/rebalance"
	"github.com/rwafund/controlplane/internal/risk"
	"github.com/rwafund/controlplane/internal/store"
	"github.com/rwafund/controlplane/internal/tasks"
)

// KindDispatchEvent is the task kind the Ingestor enqueues every decoded
// log under (internal/ingest.processLog).
const KindDispatchEvent = "dispatch_event"

// handler applies one event's projection write inside tx and optionally
// returns a postCommit follow-up to run once the transaction has
// committed — used for cross-engine calls (rebalance evaluation, risk
// wake-up) that open their own transactions and so cannot nest inside
// this one.
type handler func(ctx context.Context, tx *gorm.DB, rec gateway.LogRecord) (postCommit func(context.Context) error, err error)

// Dispatcher routes decoded events to their projection handlers.
type Dispatcher struct {
	store    *store.Store
	approval *approval.Engine
	rebal    *rebalance.Engine
	risk     *risk.Engine

	handlers map[string]handler
}

// New constructs a Dispatcher and wires its full handler table.
func New(st *store.Store, ap *approval.Engine, rb *rebalance.Engine, rk *risk.Engine) *Dispatcher {
	d := &Dispatcher{store: st, approval: ap, rebal: rb, risk: rk}
	d.handlers = map[string]handler{
		"DepositProcessed":              d.handleDepositProcessed,
		"SharesLocked":                  d.handleSharesDelta(+1),
		"SharesUnlocked":                d.handleSharesDelta(-1),
		"SharesBurned":                  d.handleSharesBurned,
		"RedemptionFeeAdded":            d.handleFeeDelta(+1),
		"RedemptionFeeReduced":          d.handleFeeDelta(-1),
		"DailyLiabilityAdded":           d.handleLiabilityDelta(+1),
		"LiabilityRemoved":              d.handleLiabilityDelta(-1),
		"RedemptionRequested":           d.handleRedemptionRequested,
		"RedemptionApproved":            d.handleRedemptionAdvance(store.RedemptionApproved),
		"RedemptionRejected":            d.handleRedemptionAdvance(store.RedemptionRejected),
		"RedemptionSettled":             d.handleRedemptionSettled,
		"VoucherMinted":                 d.handleVoucherMinted,
		"NavUpdated":                    d.handleNavUpdated,
		"EmergencyModeChanged":          d.handleEmergencyModeChanged,
		"LowLiquidityAlert":             d.handleRiskAlert("risk_alert_low_liquidity", "warning"),
		"CriticalLiquidityAlert":        d.handleRiskAlert("risk_alert_critical_liquidity", "critical"),
		"AssetPurchased":                d.handleAssetMovement(-1),
		"AssetRedeemed":                 d.handleAssetMovement(+1),
		"WaterfallLiquidation":          d.handleWaterfallLiquidation,
		"ManagementFeeCollected":        d.handleFeeCollected,
		"PerformanceFeeCollected":       d.handleFeeCollected,
		"SettlementWaterfallTriggered":  d.handleSettlementWaterfallTriggered,
	}
	return d
}

// RegisterHandlers wires the Dispatcher into the task runtime under the
// kind the Ingestor already enqueues.
func (d *Dispatcher) RegisterHandlers(rt *tasks.Runtime) {
	rt.RegisterHandler(KindDispatchEvent, d.Handle)
}

// Handle is the task-runtime entry point for one decoded log. It is
// idempotent: a replay of an already-processed (tx_hash, log_index)
// commits no change (spec.md §4.3).
func (d *Dispatcher) Handle(ctx context.Context, task tasks.Task) error {
	rec, ok := task.Payload.(gateway.LogRecord)
	if !ok {
		return errors.Errorf("dispatch_event payload is %T, not gateway.LogRecord", task.Payload)
	}

	var postCommit func(context.Context) error
	err := d.store.WithTx(ctx, func(tx *gorm.DB) error {
		done, err := store.HasProcessed(tx, rec.TxHash.Hex(), rec.LogIndex)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		if h, ok := d.handlers[rec.EventName]; ok {
			pc, err := h(ctx, tx, rec)
			if err != nil {
				return errors.Wrapf(err, "handle %s", rec.EventName)
			}
			postCommit = pc
		} else {
			gethlog.Warn("dispatch: no handler registered for event kind", "event", rec.EventName)
		}

		return store.MarkEventProcessed(tx, rec.TxHash.Hex(), rec.LogIndex, rec.EventName, rec.Contract.Hex(), rec.BlockNumber)
	})
	if err != nil {
		return err
	}

	if postCommit != nil {
		if err := postCommit(ctx); err != nil {
			gethlog.Error("dispatch: post-commit follow-up failed", "event", rec.EventName, "err", err)
		}
	}
	return nil
}
