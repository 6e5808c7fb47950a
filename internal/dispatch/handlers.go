package dispatch

import (
	"context"
	"math/big"
	"time"

	"gorm.io/gorm"

	"github.com/rwafund/controlplane/internal/approval"
	"github.com/rwafund/controlplane/internal/gateway"
	"github.com/rwafund/controlplane/internal/rebalance"
	"github.com/rwafund/controlplane/internal/store"
	"github.com/rwafund/controlplane/pkg/money"
)

// amountToFloat renders a base-unit Amount as a float64 for rule
// matching, the same conversion the Rebalance Engine uses for its own
// threshold comparisons.
func amountToFloat(a money.Amount) float64 {
	f := new(big.Float).SetInt(a.Int())
	v, _ := f.Float64()
	return v
}

// handleDepositProcessed credits a deposit to total assets and the L1
// cash tier, where new capital lands before the rebalance engine sweeps
// it (spec.md §4.3).
func (d *Dispatcher) handleDepositProcessed(ctx context.Context, tx *gorm.DB, rec gateway.LogRecord) (func(context.Context) error, error) {
	amount := decodedAmount(rec, "amount")
	err := store.MutateProjectionIn(tx, func(p *store.FundProjection) error {
		total, _ := money.FromString(p.TotalAssets)
		cash, _ := money.FromString(p.L1Cash)
		p.TotalAssets = total.Add(amount).String()
		p.L1Cash = cash.Add(amount).String()
		p.LastBlock = rec.BlockNumber
		return nil
	})
	if err != nil {
		return nil, err
	}
	return nil, store.RecordAudit(tx, "chain", "deposit_processed", rec.TxHash.Hex(), amount.String())
}

// handleSharesDelta returns a handler that adjusts TotalLockedShares by
// sign*shares — SharesLocked (+1) escrows shares at request time,
// SharesUnlocked (-1) releases them on rejection/cancellation.
func (d *Dispatcher) handleSharesDelta(sign int64) handler {
	return func(ctx context.Context, tx *gorm.DB, rec gateway.LogRecord) (func(context.Context) error, error) {
		shares := decodedAmount(rec, "shares")
		return nil, store.MutateProjectionIn(tx, func(p *store.FundProjection) error {
			locked, _ := money.FromString(p.TotalLockedShares)
			if sign >= 0 {
				p.TotalLockedShares = locked.Add(shares).String()
			} else {
				p.TotalLockedShares = locked.Sub(shares).String()
			}
			return nil
		})
	}
}

// handleSharesBurned removes burned shares from locked shares at
// settlement; total assets are not changed here.
func (d *Dispatcher) handleSharesBurned(ctx context.Context, tx *gorm.DB, rec gateway.LogRecord) (func(context.Context) error, error) {
	shares := decodedAmount(rec, "shares")
	return nil, store.MutateProjectionIn(tx, func(p *store.FundProjection) error {
		locked, _ := money.FromString(p.TotalLockedShares)
		p.TotalLockedShares = locked.Sub(shares).String()
		return nil
	})
}

// handleFeeDelta returns a handler adjusting withdrawable fees by
// sign*amount (RedemptionFeeAdded / RedemptionFeeReduced).
func (d *Dispatcher) handleFeeDelta(sign int64) handler {
	return func(ctx context.Context, tx *gorm.DB, rec gateway.LogRecord) (func(context.Context) error, error) {
		amount := decodedAmount(rec, "amount")
		err := store.MutateProjectionIn(tx, func(p *store.FundProjection) error {
			fees, _ := money.FromString(p.WithdrawableFees)
			if sign >= 0 {
				p.WithdrawableFees = fees.Add(amount).String()
			} else {
				p.WithdrawableFees = fees.Sub(amount).String()
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		requestID := decodedUint64(rec, "requestId")
		if requestID == 0 {
			return nil, nil
		}
		return nil, d.store.UpdateRedemptionFields(ctx, tx, requestID, func(r *store.RedemptionRequest) {
			fee, _ := money.FromString(r.EstimatedFee)
			if sign >= 0 {
				r.EstimatedFee = fee.Add(amount).String()
			} else {
				r.EstimatedFee = fee.Sub(amount).String()
			}
		})
	}
}

// handleLiabilityDelta returns a handler adjusting the fund's total
// redemption liability by sign*amount (DailyLiabilityAdded /
// LiabilityRemoved).
func (d *Dispatcher) handleLiabilityDelta(sign int64) handler {
	return func(ctx context.Context, tx *gorm.DB, rec gateway.LogRecord) (func(context.Context) error, error) {
		amount := decodedAmount(rec, "amount")
		return nil, store.MutateProjectionIn(tx, func(p *store.FundProjection) error {
			liability, _ := money.FromString(p.TotalRedemptionLiability)
			if sign >= 0 {
				p.TotalRedemptionLiability = liability.Add(amount).String()
			} else {
				p.TotalRedemptionLiability = liability.Sub(amount).String()
			}
			return nil
		})
	}
}

// handleRedemptionRequested upserts the RedemptionRequest row with its
// initial status derived from requires_approval and, when true, opens
// an approval ticket in the same transaction (spec.md §4.3/§4.4).
func (d *Dispatcher) handleRedemptionRequested(ctx context.Context, tx *gorm.DB, rec gateway.LogRecord) (func(context.Context) error, error) {
	requestID := decodedUint64(rec, "requestId")
	requiresApproval := decodedBool(rec, "requiresApproval")
	gross := decodedAmount(rec, "grossAmount")

	status := store.RedemptionPending
	if requiresApproval {
		status = store.RedemptionPendingApproval
	}

	req := &store.RedemptionRequest{
		RequestID:        requestID,
		Owner:            decodedString(rec, "owner"),
		Receiver:         decodedString(rec, "receiver"),
		Shares:           decodedAmount(rec, "shares").String(),
		GrossAmount:      gross.String(),
		LockedNav:        decodedAmount(rec, "lockedNav").String(),
		EstimatedFee:      decodedAmount(rec, "estimatedFee").String(),
		RequestTime:      rec.BlockTime,
		SettlementTime:   decodedUnixTime(rec, "settlementTime"),
		Channel:          decodedString(rec, "channel"),
		RequiresApproval: requiresApproval,
		Status:           status,
	}
	if wid := decodedUint64(rec, "windowId"); wid != 0 {
		req.WindowID = &wid
	}
	if err := d.store.CreateRedemption(ctx, tx, req); err != nil {
		return nil, err
	}

	if !requiresApproval {
		return nil, nil
	}

	ticket, err := d.approval.RequestApproval(ctx, tx, approval.ReferenceRedemption, requestID, req.Owner,
		map[string]float64{"gross_amount": amountToFloat(gross)})
	if err != nil {
		return nil, err
	}
	return nil, d.store.UpdateRedemptionFields(ctx, tx, requestID, func(r *store.RedemptionRequest) {
		r.ApprovalTicketID = &ticket.ID
	})
}

// handleRedemptionAdvance returns a handler that transitions a
// redemption request to to (RedemptionApproved / RedemptionRejected).
// The linked ticket is already resolved by the Approval Engine's own
// result processor before this on-chain confirmation arrives.
func (d *Dispatcher) handleRedemptionAdvance(to string) handler {
	return func(ctx context.Context, tx *gorm.DB, rec gateway.LogRecord) (func(context.Context) error, error) {
		requestID := decodedUint64(rec, "requestId")
		return nil, d.store.TransitionRedemption(ctx, tx, requestID, to, nil)
	}
}

// handleRedemptionSettled moves a request to SETTLED, records the
// settled amount/fee, and draws the outflow down from L1 cash and total
// liability.
func (d *Dispatcher) handleRedemptionSettled(ctx context.Context, tx *gorm.DB, rec gateway.LogRecord) (func(context.Context) error, error) {
	requestID := decodedUint64(rec, "requestId")
	settledAmount := decodedAmount(rec, "settledAmount")
	settledFee := decodedAmount(rec, "settledFee")

	err := d.store.TransitionRedemption(ctx, tx, requestID, store.RedemptionSettled, func(r *store.RedemptionRequest) {
		amt := settledAmount.String()
		fee := settledFee.String()
		r.SettledAmount = &amt
		r.SettledFee = &fee
	})
	if err != nil {
		return nil, err
	}

	return nil, store.MutateProjectionIn(tx, func(p *store.FundProjection) error {
		cash, _ := money.FromString(p.L1Cash)
		liability, _ := money.FromString(p.TotalRedemptionLiability)
		p.L1Cash = cash.Sub(settledAmount).String()
		p.TotalRedemptionLiability = liability.Sub(settledAmount).String()
		return nil
	})
}

// handleVoucherMinted attaches the emergency voucher's token ID to its
// originating redemption request.
func (d *Dispatcher) handleVoucherMinted(ctx context.Context, tx *gorm.DB, rec gateway.LogRecord) (func(context.Context) error, error) {
	requestID := decodedUint64(rec, "requestId")
	tokenID := decodedString(rec, "tokenId")
	return nil, d.store.UpdateRedemptionFields(ctx, tx, requestID, func(r *store.RedemptionRequest) {
		r.VoucherTokenID = &tokenID
	})
}

// handleNavUpdated records the new share price and wakes the risk
// evaluator and the rebalance engine's NAV-triggered evaluation once
// the projection write has committed (spec.md §4.3/§4.5).
func (d *Dispatcher) handleNavUpdated(ctx context.Context, tx *gorm.DB, rec gateway.LogRecord) (func(context.Context) error, error) {
	sharePrice := decodedAmount(rec, "sharePrice")
	err := store.MutateProjectionIn(tx, func(p *store.FundProjection) error {
		p.SharePrice = sharePrice.String()
		p.LastBlock = rec.BlockNumber
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := store.RecordAudit(tx, "chain", "nav_updated", rec.TxHash.Hex(), sharePrice.String()); err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		if err := d.risk.Tick(ctx); err != nil {
			return err
		}
		return d.rebal.Evaluate(ctx, rebalance.TriggerNavUpdated)
	}, nil
}

// handleEmergencyModeChanged flips the projection's emergency flag and,
// when entering emergency mode, invokes the emergency driver once the
// flag change has committed (spec.md §4.3/§4.6).
func (d *Dispatcher) handleEmergencyModeChanged(ctx context.Context, tx *gorm.DB, rec gateway.LogRecord) (func(context.Context) error, error) {
	active := decodedBool(rec, "active")
	err := store.MutateProjectionIn(tx, func(p *store.FundProjection) error {
		p.EmergencyMode = active
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, nil
	}
	return func(ctx context.Context) error {
		return d.risk.TriggerEmergencyFromChainEvent(ctx)
	}, nil
}

// handleRiskAlert returns a handler that raises a risk event of kind,
// suppressing duplicates raised within the last hour (spec.md §4.3).
func (d *Dispatcher) handleRiskAlert(kind, severity string) handler {
	return func(ctx context.Context, tx *gorm.DB, rec gateway.LogRecord) (func(context.Context) error, error) {
		recent, err := d.store.RecentRiskEvent(ctx, kind, time.Now().Add(-time.Hour))
		if err == nil && recent != nil {
			return nil, nil
		}
		return nil, store.RecordRiskEventIn(tx, &store.RiskEvent{
			Kind: kind, Severity: severity, Detail: rec.TxHash.Hex(),
		})
	}
}

// handleAssetMovement returns a handler shifting value between the L2
// invested tier and L1 cash on an asset purchase (cash out, sign -1) or
// redemption (cash in, sign +1).
func (d *Dispatcher) handleAssetMovement(sign int64) handler {
	return func(ctx context.Context, tx *gorm.DB, rec gateway.LogRecord) (func(context.Context) error, error) {
		amount := decodedAmount(rec, "amount")
		return nil, store.MutateProjectionIn(tx, func(p *store.FundProjection) error {
			cash, _ := money.FromString(p.L1Cash)
			l2, _ := money.FromString(p.L2)
			if sign >= 0 {
				cash = cash.Add(amount)
				l2 = l2.Sub(amount)
			} else {
				cash = cash.Sub(amount)
				l2 = l2.Add(amount)
			}
			p.L1Cash = cash.String()
			p.L2 = l2.String()
			return nil
		})
	}
}

// handleWaterfallLiquidation moves value out of L3 into L1 cash, the
// emergency waterfall's terminal step.
func (d *Dispatcher) handleWaterfallLiquidation(ctx context.Context, tx *gorm.DB, rec gateway.LogRecord) (func(context.Context) error, error) {
	amount := decodedAmount(rec, "amount")
	return nil, store.MutateProjectionIn(tx, func(p *store.FundProjection) error {
		cash, _ := money.FromString(p.L1Cash)
		l3, _ := money.FromString(p.L3)
		p.L1Cash = cash.Add(amount).String()
		p.L3 = l3.Sub(amount).String()
		return nil
	})
}

// handleFeeCollected draws a collected management/performance fee out
// of withdrawable fees.
func (d *Dispatcher) handleFeeCollected(ctx context.Context, tx *gorm.DB, rec gateway.LogRecord) (func(context.Context) error, error) {
	amount := decodedAmount(rec, "amount")
	return nil, store.MutateProjectionIn(tx, func(p *store.FundProjection) error {
		fees, _ := money.FromString(p.WithdrawableFees)
		p.WithdrawableFees = fees.Sub(amount).String()
		return nil
	})
}

// handleSettlementWaterfallTriggered records the triggering risk event;
// the waterfall's own liquidation legs arrive as separate
// WaterfallLiquidation events this dispatcher also handles.
func (d *Dispatcher) handleSettlementWaterfallTriggered(ctx context.Context, tx *gorm.DB, rec gateway.LogRecord) (func(context.Context) error, error) {
	return nil, store.RecordRiskEventIn(tx, &store.RiskEvent{
		Kind: "settlement_waterfall_triggered", Severity: "warning", Detail: rec.TxHash.Hex(),
	})
}
