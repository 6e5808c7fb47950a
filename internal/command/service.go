package command

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/rwafund/controlplane/internal/approval"
	"github.com/rwafund/controlplane/internal/ingest"
	"github.com/rwafund/controlplane/internal/rebalance"
	"github.com/rwafund/controlplane/internal/risk"
	"github.com/rwafund/controlplane/internal/store"
)

// Service is the command surface (spec.md §6): a thin, idempotent
// facade in front of the engines, used by whatever outer transport
// (CLI, RPC, HTTP) cmd/controlplane wires up — this package owns none
// of that transport itself.
type Service struct {
	store    *store.Store
	approval *approval.Engine
	rebal    *rebalance.Engine
	risk     *risk.Engine
	ingest   *ingest.Ingestor

	contracts []common.Address

	idem *idemCache
}

// New constructs the command surface over the already-wired engines.
// contracts is the full set of tracked contracts, used by Resync (the
// command names only a target block, not a contract).
func New(st *store.Store, ap *approval.Engine, rb *rebalance.Engine, rk *risk.Engine, ing *ingest.Ingestor, contracts []common.Address) *Service {
	return &Service{store: st, approval: ap, rebal: rb, risk: rk, ingest: ing, contracts: contracts, idem: newIdemCache()}
}

// PruneIdempotencyCache drops retained command results past
// idempotencyRetention; wire alongside the task runtime's periodic
// PruneResults sweep.
func (s *Service) PruneIdempotencyCache() { s.idem.prune() }

// ---- ApproveTicket / RejectTicket / CancelTicket ----

// ApproveTicketRequest carries the ticket to resolve and the acting
// approver's identity (spec.md §6: "each command ... identifies the
// requester").
type ApproveTicketRequest struct {
	IdempotencyKey string
	TicketID       uint64
	Approver       string
	ApproverRole   string
	Reason         string
}

// ApproveTicket applies an APPROVE action from Approver holding
// ApproverRole.
func (s *Service) ApproveTicket(ctx context.Context, req ApproveTicketRequest) (*Result, error) {
	return s.applyTicketAction(ctx, req.IdempotencyKey, req.TicketID, req.Approver, req.ApproverRole, "APPROVE", req.Reason)
}

// RejectTicketRequest is ApproveTicketRequest's counterpart; Reason is
// expected for an audit trail but not required by the engine.
type RejectTicketRequest struct {
	IdempotencyKey string
	TicketID       uint64
	Approver       string
	ApproverRole   string
	Reason         string
}

// RejectTicket applies a REJECT action from Approver holding
// ApproverRole.
func (s *Service) RejectTicket(ctx context.Context, req RejectTicketRequest) (*Result, error) {
	return s.applyTicketAction(ctx, req.IdempotencyKey, req.TicketID, req.Approver, req.ApproverRole, "REJECT", req.Reason)
}

func (s *Service) applyTicketAction(ctx context.Context, idemKey string, ticketID uint64, approver, approverRole, action, reason string) (*Result, error) {
	return withIdempotency(s.idem, idemKey, func() (*Result, error) {
		if err := s.approval.ProcessAction(ctx, ticketID, approver, approverRole, action, reason); err != nil {
			return nil, translateApprovalErr(err)
		}
		return s.ticketResult(ctx, ticketID)
	})
}

// CancelTicketRequest carries the ticket to cancel.
type CancelTicketRequest struct {
	IdempotencyKey string
	TicketID       uint64
}

// CancelTicket cancels a still-open ticket (spec.md §4.4/§9).
func (s *Service) CancelTicket(ctx context.Context, req CancelTicketRequest) (*Result, error) {
	return withIdempotency(s.idem, req.IdempotencyKey, func() (*Result, error) {
		if err := s.approval.CancelTicket(ctx, req.TicketID); err != nil {
			return nil, translateApprovalErr(err)
		}
		return s.ticketResult(ctx, req.TicketID)
	})
}

func (s *Service) ticketResult(ctx context.Context, ticketID uint64) (*Result, error) {
	t, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, newError(CodeInternal, "load resolved ticket", err)
	}
	status := StatusInFlight
	if t.Status != store.TicketPending && t.Status != store.TicketPartiallyApproved {
		status = StatusCompleted
	}
	return &Result{
		Status:    status,
		EntityIDs: map[string]uint64{"ticket_id": t.ID},
		Detail:    t.Status,
	}, nil
}

func translateApprovalErr(err error) *Error {
	switch {
	case errors.Is(err, store.ErrAlreadyResolved), errors.Is(err, store.ErrAlreadyActed), errors.Is(err, approval.ErrActorLacksRole):
		return newError(CodeValidationError, err.Error(), err)
	case errors.Is(err, approval.ErrUnsupportedReference):
		return newError(CodeUnsupportedReference, err.Error(), err)
	default:
		return newError(CodeInternal, "approval action failed", err)
	}
}

// ---- PreviewPlan / TriggerRebalance / ExecutePlan ----

// PreviewPlanRequest carries no target: the engine derives the plan
// from current fund state.
type PreviewPlanRequest struct {
	IdempotencyKey string
}

// PreviewPlan builds and proposes a plan immediately from current fund
// state (spec.md §6). There is no engine-level dry-run mode separate
// from TriggerRebalance — both route to TriggerManualPlan and differ
// only in caller intent. Only a plan that needs approval stays
// unexecuted (PENDING_APPROVAL); one below the approval threshold is
// executed before TriggerManualPlan returns.
func (s *Service) PreviewPlan(ctx context.Context, req PreviewPlanRequest) (*Result, error) {
	return s.triggerPlan(ctx, req.IdempotencyKey)
}

// TriggerRebalanceRequest is PreviewPlanRequest's synonym at the
// command-surface level.
type TriggerRebalanceRequest struct {
	IdempotencyKey string
}

// TriggerRebalance is PreviewPlan's alias (spec.md §6 lists both names
// over the same manual-trigger entry point).
func (s *Service) TriggerRebalance(ctx context.Context, req TriggerRebalanceRequest) (*Result, error) {
	return s.triggerPlan(ctx, req.IdempotencyKey)
}

func (s *Service) triggerPlan(ctx context.Context, idemKey string) (*Result, error) {
	return withIdempotency(s.idem, idemKey, func() (*Result, error) {
		plan, err := s.rebal.TriggerManualPlan(ctx)
		if err != nil {
			switch {
			case errors.Is(err, rebalance.ErrPlanAlreadyActive):
				return nil, newError(CodeValidationError, err.Error(), err)
			case errors.Is(err, approval.ErrNoRuleMatched):
				return nil, newError(CodeRuleNotMatched, err.Error(), err)
			default:
				return nil, newError(CodeInternal, "trigger rebalance plan", err)
			}
		}
		if plan == nil {
			return &Result{Status: StatusCompleted, Detail: "no rebalance needed: fund state within configured tolerances"}, nil
		}
		return &Result{
			Status:    planStatusToCommandStatus(plan.Status),
			EntityIDs: map[string]uint64{"plan_id": plan.ID},
			Detail:    plan.Status,
		}, nil
	})
}

// ExecutePlanRequest carries the plan to execute.
type ExecutePlanRequest struct {
	IdempotencyKey string
	PlanID         uint64
}

// ExecutePlan runs an already-APPROVED plan's actions in priority order
// (spec.md §4.5/§6). On-chain commit failures are reflected in the
// plan's terminal status (PARTIAL/FAILED) rather than a Go error, per
// spec.md §7: "on-chain commit failures include the terminal tx receipt
// status".
func (s *Service) ExecutePlan(ctx context.Context, req ExecutePlanRequest) (*Result, error) {
	return withIdempotency(s.idem, req.IdempotencyKey, func() (*Result, error) {
		plan, _, err := s.store.GetPlan(ctx, req.PlanID)
		if err != nil {
			return nil, newError(CodeValidationError, "unknown plan", err)
		}
		if plan.Status != store.PlanApproved {
			return nil, newError(CodeValidationError, "plan is not APPROVED", nil)
		}

		if err := s.rebal.ExecuteApproved(ctx, req.PlanID); err != nil {
			return nil, newError(CodeInternal, "execute rebalance plan", err)
		}

		plan, results, err := s.store.GetPlan(ctx, req.PlanID)
		if err != nil {
			return nil, newError(CodeInternal, "reload executed plan", err)
		}
		return &Result{
			Status:    planStatusToCommandStatus(plan.Status),
			EntityIDs: map[string]uint64{"plan_id": plan.ID},
			Detail:    executionDetail(plan.Status, len(results)),
		}, nil
	})
}

func planStatusToCommandStatus(status string) Status {
	switch status {
	case store.PlanDraft, store.PlanPendingApproval, store.PlanApproved:
		return StatusInFlight
	default:
		return StatusCompleted
	}
}

func executionDetail(planStatus string, actionCount int) string {
	switch planStatus {
	case store.PlanCompleted:
		return "all actions settled"
	case store.PlanPartial:
		return "one or more actions failed; plan marked PARTIAL"
	case store.PlanFailed:
		return "a priority-0 action failed; plan marked FAILED"
	default:
		return planStatus
	}
}

// ---- TriggerForecast ----

// TriggerForecastRequest carries no target: the forecast always runs
// over all three fixed horizons (spec.md §4.6).
type TriggerForecastRequest struct {
	IdempotencyKey string
}

// ForecastResult reports the Monte-Carlo liquidity forecast for each
// horizon, in addition to the shared lifecycle envelope (the command
// always completes synchronously, so Status is always COMPLETED).
type ForecastResult struct {
	Result
	Forecasts map[risk.Horizon]risk.Forecast
}

// TriggerForecast runs the liquidity forecast on demand.
func (s *Service) TriggerForecast(ctx context.Context, req TriggerForecastRequest) (*ForecastResult, error) {
	res, err := withIdempotency(s.idem, req.IdempotencyKey, func() (*ForecastResult, error) {
		forecasts, err := s.risk.TriggerForecast(ctx)
		if err != nil {
			return nil, newError(CodeInternal, "compute liquidity forecast", err)
		}
		return &ForecastResult{Result: Result{Status: StatusCompleted}, Forecasts: forecasts}, nil
	})
	return res, err
}

// ---- Resync ----

// ResyncRequest carries the block to rewind every tracked contract's
// checkpoint to (spec.md §6's `Resync(fromBlock)`).
type ResyncRequest struct {
	IdempotencyKey string
	FromBlock      uint64
}

// Resync clears the halted flag and rewinds the checkpoint for every
// tracked contract — the operator-driven recovery path after a
// ReorgDetected halt or exhausted get_logs retry budget (spec.md §4.2).
func (s *Service) Resync(ctx context.Context, req ResyncRequest) (*Result, error) {
	return withIdempotency(s.idem, req.IdempotencyKey, func() (*Result, error) {
		if len(s.contracts) == 0 {
			return nil, newError(CodeValidationError, "no tracked contracts configured", nil)
		}
		for _, c := range s.contracts {
			if err := s.ingest.Resync(ctx, c, req.FromBlock); err != nil {
				return nil, newError(CodeInternal, "resync "+c.Hex(), err)
			}
		}
		return &Result{Status: StatusCompleted, Detail: "checkpoint rewound for all tracked contracts"}, nil
	})
}

// withIdempotency is a small generic wrapper so every command method
// shares one cache-check/cache-store sequence regardless of its
// concrete response type.
func withIdempotency[T any](c *idemCache, key string, fn func() (T, error)) (T, error) {
	if cached, err, ok := c.get(key); ok {
		return cached.(T), err
	}
	res, err := fn()
	c.put(key, res, err)
	return res, err
}
