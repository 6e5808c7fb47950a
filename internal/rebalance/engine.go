package rebalance

import (
	"context"
	"encoding/json"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/rwafund/controlplane/internal/approval"
	"github.com/rwafund/controlplane/internal/gateway"
	"github.com/rwafund/controlplane/internal/store"
	"github.com/rwafund/controlplane/internal/tasks"
	"github.com/rwafund/controlplane/pkg/money"
)

// Trigger kinds (spec.md §4.5's closed trigger set).
const (
	TriggerScheduled      = "SCHEDULED"
	TriggerNavUpdated     = "NAV_UPDATED"
	TriggerLargeFlow      = "LARGE_FLOW"
	TriggerLiquidityAlert = "LIQUIDITY_ALERT"
	TriggerManual         = "MANUAL"
)

// ErrPlanAlreadyActive is returned when TriggerManualPlan is asked to
// start a new plan while one is still in flight (spec.md §4.5: "at most
// one active plan at a time").
var ErrPlanAlreadyActive = errors.New("a rebalance plan is already active")

// Engine is the Rebalance Engine (spec.md §4.5): trigger evaluation,
// deviation computation, plan generation, the simulation gate, and
// priority-ordered execution, tied together with the Approval Engine
// for plans above the approval threshold.
type Engine struct {
	store    *store.Store
	approval *approval.Engine
	gw       *gateway.Gateway
	vault    common.Address
	cfg      Config
	executor *Executor
}

// New constructs a Rebalance Engine bound to the fund vault, signing
// executed actions as the rebalancer role.
func New(st *store.Store, ap *approval.Engine, gw *gateway.Gateway, vault common.Address, cfg Config) *Engine {
	return &Engine{
		store:    st,
		approval: ap,
		gw:       gw,
		vault:    vault,
		cfg:      cfg,
		executor: NewExecutor(st, gw, vault, "rebalancer"),
	}
}

// RegisterHandlers wires the engine's scheduled evaluation tasks into
// the shared task runtime.
func (e *Engine) RegisterHandlers(rt *tasks.Runtime) {
	rt.RegisterHandler("deviation_check", func(ctx context.Context, _ tasks.Task) error {
		return e.Evaluate(ctx, TriggerScheduled)
	})
	rt.RegisterHandler("liquidity_forecast", func(ctx context.Context, _ tasks.Task) error {
		return e.Evaluate(ctx, TriggerScheduled)
	})
}

// Evaluate is the trigger evaluator's entry point: it loads current fund
// state, generates a plan, and (if the plan is non-empty) proposes it.
// A no-op plan (nothing out of bounds) is simply dropped.
func (e *Engine) Evaluate(ctx context.Context, trigger string) error {
	active, err := e.store.ListActivePlans(ctx)
	if err != nil {
		return err
	}
	if len(active) > 0 {
		return nil // one active plan at a time; let it resolve first
	}

	state, err := e.loadFundState(ctx)
	if err != nil {
		return err
	}

	actions := GeneratePlan(e.cfg, state)
	if len(actions) == 0 {
		return nil
	}

	return e.propose(ctx, trigger, state, actions)
}

// TriggerManualPlan builds and proposes a plan immediately — used by the
// PreviewPlan / TriggerRebalance command surface (spec.md §6). Unlike
// Evaluate it reports an already-active plan as ErrPlanAlreadyActive and
// returns the proposed plan; when nothing is out of bounds it returns
// (nil, nil) without creating a plan.
func (e *Engine) TriggerManualPlan(ctx context.Context) (*store.RebalancePlan, error) {
	active, err := e.store.ListActivePlans(ctx)
	if err != nil {
		return nil, err
	}
	if len(active) > 0 {
		return nil, ErrPlanAlreadyActive
	}

	state, err := e.loadFundState(ctx)
	if err != nil {
		return nil, err
	}
	actions := GeneratePlan(e.cfg, state)
	if len(actions) == 0 {
		return nil, nil
	}
	if err := e.propose(ctx, TriggerManual, state, actions); err != nil {
		return nil, err
	}
	return e.latestPlanFor(ctx, state)
}

func (e *Engine) loadFundState(ctx context.Context) (FundState, error) {
	proj, err := e.store.GetProjection(ctx)
	if err != nil {
		return FundState{}, err
	}
	totalAssets, _ := money.FromString(proj.TotalAssets)
	l1Cash, _ := money.FromString(proj.L1Cash)
	l1Yield, _ := money.FromString(proj.L1Yield)
	l2, _ := money.FromString(proj.L2)
	l3, _ := money.FromString(proj.L3)

	outflowRows, err := e.store.ListConfirmedOutflowWindow(ctx, e.now(), e.cfg.PendingOutflowWindow)
	if err != nil {
		return FundState{}, err
	}
	outflow := money.Zero()
	for _, r := range outflowRows {
		amt, _ := money.FromString(r.GrossAmount)
		outflow = outflow.Add(amt)
	}

	return FundState{
		TotalAssets:      totalAssets,
		L1:               l1Cash.Add(l1Yield),
		L2:               l2,
		L3:               l3,
		PendingOutflow7d: outflow,
	}, nil
}

func (e *Engine) propose(ctx context.Context, trigger string, state FundState, actions []PlannedAction) error {
	if err := Simulate(ctx, e.gw, e.vault, actions); err != nil {
		return errors.Wrap(err, "simulate plan")
	}

	plan, storeActions := e.toStoreModels(trigger, state, actions)

	if err := e.store.CreatePlan(ctx, plan, storeActions); err != nil {
		return err
	}

	if plan.RequiresApproval {
		requestData := map[string]float64{"total_amount": amountToFloat(TotalAmount(actions))}
		ticket, err := e.approval.RequestApproval(ctx, nil, approval.ReferenceRebalance, plan.ID, "rebalance-engine", requestData)
		if err != nil {
			return err
		}
		ticketID := ticket.ID
		return e.store.TransitionPlan(ctx, nil, plan.ID, func(p *store.RebalancePlan) {
			p.Status = store.PlanPendingApproval
			p.ApprovalTicketID = &ticketID
		})
	}

	if err := e.store.TransitionPlan(ctx, nil, plan.ID, func(p *store.RebalancePlan) { p.Status = store.PlanApproved }); err != nil {
		return err
	}
	return e.ExecuteApproved(ctx, plan.ID)
}

// ExecuteApproved runs an APPROVED plan and verifies post-state drift
// once execution finishes, recording a risk event if tolerance is
// still exceeded (spec.md §4.5's mandatory post-execution check).
func (e *Engine) ExecuteApproved(ctx context.Context, planID uint64) error {
	if err := e.executor.Execute(ctx, planID); err != nil {
		return err
	}
	state, err := e.loadFundState(ctx)
	if err != nil {
		return err
	}
	if _, err := VerifyPostState(e.cfg, state); err != nil {
		return e.store.RecordRiskEvent(ctx, &store.RiskEvent{Kind: "rebalance_drift_exceeded", Severity: "warning", Detail: err.Error()})
	}
	return nil
}

func (e *Engine) toStoreModels(trigger string, state FundState, actions []PlannedAction) (*store.RebalancePlan, []store.RebalanceAction) {
	preState, _ := json.Marshal(state)
	targetState, _ := json.Marshal(e.cfg.Tiers)

	plan := &store.RebalancePlan{
		Trigger:          trigger,
		PreState:         string(preState),
		TargetState:      string(targetState),
		EstimatedGasCost: "0",
		TotalAmount:      TotalAmount(actions).String(),
		RequiresApproval: RequiresApproval(e.cfg, actions),
		Status:           store.PlanDraft,
	}

	storeActions := make([]store.RebalanceAction, len(actions))
	for i, a := range actions {
		storeActions[i] = store.RebalanceAction{
			Seq:         i,
			Priority:    a.Priority,
			Kind:        a.Kind,
			FromTier:    string(a.FromTier),
			ToTier:      string(a.ToTier),
			Asset:       a.Asset,
			Amount:      a.Amount.String(),
			Method:      a.Method,
			MaxSlippage: a.MaxSlippage,
			MaxTier:     string(a.MaxTier),
		}
	}
	return plan, storeActions
}

func (e *Engine) latestPlanFor(ctx context.Context, _ FundState) (*store.RebalancePlan, error) {
	var plan store.RebalancePlan
	if err := e.store.DB().WithContext(ctx).Order("id desc").First(&plan).Error; err != nil {
		return nil, errors.Wrap(err, "load proposed rebalance plan")
	}
	return &plan, nil
}

func amountToFloat(a money.Amount) float64 {
	f := new(big.Float).SetInt(a.Int())
	v, _ := f.Float64()
	return v
}

func (e *Engine) now() time.Time { return time.Now() }
