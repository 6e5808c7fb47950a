package approval

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/rwafund/controlplane/internal/gateway"
	"github.com/rwafund/controlplane/internal/store"
	"github.com/rwafund/controlplane/internal/tasks"
)

// Reference types a ticket can point at (spec.md §4.4's reference_type).
const (
	ReferenceRedemption = "REDEMPTION"
	ReferenceRebalance  = "REBALANCE"
)

// ErrUnsupportedReference is returned by the result processor for a
// reference_type it does not know how to settle.
var ErrUnsupportedReference = errors.New("unsupported reference type")

// ErrActorLacksRole guards approve/reject actions against an actor
// without the rule's required role.
var ErrActorLacksRole = errors.New("actor does not hold the required approval role")

// Engine is the Approval Engine (spec.md §4.4).
type Engine struct {
	store   *store.Store
	tasks   *tasks.Runtime
	gateway *gateway.Gateway
	vault   common.Address
	rules   RuleTable
	now     func() time.Time
}

// New constructs an Engine. now defaults to time.Now; tests may inject a
// fixed clock.
func New(st *store.Store, rt *tasks.Runtime, gw *gateway.Gateway, vault common.Address, rules RuleTable) *Engine {
	return &Engine{store: st, tasks: rt, gateway: gw, vault: vault, rules: rules, now: time.Now}
}

// RegisterHandlers wires the three SLA job kinds and nothing else — the
// engine never owns timer goroutines itself (spec.md §9).
func (e *Engine) RegisterHandlers() {
	e.tasks.RegisterHandler(tasks.KindSLAWarning, e.handleWarning)
	e.tasks.RegisterHandler(tasks.KindSLAEscalation, e.handleEscalation)
	e.tasks.RegisterHandler(tasks.KindSLADeadline, e.handleDeadline)
}

// RequestApproval matches a rule against requestData, then either
// auto-approves (synchronous result processing) or creates a PENDING
// ticket with its three SLA jobs scheduled (spec.md §4.4).
func (e *Engine) RequestApproval(ctx context.Context, tx *gorm.DB, referenceType string, referenceID uint64, requester string, requestData map[string]float64) (*store.ApprovalTicket, error) {
	rule, err := e.rules.Match(referenceType, requestData)
	if err != nil {
		return nil, err
	}

	now := e.now()
	requestJSON, _ := json.Marshal(requestData)
	ruleJSON, _ := json.Marshal(rule)

	ticket := &store.ApprovalTicket{
		Type:              rule.Type,
		ReferenceType:     referenceType,
		ReferenceID:       referenceID,
		Requester:         requester,
		RequestData:       string(requestJSON),
		RuleSnapshot:      string(ruleJSON),
		RequiredApprovals: rule.TotalRequired,
		SLAWarningAt:      now.Add(rule.SLA.WarningAfter),
		SLADeadlineAt:     now.Add(rule.SLA.DeadlineAfter),
		EscalationAt:      now.Add(rule.SLA.EscalationAfter),
		Status:            store.TicketPending,
	}

	if rule.AutoApprove.Enabled && allConditionsHold(rule.AutoApprove.Conditions, requestData) {
		resolvedBy := "system"
		ticket.Status = store.TicketApproved
		ticket.CurrentApprovals = rule.TotalRequired
		ticket.ResolvedBy = &resolvedBy
		ticket.ResolvedAt = &now
		if err := e.store.CreateTicket(ctx, tx, ticket); err != nil {
			return nil, err
		}
		if err := e.processResult(tx, ticket); err != nil {
			return nil, err
		}
		return ticket, nil
	}

	if err := e.store.CreateTicket(ctx, tx, ticket); err != nil {
		return nil, err
	}
	e.tasks.ScheduleSLAJobs(ticket.ID, ticket.SLAWarningAt, ticket.EscalationAt, ticket.SLADeadlineAt)
	return ticket, nil
}

func allConditionsHold(conds []Condition, data map[string]float64) bool {
	for _, c := range conds {
		if !c.Evaluate(data) {
			return false
		}
	}
	return true
}

// ProcessAction applies an APPROVE/REJECT action from approverRole
// holding role, transactionally (spec.md §4.4 steps 1-5). On resolution
// it runs the result processor in the same transaction.
func (e *Engine) ProcessAction(ctx context.Context, ticketID uint64, approver, approverRole, action, reason string) error {
	return e.store.WithTx(ctx, func(tx *gorm.DB) error {
		t, err := e.store.GetTicket(ctx, ticketID)
		if err != nil {
			return err
		}
		if !ruleAllowsRole(t.RuleSnapshot, approverRole) {
			return errors.Wrapf(ErrActorLacksRole, "role %s on ticket %d", approverRole, ticketID)
		}
		return e.store.ApplyAction(ctx, tx, ticketID, approver, action, reason, e.now(), e.processResult)
	})
}

func ruleAllowsRole(ruleSnapshotJSON, role string) bool {
	var r Rule
	if err := json.Unmarshal([]byte(ruleSnapshotJSON), &r); err != nil {
		return false
	}
	for _, req := range r.Approvers {
		if req.Role == role {
			return true
		}
	}
	return false
}

// CancelTicket cancels a still-open ticket, valid only while the linked
// redemption sits in PENDING_APPROVAL (spec.md §4.4 / §9's resolved
// cancellation question).
func (e *Engine) CancelTicket(ctx context.Context, ticketID uint64) error {
	return e.store.WithTx(ctx, func(tx *gorm.DB) error {
		t, err := e.store.GetTicket(ctx, ticketID)
		if err != nil {
			return err
		}
		if t.ReferenceType == ReferenceRedemption {
			req, err := e.store.GetRedemption(ctx, t.ReferenceID)
			if err != nil {
				return err
			}
			if req.Status != store.RedemptionPendingApproval {
				return errors.New("redemption is not in PENDING_APPROVAL; cancellation not permitted")
			}
		}
		return e.store.CancelTicket(ctx, tx, ticketID)
	})
}

// processResult dispatches by reference_type once a ticket has resolved
// (spec.md §4.4's result processor). It runs as store.ApplyAction's
// onResolved callback, whose signature is fixed by the store package and
// carries no context — the on-chain commit and plan transition it
// triggers run inside the ticket's still-open DB transaction (an error
// rolls it back) under context.Background(), not the caller's own
// deadline.
func (e *Engine) processResult(tx *gorm.DB, t *store.ApprovalTicket) error {
	ctx := context.Background()
	switch t.ReferenceType {
	case ReferenceRedemption:
		return e.processRedemptionResult(ctx, tx, t)
	case ReferenceRebalance:
		return e.processRebalanceResult(ctx, tx, t)
	default:
		return errors.Wrapf(ErrUnsupportedReference, "%s", t.ReferenceType)
	}
}

func (e *Engine) processRedemptionResult(ctx context.Context, tx *gorm.DB, t *store.ApprovalTicket) error {
	switch t.Status {
	case store.TicketApproved:
		if _, _, err := e.gateway.Send(ctx, e.vault, "approveRedemption", "vip-approver",
			gateway.SendConstraints{SignerRole: gateway.RoleVIPApprover}, t.ReferenceID); err != nil {
			return errors.Wrap(err, "commit approveRedemption")
		}
		return nil
	case store.TicketRejected, store.TicketExpired:
		reason := "approval ticket " + t.Status
		if _, _, err := e.gateway.Send(ctx, e.vault, "rejectRedemption", "vip-approver",
			gateway.SendConstraints{SignerRole: gateway.RoleVIPApprover}, t.ReferenceID, reason); err != nil {
			return errors.Wrap(err, "commit rejectRedemption")
		}
		return nil
	default:
		return nil
	}
}

func (e *Engine) processRebalanceResult(ctx context.Context, tx *gorm.DB, t *store.ApprovalTicket) error {
	switch t.Status {
	case store.TicketApproved:
		return e.store.TransitionPlan(ctx, tx, t.ReferenceID, func(p *store.RebalancePlan) {
			p.Status = store.PlanApproved
		})
	case store.TicketRejected, store.TicketExpired:
		return e.store.TransitionPlan(ctx, tx, t.ReferenceID, func(p *store.RebalancePlan) {
			p.Status = store.PlanCancelled
		})
	default:
		return nil
	}
}

// --- SLA job handlers ---

func (e *Engine) handleWarning(ctx context.Context, task tasks.Task) error {
	ticketID, _ := task.Payload.(uint64)
	t, err := e.store.GetTicket(ctx, ticketID)
	if err != nil {
		return err
	}
	if t.Status != store.TicketPending && t.Status != store.TicketPartiallyApproved {
		return nil // already terminal; skip (spec.md §4.4)
	}
	// Notification transport is out of scope (spec.md §1); the warning
	// is surfaced purely as a risk event for downstream dashboards.
	return e.store.RecordRiskEvent(ctx, &store.RiskEvent{Kind: "approval_sla_warning", Severity: "warning", Detail: t.RuleSnapshot})
}

func (e *Engine) handleEscalation(ctx context.Context, task tasks.Task) error {
	ticketID, _ := task.Payload.(uint64)
	t, err := e.store.GetTicket(ctx, ticketID)
	if err != nil {
		return err
	}
	if t.Status != store.TicketPending && t.Status != store.TicketPartiallyApproved {
		return nil
	}
	return e.store.EscalateTicket(ctx, ticketID, "fund-manager", e.now())
}

func (e *Engine) handleDeadline(ctx context.Context, task tasks.Task) error {
	ticketID, _ := task.Payload.(uint64)
	return e.store.WithTx(ctx, func(tx *gorm.DB) error {
		t, err := e.store.GetTicket(ctx, ticketID)
		if err != nil {
			return err
		}
		if t.Status != store.TicketPending && t.Status != store.TicketPartiallyApproved {
			return nil
		}

		var autoReject bool
		var rule Rule
		if jsonErr := json.Unmarshal([]byte(t.RuleSnapshot), &rule); jsonErr == nil {
			autoReject = rule.SLA.AutoReject
		}

		if !autoReject {
			return e.store.RecordRiskEvent(ctx, &store.RiskEvent{Kind: "approval_sla_deadline_critical", Severity: "critical", Detail: t.RuleSnapshot})
		}

		if err := e.store.ExpireTicket(ctx, tx, ticketID); err != nil {
			return err
		}
		t.Status = store.TicketExpired
		return e.processResult(tx, t)
	})
}
