package rebalance

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/rwafund/controlplane/internal/gateway"
	"github.com/rwafund/controlplane/internal/store"
	"github.com/rwafund/controlplane/pkg/money"
)

// Executor runs an approved plan's actions in strict priority order,
// executing same-priority actions on disjoint tiers concurrently,
// per spec.md §4.5.
type Executor struct {
	store  *store.Store
	gw     *gateway.Gateway
	vault  common.Address
	signer string
}

// NewExecutor builds an Executor against the fund's vault contract,
// signing with the rebalancer role (spec.md §6).
func NewExecutor(st *store.Store, gw *gateway.Gateway, vault common.Address, signerID string) *Executor {
	return &Executor{store: st, gw: gw, vault: vault, signer: signerID}
}

// Execute runs every action of planID, grouped by priority, and
// transitions the plan to its terminal status. A priority-0 action
// failure halts the plan immediately (FAILED); failures at any other
// priority are recorded but independent same-or-lower-priority actions
// still run, and the plan ends PARTIAL rather than COMPLETED. No action
// is ever rolled back once it has been sent (spec.md §4.5: "no
// automatic rollback of already-executed actions").
func (e *Executor) Execute(ctx context.Context, planID uint64) error {
	plan, actions, err := e.store.GetPlan(ctx, planID)
	if err != nil {
		return err
	}
	if err := e.store.TransitionPlan(ctx, nil, planID, func(p *store.RebalancePlan) { p.Status = store.PlanExecuting }); err != nil {
		return err
	}

	groups := groupByPriority(actions)
	anyFailure := false
	haltedEarly := false

	for _, priority := range orderedPriorities(groups) {
		group := groups[priority]
		results := e.runGroupConcurrently(ctx, plan.ID, group)

		groupFailed := false
		for i, res := range results {
			if res != nil {
				anyFailure = true
				groupFailed = true
				_ = e.store.RecordActionResult(ctx, nil, &store.RebalanceActionResult{
					PlanID: plan.ID, ActionSeq: group[i].Seq, Status: "FAILED", Error: res.Error(),
				})
			} else {
				_ = e.store.RecordActionResult(ctx, nil, &store.RebalanceActionResult{
					PlanID: plan.ID, ActionSeq: group[i].Seq, Status: "SUCCESS",
				})
			}
		}

		if groupFailed && priority == 0 {
			haltedEarly = true
			break
		}
	}

	finalStatus := store.PlanCompleted
	switch {
	case haltedEarly:
		finalStatus = store.PlanFailed
	case anyFailure:
		finalStatus = store.PlanPartial
	}
	return e.store.TransitionPlan(ctx, nil, planID, func(p *store.RebalancePlan) { p.Status = finalStatus })
}

// runGroupConcurrently sends a same-priority group in disjoint-tier
// batches: actions that share neither FromTier nor ToTier with anything
// else in their batch run concurrently, but an action touching a tier
// an earlier batch in this group already claimed waits for that batch
// to finish first (spec.md §4.5: same-priority concurrency only applies
// across disjoint tiers; the planner itself can and does emit
// same-priority actions that share a tier, e.g. two priority-1 actions
// both targeting TierL1).
func (e *Executor) runGroupConcurrently(ctx context.Context, planID uint64, group []store.RebalanceAction) []error {
	results := make([]error, len(group))
	for _, batch := range partitionByDisjointTiers(group) {
		var wg sync.WaitGroup
		wg.Add(len(batch))
		for _, idx := range batch {
			go func(idx int) {
				defer wg.Done()
				results[idx] = e.sendAction(ctx, group[idx])
			}(idx)
		}
		wg.Wait()
	}
	return results
}

// partitionByDisjointTiers splits a same-priority group, in order, into
// batches where no two actions in the same batch touch a common tier.
// An action whose FromTier or ToTier is already claimed by the current
// batch starts a new one instead.
func partitionByDisjointTiers(group []store.RebalanceAction) [][]int {
	var batches [][]int
	var current []int
	claimed := make(map[Tier]bool)

	for i, a := range group {
		from, to := Tier(a.FromTier), Tier(a.ToTier)
		if len(current) > 0 && (claimed[from] || claimed[to]) {
			batches = append(batches, current)
			current = nil
			claimed = make(map[Tier]bool)
		}
		current = append(current, i)
		claimed[from] = true
		claimed[to] = true
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

func (e *Executor) sendAction(ctx context.Context, a store.RebalanceAction) error {
	method := methodFor(a.Kind)
	if method == "" {
		return errors.Errorf("unknown action kind %q", a.Kind)
	}
	amount, ok := parseAmount(a.Amount)
	if !ok {
		return errors.Errorf("malformed action amount %q", a.Amount)
	}
	_, receipt, err := e.gw.Send(ctx, e.vault, method, e.signer, gateway.SendConstraints{SignerRole: gateway.RoleRebalancer}, a.FromTier, a.ToTier, amount.Int())
	if err != nil {
		return err
	}
	if !receipt.Succeeded() {
		return errors.New("action transaction reverted on-chain")
	}
	return nil
}

func parseAmount(s string) (money.Amount, bool) { return money.FromString(s) }

func groupByPriority(actions []store.RebalanceAction) map[int][]store.RebalanceAction {
	groups := make(map[int][]store.RebalanceAction)
	for _, a := range actions {
		groups[a.Priority] = append(groups[a.Priority], a)
	}
	return groups
}

func orderedPriorities(groups map[int][]store.RebalanceAction) []int {
	order := make([]int, 0, len(groups))
	for p := range groups {
		order = append(order, p)
	}
	for i := 1; i < len(order); i++ {
		for j := i; j > 0 && order[j-1] > order[j]; j-- {
			order[j-1], order[j] = order[j], order[j-1]
		}
	}
	return order
}
