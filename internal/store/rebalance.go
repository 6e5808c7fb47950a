package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Rebalance plan statuses (spec.md §3/§4.5).
const (
	PlanDraft           = "DRAFT"
	PlanPendingApproval = "PENDING_APPROVAL"
	PlanApproved        = "APPROVED"
	PlanExecuting       = "EXECUTING"
	PlanCompleted       = "COMPLETED"
	PlanPartial         = "PARTIAL"
	PlanFailed          = "FAILED"
	PlanCancelled       = "CANCELLED"
)

// CreatePlan inserts a plan together with its ordered actions in one
// transaction, mirroring the teacher's RecordReport (which writes a
// snapshot row transactionally alongside its derived fields).
func (s *Store) CreatePlan(ctx context.Context, plan *RebalancePlan, actions []RebalanceAction) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(plan).Error; err != nil {
			return errors.Wrap(err, "create rebalance plan")
		}
		for i := range actions {
			actions[i].PlanID = plan.ID
		}
		if len(actions) > 0 {
			if err := tx.Create(&actions).Error; err != nil {
				return errors.Wrap(err, "create rebalance actions")
			}
		}
		return nil
	})
}

// GetPlan loads a plan and its ordered actions.
func (s *Store) GetPlan(ctx context.Context, id uint64) (*RebalancePlan, []RebalanceAction, error) {
	var plan RebalancePlan
	if err := s.db.WithContext(ctx).First(&plan, "id = ?", id).Error; err != nil {
		return nil, nil, errors.Wrap(err, "load rebalance plan")
	}
	var actions []RebalanceAction
	if err := s.db.WithContext(ctx).Where("plan_id = ?", id).Order("priority asc, seq asc").Find(&actions).Error; err != nil {
		return nil, nil, errors.Wrap(err, "load rebalance actions")
	}
	return &plan, actions, nil
}

// TransitionPlan loads the plan under a row lock and applies fn, saving
// the result — used by the engine to move a DRAFT plan to
// PENDING_APPROVAL or APPROVED, by the executor to move it through
// EXECUTING -> COMPLETED/PARTIAL/FAILED, and by the approval result
// processor for APPROVED/CANCELLED.
func (s *Store) TransitionPlan(ctx context.Context, tx *gorm.DB, id uint64, fn func(p *RebalancePlan)) error {
	return s.runInTx(ctx, tx, func(db *gorm.DB) error {
		var p RebalancePlan
		if err := lockForUpdate(db).First(&p, "id = ?", id).Error; err != nil {
			return errors.Wrap(err, "lock rebalance plan")
		}
		fn(&p)
		return db.Save(&p).Error
	})
}

// RecordActionResult appends the outcome of executing one action.
func (s *Store) RecordActionResult(ctx context.Context, tx *gorm.DB, r *RebalanceActionResult) error {
	r.ExecutedAt = time.Now()
	return s.dbOrTx(tx).WithContext(ctx).Create(r).Error
}

// ListActionResults returns every recorded result for a plan, in
// execution order, for post-execution verification and reporting.
func (s *Store) ListActionResults(ctx context.Context, planID uint64) ([]RebalanceActionResult, error) {
	var rows []RebalanceActionResult
	err := s.db.WithContext(ctx).Where("plan_id = ?", planID).Order("action_seq asc").Find(&rows).Error
	return rows, errors.Wrap(err, "list action results")
}

// ListActivePlans returns plans not yet in a terminal state, used to
// prevent overlapping rebalance runs (spec.md §4.5: "at most one active
// plan at a time").
func (s *Store) ListActivePlans(ctx context.Context) ([]RebalancePlan, error) {
	var rows []RebalancePlan
	err := s.db.WithContext(ctx).Where("status IN ?", []string{PlanDraft, PlanPendingApproval, PlanApproved, PlanExecuting}).Find(&rows).Error
	return rows, errors.Wrap(err, "list active plans")
}
