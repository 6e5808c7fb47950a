package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Redemption request statuses (spec.md §3).
const (
	RedemptionPending         = "PENDING"
	RedemptionPendingApproval = "PENDING_APPROVAL"
	RedemptionApproved        = "APPROVED"
	RedemptionSettled         = "SETTLED"
	RedemptionRejected        = "REJECTED"
	RedemptionExpired         = "EXPIRED"
	RedemptionCancelled       = "CANCELLED"
)

// redemptionTransitions is the allowed-next-state table the dispatcher
// and approval result processor consult before writing a transition,
// generalized from the teacher's ensureApproval-style precondition
// checks in blackhole.go.
var redemptionTransitions = map[string][]string{
	RedemptionPending:         {RedemptionPendingApproval, RedemptionApproved, RedemptionSettled, RedemptionCancelled},
	RedemptionPendingApproval: {RedemptionApproved, RedemptionRejected, RedemptionCancelled, RedemptionExpired},
	RedemptionApproved:        {RedemptionSettled},
}

// ErrInvalidTransition is returned when a caller attempts a redemption
// status change the state machine does not allow.
var ErrInvalidTransition = errors.New("invalid redemption status transition")

func canTransitionRedemption(from, to string) bool {
	for _, allowed := range redemptionTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CreateRedemption inserts a new redemption request, idempotent on its
// chain-assigned RequestID primary key.
func (s *Store) CreateRedemption(ctx context.Context, tx *gorm.DB, r *RedemptionRequest) error {
	db := s.dbOrTx(tx)
	return db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(r).Error
}

// GetRedemption fetches one redemption request by ID.
func (s *Store) GetRedemption(ctx context.Context, id uint64) (*RedemptionRequest, error) {
	var r RedemptionRequest
	if err := s.db.WithContext(ctx).First(&r, "request_id = ?", id).Error; err != nil {
		return nil, errors.Wrap(err, "load redemption request")
	}
	return &r, nil
}

// TransitionRedemption loads the request under a row lock, validates the
// transition, and applies fn's mutation before saving — used by both the
// Dispatcher's settlement handler and the Approval Engine's result
// processor.
func (s *Store) TransitionRedemption(ctx context.Context, tx *gorm.DB, id uint64, to string, fn func(r *RedemptionRequest)) error {
	return s.runInTx(ctx, tx, func(db *gorm.DB) error {
		var r RedemptionRequest
		if err := lockForUpdate(db).First(&r, "request_id = ?", id).Error; err != nil {
			return errors.Wrap(err, "lock redemption request")
		}
		if !canTransitionRedemption(r.Status, to) {
			return errors.Wrapf(ErrInvalidTransition, "%s -> %s", r.Status, to)
		}
		r.Status = to
		if fn != nil {
			fn(&r)
		}
		return db.Save(&r).Error
	})
}

// UpdateRedemptionFields loads the request under a row lock and lets fn
// patch non-status fields (fee, locked shares, voucher token, ticket
// link) without going through the status transition table — the
// Dispatcher uses this for events that touch a request but do not by
// themselves move it between states.
func (s *Store) UpdateRedemptionFields(ctx context.Context, tx *gorm.DB, id uint64, fn func(r *RedemptionRequest)) error {
	return s.runInTx(ctx, tx, func(db *gorm.DB) error {
		var r RedemptionRequest
		if err := lockForUpdate(db).First(&r, "request_id = ?", id).Error; err != nil {
			return errors.Wrap(err, "lock redemption request")
		}
		fn(&r)
		return db.Save(&r).Error
	})
}

// ListPendingApproval returns redemption requests awaiting a ticket
// resolution.
func (s *Store) ListPendingApproval(ctx context.Context) ([]RedemptionRequest, error) {
	var rows []RedemptionRequest
	err := s.db.WithContext(ctx).Where("status = ?", RedemptionPendingApproval).Find(&rows).Error
	return rows, errors.Wrap(err, "list pending-approval redemptions")
}

// ListOverdueLiability returns settled-eligible requests whose
// settlement_time has passed but remain unsettled, for the daily
// overdue-liability batch (spec.md §4.7).
func (s *Store) ListOverdueLiability(ctx context.Context, asOf time.Time, daysBack int) ([]RedemptionRequest, error) {
	var rows []RedemptionRequest
	cutoff := asOf.AddDate(0, 0, -daysBack)
	err := s.db.WithContext(ctx).
		Where("status = ? AND settlement_time <= ? AND settlement_time >= ?", RedemptionApproved, asOf, cutoff).
		Find(&rows).Error
	return rows, errors.Wrap(err, "list overdue liability")
}

// ListConfirmedOutflowWindow returns APPROVED redemption requests whose
// settlement_time falls within the next `days` of asOf — the confirmed
// near-term outflow the Rebalance Engine's priority-0 check sums
// (spec.md §4.5).
func (s *Store) ListConfirmedOutflowWindow(ctx context.Context, asOf time.Time, days int) ([]RedemptionRequest, error) {
	var rows []RedemptionRequest
	horizon := asOf.AddDate(0, 0, days)
	err := s.db.WithContext(ctx).
		Where("status = ? AND settlement_time >= ? AND settlement_time <= ?", RedemptionApproved, asOf, horizon).
		Find(&rows).Error
	return rows, errors.Wrap(err, "list confirmed outflow window")
}

// ListOutflowWithinHorizon returns every redemption request not yet
// settled or cancelled whose settlement_time falls at or before
// asOf+days — the confirmed_outflow term of the liquidity forecast
// (spec.md §4.6).
func (s *Store) ListOutflowWithinHorizon(ctx context.Context, asOf time.Time, days int) ([]RedemptionRequest, error) {
	var rows []RedemptionRequest
	horizon := asOf.AddDate(0, 0, days)
	err := s.db.WithContext(ctx).
		Where("status NOT IN ? AND settlement_time <= ?", []string{RedemptionSettled, RedemptionCancelled}, horizon).
		Find(&rows).Error
	return rows, errors.Wrap(err, "list outflow within horizon")
}

func (s *Store) dbOrTx(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db
}
