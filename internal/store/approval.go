package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Approval ticket statuses (spec.md §3/§4.4). PENDING and
// PARTIALLY_APPROVED are the only non-terminal states; everything else
// is terminal.
const (
	TicketPending           = "PENDING"
	TicketPartiallyApproved = "PARTIALLY_APPROVED"
	TicketApproved          = "APPROVED"
	TicketRejected          = "REJECTED"
	TicketExpired           = "EXPIRED"
	TicketCancelled         = "CANCELLED"
)

func isTerminalTicketStatus(status string) bool {
	return status != TicketPending && status != TicketPartiallyApproved
}

// ErrAlreadyResolved guards against acting on a ticket that has already
// reached a terminal state.
var ErrAlreadyResolved = errors.New("approval ticket already resolved")

// ErrAlreadyActed guards against the same approver acting twice on one
// ticket (spec.md §4.4: "single action per approver").
var ErrAlreadyActed = errors.New("approver has already acted on this ticket")

// CreateTicket inserts a new approval ticket inside tx (the same
// transaction that created the referenced redemption request or
// rebalance plan, so the two either both commit or both roll back).
func (s *Store) CreateTicket(ctx context.Context, tx *gorm.DB, t *ApprovalTicket) error {
	return s.dbOrTx(tx).WithContext(ctx).Create(t).Error
}

// GetTicket fetches one ticket by ID.
func (s *Store) GetTicket(ctx context.Context, id uint64) (*ApprovalTicket, error) {
	var t ApprovalTicket
	if err := s.db.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		return nil, errors.Wrap(err, "load approval ticket")
	}
	return &t, nil
}

// ApplyAction loads the ticket under a row lock, rejects if terminal or
// if approver already acted, appends an ApprovalRecord, updates the
// running approve/reject counters, and transitions status: any
// rejection resolves REJECTED; reaching required_approvals resolves
// APPROVED; otherwise the ticket moves to (or stays) PARTIALLY_APPROVED
// (spec.md §4.4 steps 1-4). onResolved runs in the same transaction only
// when this action resolved the ticket, carrying the result processor.
func (s *Store) ApplyAction(ctx context.Context, tx *gorm.DB, ticketID uint64, approver, action, reason string, at time.Time, onResolved func(tx *gorm.DB, t *ApprovalTicket) error) error {
	return s.runInTx(ctx, tx, func(db *gorm.DB) error {
		var t ApprovalTicket
		if err := lockForUpdate(db).First(&t, "id = ?", ticketID).Error; err != nil {
			return errors.Wrap(err, "lock approval ticket")
		}
		if isTerminalTicketStatus(t.Status) {
			return errors.Wrapf(ErrAlreadyResolved, "ticket %d is %s", ticketID, t.Status)
		}

		var priorActions int64
		if err := db.Model(&ApprovalRecord{}).Where("ticket_id = ? AND approver = ?", ticketID, approver).Count(&priorActions).Error; err != nil {
			return errors.Wrap(err, "check prior approval records")
		}
		if priorActions > 0 {
			return errors.Wrapf(ErrAlreadyActed, "approver %s on ticket %d", approver, ticketID)
		}

		rec := ApprovalRecord{TicketID: ticketID, Approver: approver, Action: action, Reason: reason, Timestamp: at}
		if err := db.Create(&rec).Error; err != nil {
			return errors.Wrap(err, "append approval record")
		}

		switch action {
		case "APPROVE":
			t.CurrentApprovals++
		case "REJECT":
			t.CurrentRejections++
		default:
			return errors.Errorf("unknown approval action %q", action)
		}

		resolved := false
		switch {
		case t.CurrentRejections > 0:
			t.Status = TicketRejected
			resolved = true
		case t.CurrentApprovals >= t.RequiredApprovals:
			t.Status = TicketApproved
			resolved = true
		default:
			t.Status = TicketPartiallyApproved
		}
		if resolved {
			now := at
			t.ResolvedAt = &now
			t.ResolvedBy = &approver
		}
		if err := db.Save(&t).Error; err != nil {
			return errors.Wrap(err, "save approval ticket")
		}
		if resolved && onResolved != nil {
			return onResolved(db, &t)
		}
		return nil
	})
}

// ExpireTicket transitions a non-terminal ticket past its SLA deadline
// to EXPIRED, called by the Approval Engine's SLA deadline job when the
// rule auto-rejects.
func (s *Store) ExpireTicket(ctx context.Context, tx *gorm.DB, ticketID uint64) error {
	db := s.dbOrTx(tx)
	res := db.WithContext(ctx).Model(&ApprovalTicket{}).
		Where("id = ? AND status IN ?", ticketID, []string{TicketPending, TicketPartiallyApproved}).
		Update("status", TicketExpired)
	if res.Error != nil {
		return errors.Wrap(res.Error, "expire ticket")
	}
	return nil
}

// EscalateTicket records the escalation handoff without changing the
// ticket's resolvable status (escalation widens the approver pool; it
// does not resolve the ticket).
func (s *Store) EscalateTicket(ctx context.Context, ticketID uint64, escalatedTo string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&ApprovalTicket{}).Where("id = ?", ticketID).
		Updates(map[string]any{"escalated_at": at, "escalated_to": escalatedTo}).Error
}

// CancelTicket transitions a non-terminal ticket to CANCELLED — only
// valid while the referenced redemption sits in PENDING_APPROVAL or the
// ticket itself is still PENDING/PARTIALLY_APPROVED (spec.md §4.4's
// cancellation edge case).
func (s *Store) CancelTicket(ctx context.Context, tx *gorm.DB, ticketID uint64) error {
	db := s.dbOrTx(tx)
	res := db.WithContext(ctx).Model(&ApprovalTicket{}).
		Where("id = ? AND status IN ?", ticketID, []string{TicketPending, TicketPartiallyApproved}).
		Update("status", TicketCancelled)
	if res.Error != nil {
		return errors.Wrap(res.Error, "cancel ticket")
	}
	if res.RowsAffected == 0 {
		return errors.New("ticket is not cancellable")
	}
	return nil
}

// ListDueForWarning, ListDueForEscalation and ListDueForDeadline each
// return non-terminal tickets crossing their respective SLA timestamp.
// The SLA jobs themselves run as per-ticket deferred tasks
// (tasks.ScheduleSLAJobs) and do not call these.
func (s *Store) ListDueForWarning(ctx context.Context, asOf time.Time) ([]ApprovalTicket, error) {
	return s.listTicketsDue(ctx, "sla_warning_at", asOf)
}

func (s *Store) ListDueForEscalation(ctx context.Context, asOf time.Time) ([]ApprovalTicket, error) {
	return s.listTicketsDue(ctx, "escalation_at", asOf)
}

func (s *Store) ListDueForDeadline(ctx context.Context, asOf time.Time) ([]ApprovalTicket, error) {
	return s.listTicketsDue(ctx, "sla_deadline_at", asOf)
}

func (s *Store) listTicketsDue(ctx context.Context, column string, asOf time.Time) ([]ApprovalTicket, error) {
	var rows []ApprovalTicket
	err := s.db.WithContext(ctx).Where(column+" <= ? AND status IN ?", asOf, []string{TicketPending, TicketPartiallyApproved}).Find(&rows).Error
	return rows, errors.Wrap(err, "list tickets due")
}
