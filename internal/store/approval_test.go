package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestApplyActionMovesToPartiallyApprovedBelowThreshold(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	ticketRows := sqlmock.NewRows([]string{"id", "status", "required_approvals", "current_approvals", "current_rejections"}).
		AddRow(1, TicketPending, 2, 0, 0)
	mock.ExpectQuery("SELECT (.+) FROM `approval_tickets`").WillReturnRows(ticketRows)
	mock.ExpectQuery("SELECT count").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("INSERT INTO `approval_records`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE `approval_tickets`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	resolvedCalled := false
	err := s.ApplyAction(context.Background(), nil, 1, "approver-a", "APPROVE", "", time.Now(), func(tx *gorm.DB, t *ApprovalTicket) error {
		resolvedCalled = true
		return nil
	})
	require.NoError(t, err)
	require.False(t, resolvedCalled)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyActionRejectsSecondActionBySameApprover(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	ticketRows := sqlmock.NewRows([]string{"id", "status", "required_approvals", "current_approvals", "current_rejections"}).
		AddRow(1, TicketPending, 2, 1, 0)
	mock.ExpectQuery("SELECT (.+) FROM `approval_tickets`").WillReturnRows(ticketRows)
	mock.ExpectQuery("SELECT count").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	err := s.ApplyAction(context.Background(), nil, 1, "approver-a", "APPROVE", "", time.Now(), nil)
	require.ErrorIs(t, err, ErrAlreadyActed)
}

func TestApplyActionRejectsTerminalTicket(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	ticketRows := sqlmock.NewRows([]string{"id", "status", "required_approvals", "current_approvals", "current_rejections"}).
		AddRow(1, TicketApproved, 2, 2, 0)
	mock.ExpectQuery("SELECT (.+) FROM `approval_tickets`").WillReturnRows(ticketRows)
	mock.ExpectRollback()

	err := s.ApplyAction(context.Background(), nil, 1, "approver-b", "APPROVE", "", time.Now(), nil)
	require.ErrorIs(t, err, ErrAlreadyResolved)
}
