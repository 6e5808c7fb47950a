package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	require.NoError(t, err)

	return NewWithDB(gormDB), mock
}

func TestAdvanceCheckpointUpserts(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `checkpoints`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := s.AdvanceCheckpoint(context.Background(), "0xFund", 1000, "0xblockhash")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIsDuplicateQueriesDedupMarkers(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"count"}).AddRow(1)
	mock.ExpectQuery("SELECT count").WillReturnRows(rows)

	dup, err := s.IsDuplicate(context.Background(), "0xabc", 3)
	require.NoError(t, err)
	require.True(t, dup)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkProcessedInsertsOnConflictDoNothing(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `dedup_markers`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := s.MarkProcessed(context.Background(), "0xabc", 3)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquireLeaseCreatesWhenAbsent(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM `leases`").
		WillReturnRows(sqlmock.NewRows([]string{"key", "holder_id", "expires_at", "fencing_seq"}))
	mock.ExpectExec("INSERT INTO `leases`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	seq, err := s.AcquireLease(context.Background(), "ingestor", "worker-1")
	require.NoError(t, err)
	require.Equal(t, uint64(1), seq)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquireLeaseRejectsWhenHeldByAnother(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	rows := sqlmock.NewRows([]string{"key", "holder_id", "expires_at", "fencing_seq"}).
		AddRow("ingestor", "worker-2", time.Now().Add(time.Minute), 5)
	mock.ExpectQuery("SELECT (.+) FROM `leases`").WillReturnRows(rows)
	mock.ExpectRollback()

	_, err := s.AcquireLease(context.Background(), "ingestor", "worker-1")
	require.ErrorIs(t, err, ErrLeaseHeld)
}

func TestTransitionRedemptionAllowsPendingToSettledDirect(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"request_id", "owner", "receiver", "shares", "gross_amount",
		"locked_nav", "estimated_fee", "request_time", "settlement_time", "channel",
		"requires_approval", "status"}).
		AddRow(7, "0xowner", "0xreceiver", "100", "100", "100", "0",
			time.Now(), time.Now(), "STANDARD", false, RedemptionPending)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM `redemption_requests`").WillReturnRows(rows)
	mock.ExpectExec("UPDATE `redemption_requests`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := s.TransitionRedemption(context.Background(), nil, 7, RedemptionSettled, nil)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFundProjectionTableName(t *testing.T) {
	require.Equal(t, "fund_projection", FundProjection{}.TableName())
}

func TestRedemptionTransitionTable(t *testing.T) {
	require.True(t, canTransitionRedemption(RedemptionPending, RedemptionPendingApproval))
	require.True(t, canTransitionRedemption(RedemptionPendingApproval, RedemptionApproved))
	require.True(t, canTransitionRedemption(RedemptionPending, RedemptionSettled))
	require.False(t, canTransitionRedemption(RedemptionSettled, RedemptionPending))
	require.False(t, canTransitionRedemption(RedemptionApproved, RedemptionRejected))
}
