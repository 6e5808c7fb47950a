package command

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/rwafund/controlplane/internal/approval"
	"github.com/rwafund/controlplane/internal/ingest"
	"github.com/rwafund/controlplane/internal/rebalance"
	"github.com/rwafund/controlplane/internal/risk"
	"github.com/rwafund/controlplane/internal/store"
	"github.com/rwafund/controlplane/internal/tasks"
	"github.com/rwafund/controlplane/pkg/money"
)

func newTestService(t *testing.T, feed risk.FeedFunc, contracts []common.Address) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	require.NoError(t, err)

	st := store.NewWithDB(gormDB)
	queue := tasks.NewQueue()
	rt := tasks.NewRuntime(queue)
	ap := approval.New(st, rt, nil, common.Address{}, approval.RuleTable{})
	rb := rebalance.New(st, ap, nil, common.Address{}, rebalance.DefaultConfig())
	if feed == nil {
		feed = func(context.Context) (risk.Inputs, error) { return risk.Inputs{}, nil }
	}
	rk := risk.New(st, rb, feed, risk.DefaultConfig(), nil)
	ing := ingest.New(st, nil, rt, ingest.DefaultConfig())

	return New(st, ap, rb, rk, ing, contracts), mock
}

func TestResyncReturnsValidationErrorWhenNoContractsConfigured(t *testing.T) {
	s, _ := newTestService(t, nil, nil)

	_, err := s.Resync(context.Background(), ResyncRequest{FromBlock: 100})
	require.Error(t, err)
	cmdErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, CodeValidationError, cmdErr.Code)
}

func TestExecutePlanReturnsValidationErrorWhenPlanNotApproved(t *testing.T) {
	s, mock := newTestService(t, nil, nil)

	mock.ExpectQuery("SELECT (.+) FROM `rebalance_plans`").
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).AddRow(7, store.PlanPendingApproval))
	mock.ExpectQuery("SELECT (.+) FROM `rebalance_actions`").
		WillReturnRows(sqlmock.NewRows([]string{"id", "plan_id"}))

	_, err := s.ExecutePlan(context.Background(), ExecutePlanRequest{PlanID: 7})
	require.Error(t, err)
	cmdErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, CodeValidationError, cmdErr.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTriggerForecastReturnsForecastForAllHorizons(t *testing.T) {
	feed := func(context.Context) (risk.Inputs, error) {
		return risk.Inputs{
			TotalAssets: money.FromInt64(10_000_000),
			L1:          money.FromInt64(3_000_000),
			L2:          money.FromInt64(2_000_000),
		}, nil
	}
	s, mock := newTestService(t, feed, nil)

	for i := 0; i < 3; i++ {
		mock.ExpectQuery("SELECT (.+) FROM `redemption_requests`").
			WillReturnRows(sqlmock.NewRows([]string{"request_id", "gross_amount", "status"}))
	}

	res, err := s.TriggerForecast(context.Background(), TriggerForecastRequest{})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Len(t, res.Forecasts, 3)
	assert.Contains(t, res.Forecasts, risk.Horizon1d)
	assert.Contains(t, res.Forecasts, risk.Horizon7d)
	assert.Contains(t, res.Forecasts, risk.Horizon30d)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelTicketReportsCompletedStatus(t *testing.T) {
	s, mock := newTestService(t, nil, nil)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM `approval_tickets`").
		WillReturnRows(sqlmock.NewRows([]string{"id", "status", "reference_type"}).AddRow(3, store.TicketPending, approval.ReferenceRebalance))
	mock.ExpectExec("UPDATE `approval_tickets`").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery("SELECT (.+) FROM `approval_tickets`").
		WillReturnRows(sqlmock.NewRows([]string{"id", "status", "reference_type"}).AddRow(3, store.TicketCancelled, approval.ReferenceRebalance))

	res, err := s.CancelTicket(context.Background(), CancelTicketRequest{TicketID: 3})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, uint64(3), res.EntityIDs["ticket_id"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotentCommandReplaysCachedResultWithoutReinvokingEngine(t *testing.T) {
	s, _ := newTestService(t, nil, nil)

	first, err := s.Resync(context.Background(), ResyncRequest{IdempotencyKey: "resync-1", FromBlock: 50})
	require.Error(t, err)

	second, err2 := s.Resync(context.Background(), ResyncRequest{IdempotencyKey: "resync-1", FromBlock: 999})
	require.Error(t, err2)
	assert.Equal(t, first, second)
	assert.Same(t, err, err2)
}

func TestTranslateApprovalErrMapsKnownSentinelsToStableCodes(t *testing.T) {
	assert.Equal(t, CodeValidationError, translateApprovalErr(store.ErrAlreadyResolved).Code)
	assert.Equal(t, CodeValidationError, translateApprovalErr(store.ErrAlreadyActed).Code)
	assert.Equal(t, CodeValidationError, translateApprovalErr(approval.ErrActorLacksRole).Code)
	assert.Equal(t, CodeUnsupportedReference, translateApprovalErr(approval.ErrUnsupportedReference).Code)
	assert.Equal(t, CodeInternal, translateApprovalErr(assert.AnError).Code)
}
