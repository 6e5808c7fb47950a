package approval

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/rwafund/controlplane/internal/store"
	"github.com/rwafund/controlplane/internal/tasks"
)

func newTestEngine(t *testing.T) (*Engine, sqlmock.Sqlmock) {
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
	rt := tasks.NewRuntime(tasks.NewQueue())

	rules := RuleTable{
		{
			Type:          "auto-rebalance",
			ReferenceType: ReferenceRebalance,
			TotalRequired: 1,
			AutoApprove:   AutoApprove{Enabled: true, Conditions: []Condition{{Field: "total_amount", Comparator: LT, Value: 60000}}},
			SLA:           SLAPolicy{WarningAfter: time.Hour, EscalationAfter: 2 * time.Hour, DeadlineAfter: 24 * time.Hour},
		},
	}

	e := New(st, rt, nil, [20]byte{}, rules)
	return e, mock
}

func TestRequestApprovalReturnsNoRuleMatched(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.RequestApproval(context.Background(), nil, "UNKNOWN_TYPE", 1, "requester", map[string]float64{})
	require.ErrorIs(t, err, ErrNoRuleMatched)
}

func TestRequestApprovalAutoApprovesRebalancePlan(t *testing.T) {
	e, mock := newTestEngine(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `approval_tickets`").WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	planRows := sqlmock.NewRows([]string{"id", "status"}).AddRow(1, store.PlanPendingApproval)
	mock.ExpectQuery("SELECT (.+) FROM `rebalance_plans`").WillReturnRows(planRows)
	mock.ExpectExec("UPDATE `rebalance_plans`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	ticket, err := e.RequestApproval(context.Background(), nil, ReferenceRebalance, 1, "requester", map[string]float64{"total_amount": 10000})
	require.NoError(t, err)
	require.Equal(t, store.TicketApproved, ticket.Status)
}
