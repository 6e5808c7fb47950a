package ingest

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/rwafund/controlplane/internal/gateway"
	"github.com/rwafund/controlplane/internal/store"
	"github.com/rwafund/controlplane/internal/tasks"
)

func newTestIngestor(t *testing.T) (*Ingestor, sqlmock.Sqlmock, *tasks.Queue) {
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
	ing := New(st, nil, rt, DefaultConfig())
	return ing, mock, queue
}

func sampleLogRecord(eventName string, block uint64, logIndex uint) gateway.LogRecord {
	return gateway.LogRecord{
		TxHash:      common.HexToHash("0xabc"),
		LogIndex:    logIndex,
		BlockNumber: block,
		EventName:   eventName,
	}
}

func TestProcessLogSkipsDuplicate(t *testing.T) {
	ing, mock, queue := newTestIngestor(t)

	mock.ExpectQuery("SELECT count").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	rec := sampleLogRecord("RedemptionRequested", 1, 5)
	enqueued, err := ing.processLog(context.Background(), rec)
	require.NoError(t, err)
	assert.False(t, enqueued)
	assert.Equal(t, 0, queue.Len())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessLogEnqueuesNewEventAtCorrectPriority(t *testing.T) {
	ing, mock, queue := newTestIngestor(t)

	mock.ExpectQuery("SELECT count").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("INSERT INTO `dedup_markers`").
		WillReturnResult(sqlmock.NewResult(1, 1))

	rec := sampleLogRecord("RedemptionRequested", 42, 3)
	enqueued, err := ing.processLog(context.Background(), rec)
	require.NoError(t, err)
	assert.True(t, enqueued)
	assert.Equal(t, 1, queue.Len())
	require.NoError(t, mock.ExpectationsWereMet())

	task, ok := queue.Pop(context.Background())
	require.True(t, ok)
	assert.Equal(t, "dispatch_event", task.Kind)
	assert.Equal(t, tasks.High, task.Priority)
}

func TestProcessLogDefaultsToNormalPriorityForUnknownEvent(t *testing.T) {
	ing, mock, queue := newTestIngestor(t)

	mock.ExpectQuery("SELECT count").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("INSERT INTO `dedup_markers`").
		WillReturnResult(sqlmock.NewResult(1, 1))

	rec := sampleLogRecord("DepositProcessed", 10, 1)
	_, err := ing.processLog(context.Background(), rec)
	require.NoError(t, err)

	task, ok := queue.Pop(context.Background())
	require.True(t, ok)
	assert.Equal(t, tasks.Normal, task.Priority)
}
