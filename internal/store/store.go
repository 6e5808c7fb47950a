package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store wraps the projection database, the same way the teacher's
// MySQLRecorder wraps a *gorm.DB, but generalized to the fund's full
// table set.
type Store struct {
	db *gorm.DB

	checkpointGroup singleflight.Group
}

// Open dials dsn and migrates every table this package owns.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open mysql store")
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an already-opened *gorm.DB, used by tests to inject a
// go-sqlmock-backed gorm.DB the way transaction_recorder_test.go does.
func NewWithDB(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) migrate() error {
	return s.db.AutoMigrate(
		&FundProjection{},
		&RedemptionRequest{},
		&ApprovalTicket{},
		&ApprovalRecord{},
		&RebalancePlan{},
		&RebalanceAction{},
		&RebalanceActionResult{},
		&RiskSnapshot{},
		&RiskEvent{},
		&AuditLog{},
		&EventProcessed{},
		&Checkpoint{},
		&DedupMarker{},
		&Lease{},
	)
}

// WithTx runs fn inside a single DB transaction, the pattern the rest of
// this package's multi-row writers (approval actions, plan execution
// results) rely on for atomicity (spec.md §4.3's "idempotent transactional
// writes").
func (s *Store) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

// DB exposes the underlying handle for components that need bespoke
// queries (reporting) not worth a dedicated repository method.
func (s *Store) DB() *gorm.DB { return s.db }

// runInTx executes fn against tx if the caller already holds one (so
// multi-step writes compose into a single outer transaction), or opens a
// fresh transaction otherwise. Every multi-statement repository method
// that needs row-lock-then-write atomicity goes through this.
func (s *Store) runInTx(ctx context.Context, tx *gorm.DB, fn func(tx *gorm.DB) error) error {
	if tx != nil {
		return fn(tx)
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// RecordAudit appends one audit-log row, typically called inside the same
// transaction as the state change it documents.
func RecordAudit(tx *gorm.DB, actor, action, target, detail string) error {
	return tx.Create(&AuditLog{Actor: actor, Action: action, Target: target, Detail: detail, CreatedAt: time.Now()}).Error
}

// lockForUpdate applies a SELECT ... FOR UPDATE row lock, used wherever a
// read-modify-write needs serialization against concurrent handlers
// (spec.md §5's "optimistic reads, pessimistic writes on approval tickets
// and redemption state transitions").
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

var errNotFound = gorm.ErrRecordNotFound

// IsNotFound reports whether err is the store's not-found sentinel.
func IsNotFound(err error) bool { return errors.Is(err, errNotFound) }
