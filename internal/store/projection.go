package store

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/rwafund/controlplane/pkg/money"
)

// GetProjection reads the singleton fund-state row, initializing it to
// all-zero on first read the same way the teacher's recorder tolerates
// an empty snapshots table.
func (s *Store) GetProjection(ctx context.Context) (*FundProjection, error) {
	var p FundProjection
	err := s.db.WithContext(ctx).First(&p, "id = ?", 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		zero := money.Zero().String()
		p = FundProjection{ID: 1, TotalAssets: zero, L1Cash: zero, L1Yield: zero, L2: zero, L3: zero,
			TotalRedemptionLiability: zero, TotalLockedShares: zero, WithdrawableFees: zero, SharePrice: zero}
		if err := s.db.WithContext(ctx).Create(&p).Error; err != nil {
			return nil, errors.Wrap(err, "initialize fund projection")
		}
		return &p, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "load fund projection")
	}
	return &p, nil
}

// MutateProjection loads the projection row under a row lock, lets fn
// apply its change, and saves — the pattern every tier-balance or
// liability update in the Dispatcher and Rebalance executor uses so
// concurrent handlers never race on the singleton row (spec.md §5).
func (s *Store) MutateProjection(ctx context.Context, fn func(tx *gorm.DB, p *FundProjection) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return MutateProjectionIn(tx, func(p *FundProjection) error { return fn(tx, p) })
	})
}

// MutateProjectionIn runs the same lock-mutate-save sequence against an
// already-open transaction, letting the Dispatcher fold a projection
// update into the same commit as its event_processed marker and any
// redemption/ticket rows (spec.md §4.3).
func MutateProjectionIn(tx *gorm.DB, fn func(p *FundProjection) error) error {
	var p FundProjection
	if err := lockForUpdate(tx).First(&p, "id = ?", 1).Error; err != nil {
		return errors.Wrap(err, "lock fund projection")
	}
	if err := fn(&p); err != nil {
		return err
	}
	return tx.Save(&p).Error
}
