package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// LeaseTTL and LeaseRenewInterval back the singleton-worker coordination
// described in spec.md §5: exactly one process runs the Ingestor, and
// exactly one emergency driver runs per incident, at a time.
const (
	LeaseTTL           = 30 * time.Second
	LeaseRenewInterval = 15 * time.Second
)

// ErrLeaseHeld is returned by AcquireLease when another holder's lease
// has not yet expired.
var ErrLeaseHeld = errors.New("lease held by another holder")

// AcquireLease attempts to take key for holderID, succeeding if no lease
// row exists or the existing one has expired. On success it returns the
// new fencing sequence, which callers must attach to any side effect
// that must not be duplicated by a delayed former holder.
func (s *Store) AcquireLease(ctx context.Context, key, holderID string) (uint64, error) {
	var seq uint64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Lease
		err := lockForUpdate(tx).First(&existing, "key = ?", key).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			seq = 1
			return tx.Create(&Lease{Key: key, HolderID: holderID, ExpiresAt: time.Now().Add(LeaseTTL), FencingSeq: seq}).Error
		case err != nil:
			return errors.Wrap(err, "load lease")
		}

		if existing.HolderID == holderID || existing.ExpiresAt.Before(time.Now()) {
			seq = existing.FencingSeq + 1
			existing.HolderID = holderID
			existing.ExpiresAt = time.Now().Add(LeaseTTL)
			existing.FencingSeq = seq
			return tx.Save(&existing).Error
		}
		return ErrLeaseHeld
	})
	if err != nil {
		return 0, err
	}
	return seq, nil
}

// RenewLease extends an already-held lease. It fails if holderID no
// longer owns it (another process won it after expiry).
func (s *Store) RenewLease(ctx context.Context, key, holderID string) error {
	res := s.db.WithContext(ctx).Model(&Lease{}).
		Where("key = ? AND holder_id = ?", key, holderID).
		Update("expires_at", time.Now().Add(LeaseTTL))
	if res.Error != nil {
		return errors.Wrap(res.Error, "renew lease")
	}
	if res.RowsAffected == 0 {
		return ErrLeaseHeld
	}
	return nil
}

// ReleaseLease drops holderID's ownership, letting another process
// acquire it immediately instead of waiting out the TTL — used on clean
// shutdown.
func (s *Store) ReleaseLease(ctx context.Context, key, holderID string) error {
	return s.db.WithContext(ctx).Where("key = ? AND holder_id = ?", key, holderID).Delete(&Lease{}).Error
}
