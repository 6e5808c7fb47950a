package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// RecordSnapshot inserts one per-minute risk indicator row, adapted from
// the teacher's RecordReport — one transactional insert, no lock needed
// since snapshots are append-only time series.
func (s *Store) RecordSnapshot(ctx context.Context, snap *RiskSnapshot) error {
	return s.db.WithContext(ctx).Create(snap).Error
}

// LatestSnapshot returns the most recent risk snapshot, the same shape
// as the teacher's GetLatestSnapshot.
func (s *Store) LatestSnapshot(ctx context.Context) (*RiskSnapshot, error) {
	var snap RiskSnapshot
	err := s.db.WithContext(ctx).Order("timestamp desc").First(&snap).Error
	if err != nil {
		return nil, errors.Wrap(err, "load latest risk snapshot")
	}
	return &snap, nil
}

// SnapshotsByTimeRange mirrors the teacher's GetSnapshotsByTimeRange,
// used by the liquidity forecast and by reporting.
func (s *Store) SnapshotsByTimeRange(ctx context.Context, from, to time.Time) ([]RiskSnapshot, error) {
	var rows []RiskSnapshot
	err := s.db.WithContext(ctx).Where("timestamp BETWEEN ? AND ?", from, to).Order("timestamp asc").Find(&rows).Error
	return rows, errors.Wrap(err, "load risk snapshots by time range")
}

// SnapshotsByLevel mirrors the teacher's GetSnapshotsByPhase, filtering
// by risk level instead of phase.
func (s *Store) SnapshotsByLevel(ctx context.Context, level string) ([]RiskSnapshot, error) {
	var rows []RiskSnapshot
	err := s.db.WithContext(ctx).Where("risk_level = ?", level).Order("timestamp desc").Find(&rows).Error
	return rows, errors.Wrap(err, "load risk snapshots by level")
}

// CountSnapshots mirrors the teacher's CountSnapshots.
func (s *Store) CountSnapshots(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&RiskSnapshot{}).Count(&count).Error
	return count, errors.Wrap(err, "count risk snapshots")
}

// RecordRiskEvent appends a discrete risk occurrence (alert, incident
// open/close).
func (s *Store) RecordRiskEvent(ctx context.Context, ev *RiskEvent) error {
	return s.db.WithContext(ctx).Create(ev).Error
}

// RecordRiskEventIn appends a risk event inside an already-open
// transaction, so the Dispatcher's alert handler commits it atomically
// with the event's processed marker.
func RecordRiskEventIn(tx *gorm.DB, ev *RiskEvent) error {
	return tx.Create(ev).Error
}

// RecentRiskEvent returns the most recent event of kind, used by the
// Dispatcher's 1-hour alert-dedup cooldown (spec.md §4.3).
func (s *Store) RecentRiskEvent(ctx context.Context, kind string, since time.Time) (*RiskEvent, error) {
	var ev RiskEvent
	err := s.db.WithContext(ctx).Where("kind = ? AND created_at >= ?", kind, since).Order("created_at desc").First(&ev).Error
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// OpenIncidentEvents returns risk events tagged with an open incident
// ID, used by the emergency driver's recovery watcher.
func (s *Store) OpenIncidentEvents(ctx context.Context, incidentID string) ([]RiskEvent, error) {
	var rows []RiskEvent
	err := s.db.WithContext(ctx).Where("incident_id = ?", incidentID).Order("created_at asc").Find(&rows).Error
	return rows, errors.Wrap(err, "load incident events")
}
