package library

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// appendTombstones durably records drive ids as deleted. The write commits
// in its own transaction before any row deletion runs: a crash between the
// two leaves a tombstoned-but-present item, which the next delete attempt
// cleans up, whereas the reverse ordering would leak an un-tombstoned
// remote item. Existing tombstones are left untouched (append-only).
func (s *Service) appendTombstones(ctx context.Context, driveIDs []string) error {
	rows := make([]Tombstone, 0, len(driveIDs))
	deletedAt := s.stamp()
	for _, driveID := range driveIDs {
		if driveID == "" {
			continue
		}
		rows = append(rows, Tombstone{DriveID: driveID, DeletedAt: deletedAt})
	}
	if len(rows) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
}

// Tombstones returns the full deletion log, oldest first. Consumed by the
// external sync queue before it re-uploads or re-creates remote items.
func (s *Service) Tombstones(ctx context.Context) ([]Tombstone, error) {
	var rows []Tombstone
	if err := s.db.WithContext(ctx).
		Order("deleted_at ASC, drive_id ASC").
		Find(&rows).Error; err != nil {
		s.logError("library.tombstones", "query_failed", err)
		return nil, err
	}
	return rows, nil
}

// IsTombstoned reports whether the drive id was deleted locally. Primary-key
// lookup, constant time.
func (s *Service) IsTombstoned(ctx context.Context, driveID string) (bool, error) {
	var row Tombstone
	err := s.db.WithContext(ctx).Where("drive_id = ?", driveID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		s.logError("library.is_tombstoned", "query_failed", err)
		return false, err
	}
	return true, nil
}
