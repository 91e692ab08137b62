package library

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AddGrouping stores a new category, school, or instructor. An empty
// input.ID is replaced by a generated one; grouping reconciliation supplies
// the id so drive-assigned identifiers stay authoritative.
func (s *Service) AddGrouping(ctx context.Context, kind GroupingKind, input NewGrouping) (Grouping, error) {
	id := input.ID
	if id == "" {
		generated, err := s.ids.NewID()
		if err != nil {
			return Grouping{}, err
		}
		id = generated
	}

	grouping := Grouping{
		ID:           id,
		Name:         input.Name,
		DriveID:      input.DriveID,
		ModifiedTime: s.stampOr(input.ModifiedTime),
	}
	if err := s.db.WithContext(ctx).Table(kind.Table()).Create(&grouping).Error; err != nil {
		s.logError("library.add_grouping", "persist_failed", err,
			zap.String("kind", kind.String()), zap.String("grouping_id", id))
		return Grouping{}, err
	}

	s.notify()
	return grouping, nil
}

// GetGrouping loads one grouping entity.
func (s *Service) GetGrouping(ctx context.Context, kind GroupingKind, id string) (Grouping, error) {
	var grouping Grouping
	err := s.db.WithContext(ctx).Table(kind.Table()).Where("id = ?", id).Take(&grouping).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Grouping{}, ErrNotFound
	}
	if err != nil {
		s.logError("library.get_grouping", "query_failed", err,
			zap.String("kind", kind.String()), zap.String("grouping_id", id))
		return Grouping{}, err
	}
	return grouping, nil
}

// ListGroupings returns every entity of the kind in insertion order (ids are
// time-sortable, so id order is creation order).
func (s *Service) ListGroupings(ctx context.Context, kind GroupingKind) ([]Grouping, error) {
	var groupings []Grouping
	if err := s.db.WithContext(ctx).Table(kind.Table()).Order("id ASC").Find(&groupings).Error; err != nil {
		s.logError("library.list_groupings", "query_failed", err, zap.String("kind", kind.String()))
		return nil, err
	}
	return groupings, nil
}

// UpdateGrouping merges the patch onto the stored grouping entity.
func (s *Service) UpdateGrouping(ctx context.Context, kind GroupingKind, id string, patch GroupingPatch) (Grouping, error) {
	var updated Grouping
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stored Grouping
		err := tx.Table(kind.Table()).Where("id = ?", id).Take(&stored).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		merged := stored
		if patch.Name != nil {
			merged.Name = *patch.Name
		}
		if patch.DriveID != nil {
			merged.DriveID = *patch.DriveID
		}
		merged.ModifiedTime = s.stampOr(patch.ModifiedTime)

		if err := tx.Table(kind.Table()).Where("id = ?", id).Updates(map[string]any{
			"name":          merged.Name,
			"drive_id":      merged.DriveID,
			"modified_time": merged.ModifiedTime,
		}).Error; err != nil {
			return err
		}
		updated = merged
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logError("library.update_grouping", "persist_failed", err,
				zap.String("kind", kind.String()), zap.String("grouping_id", id))
		}
		return Grouping{}, err
	}

	s.notify()
	return updated, nil
}

// DeleteGrouping removes a grouping entity, first clearing the foreign key
// on every lesson and figure that references it. Referencing items are never
// deleted, only rewritten. Absent ids are a no-op.
func (s *Service) DeleteGrouping(ctx context.Context, kind GroupingKind, id string, opts DeleteOptions) error {
	var stored Grouping
	err := s.db.WithContext(ctx).Table(kind.Table()).Where("id = ?", id).Take(&stored).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		s.logError("library.delete_grouping", "query_failed", err,
			zap.String("kind", kind.String()), zap.String("grouping_id", id))
		return err
	}

	if !opts.SkipTombstone && stored.DriveID != nil {
		if err := s.appendTombstones(ctx, []string{*stored.DriveID}); err != nil {
			s.logError("library.delete_grouping", "tombstone_failed", err,
				zap.String("kind", kind.String()), zap.String("grouping_id", id))
			return err
		}
	}

	stamp := s.stamp()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, ref := range kind.references() {
			if err := tx.Exec(
				"UPDATE "+ref.table+" SET "+ref.column+" = NULL, modified_time = ? WHERE "+ref.column+" = ?",
				stamp, id,
			).Error; err != nil {
				return err
			}
		}
		return tx.Exec("DELETE FROM "+kind.Table()+" WHERE id = ?", id).Error
	})
	if err != nil {
		s.logError("library.delete_grouping", "persist_failed", err,
			zap.String("kind", kind.String()), zap.String("grouping_id", id))
		return err
	}

	s.notify()
	return nil
}
