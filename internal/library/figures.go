package library

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AddFigure stores a new figure under an existing lesson. The parent lesson
// must exist and its video blob must be present, since the figure's initial
// thumbnail is rendered from it.
func (s *Service) AddFigure(ctx context.Context, input NewFigure) (Figure, error) {
	if err := validateTimeRange(input.StartTimeMs, input.EndTimeMs); err != nil {
		return Figure{}, err
	}

	id, err := s.ids.NewID()
	if err != nil {
		return Figure{}, err
	}

	var created Figure
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var parent Lesson
		err := tx.Where("id = ?", input.LessonID).Take(&parent).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		video, err := s.readVideoBlob(tx, parent.VideoID)
		if err != nil {
			return err
		}

		thumbTime := input.StartTimeMs
		if input.ThumbTimeMs != nil {
			thumbTime = *input.ThumbTimeMs
		}
		thumb, err := s.thumbs.Render(ctx, video, thumbTime)
		if err != nil {
			return err
		}

		figure := Figure{
			ID:           id,
			LessonID:     input.LessonID,
			Name:         input.Name,
			StartTimeMs:  input.StartTimeMs,
			EndTimeMs:    input.EndTimeMs,
			ThumbTimeMs:  thumbTime,
			CategoryID:   input.CategoryID,
			SchoolID:     input.SchoolID,
			InstructorID: input.InstructorID,
			ModifiedTime: s.stamp(),
		}
		if err := tx.Create(&figure).Error; err != nil {
			return err
		}
		if err := tx.Create(&FigureThumbnail{FigureID: id, Data: thumb}).Error; err != nil {
			return err
		}
		created = figure
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrMissingBlob) {
			s.logError("library.add_figure", "persist_failed", err, zap.String("lesson_id", input.LessonID))
		}
		return Figure{}, err
	}

	s.notify()
	return created, nil
}

// GetFigure loads one figure.
func (s *Service) GetFigure(ctx context.Context, id string) (Figure, error) {
	var figure Figure
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&figure).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Figure{}, ErrNotFound
	}
	if err != nil {
		s.logError("library.get_figure", "query_failed", err, zap.String("figure_id", id))
		return Figure{}, err
	}
	return figure, nil
}

// ListFigures returns every figure, newest first by id.
func (s *Service) ListFigures(ctx context.Context) ([]Figure, error) {
	var figures []Figure
	if err := s.db.WithContext(ctx).Order("id DESC").Find(&figures).Error; err != nil {
		s.logError("library.list_figures", "query_failed", err)
		return nil, err
	}
	return figures, nil
}

// ListFiguresByLesson returns the figures owned by one lesson.
func (s *Service) ListFiguresByLesson(ctx context.Context, lessonID string) ([]Figure, error) {
	var figures []Figure
	if err := s.db.WithContext(ctx).
		Where("lesson_id = ?", lessonID).
		Order("id ASC").
		Find(&figures).Error; err != nil {
		s.logError("library.list_figures_by_lesson", "query_failed", err, zap.String("lesson_id", lessonID))
		return nil, err
	}
	return figures, nil
}

// UpdateFigure merges the patch onto the stored figure, regenerating the
// thumbnail from the parent lesson's video when the thumb time changes.
func (s *Service) UpdateFigure(ctx context.Context, id string, patch FigurePatch) (Figure, error) {
	var updated Figure
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stored Figure
		err := tx.Where("id = ?", id).Take(&stored).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		merged := stored
		thumbChanged := applyFigurePatch(&merged, patch)
		if err := validateTimeRange(merged.StartTimeMs, merged.EndTimeMs); err != nil {
			return err
		}
		merged.ModifiedTime = s.stampOr(patch.ModifiedTime)

		if thumbChanged {
			var parent Lesson
			err := tx.Where("id = ?", merged.LessonID).Take(&parent).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMissingBlob
			}
			if err != nil {
				return err
			}
			video, err := s.readVideoBlob(tx, parent.VideoID)
			if err != nil {
				return err
			}
			thumb, err := s.thumbs.Render(ctx, video, merged.ThumbTimeMs)
			if err != nil {
				return err
			}
			s.blobs.Invalidate(blobKeyFigureTmb + id)
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).
				Create(&FigureThumbnail{FigureID: id, Data: thumb}).Error; err != nil {
				return err
			}
		}

		if err := tx.Save(&merged).Error; err != nil {
			return err
		}
		updated = merged
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrMissingBlob) {
			s.logError("library.update_figure", "persist_failed", err, zap.String("figure_id", id))
		}
		return Figure{}, err
	}

	s.notify()
	return updated, nil
}

func applyFigurePatch(figure *Figure, patch FigurePatch) (thumbChanged bool) {
	if patch.Name != nil {
		figure.Name = *patch.Name
	}
	if patch.StartTimeMs != nil {
		figure.StartTimeMs = *patch.StartTimeMs
	}
	if patch.EndTimeMs != nil {
		figure.EndTimeMs = *patch.EndTimeMs
	}
	if patch.ThumbTimeMs != nil && *patch.ThumbTimeMs != figure.ThumbTimeMs {
		figure.ThumbTimeMs = *patch.ThumbTimeMs
		thumbChanged = true
	}
	if patch.CategoryID != nil {
		figure.CategoryID = *patch.CategoryID
	}
	if patch.SchoolID != nil {
		figure.SchoolID = *patch.SchoolID
	}
	if patch.InstructorID != nil {
		figure.InstructorID = *patch.InstructorID
	}
	if patch.DriveID != nil {
		figure.DriveID = *patch.DriveID
	}
	return thumbChanged
}

// DeleteFigure removes a figure and its thumbnail. Absent ids are a no-op.
// A drive-backed figure is tombstoned before the rows are removed.
func (s *Service) DeleteFigure(ctx context.Context, id string, opts DeleteOptions) error {
	var stored Figure
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&stored).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		s.logError("library.delete_figure", "query_failed", err, zap.String("figure_id", id))
		return err
	}

	if !opts.SkipTombstone && stored.DriveID != nil {
		if err := s.appendTombstones(ctx, []string{*stored.DriveID}); err != nil {
			s.logError("library.delete_figure", "tombstone_failed", err, zap.String("figure_id", id))
			return err
		}
	}

	s.blobs.Invalidate(blobKeyFigureTmb + id)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("figure_id = ?", id).Delete(&FigureThumbnail{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&Figure{}).Error
	})
	if err != nil {
		s.logError("library.delete_figure", "persist_failed", err, zap.String("figure_id", id))
		return err
	}

	s.notify()
	return nil
}
