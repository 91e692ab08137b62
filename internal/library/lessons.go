package library

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func validateTimeRange(startMs, endMs int64) error {
	if startMs > 0 && endMs > 0 && endMs <= startMs {
		return ErrInvalidTimeRange
	}
	return nil
}

// AddLesson stores a new lesson together with its video payload and an
// initial thumbnail rendered at the lesson's thumb time. When input.VideoID
// names an already-stored video the payload argument is ignored and the blob
// is shared; otherwise a non-empty payload is required.
func (s *Service) AddLesson(ctx context.Context, input NewLesson, video []byte) (Lesson, error) {
	if err := validateTimeRange(input.StartTimeMs, input.EndTimeMs); err != nil {
		return Lesson{}, err
	}

	id, err := s.ids.NewID()
	if err != nil {
		return Lesson{}, err
	}

	videoID := ""
	payload := video
	newBlob := true
	if input.VideoID != nil && *input.VideoID != "" {
		videoID = *input.VideoID
		newBlob = false
		payload, err = s.readVideoBlob(s.db.WithContext(ctx), videoID)
		if err != nil {
			s.logError("library.add_lesson", "video_read_failed", err, zap.String("video_id", videoID))
			return Lesson{}, err
		}
	} else {
		if len(video) == 0 {
			return Lesson{}, ErrMissingBlob
		}
		videoID, err = s.ids.NewID()
		if err != nil {
			return Lesson{}, err
		}
	}

	thumbTime := input.StartTimeMs
	if input.ThumbTimeMs != nil {
		thumbTime = *input.ThumbTimeMs
	}
	thumb, err := s.thumbs.Render(ctx, payload, thumbTime)
	if err != nil {
		s.logError("library.add_lesson", "thumbnail_failed", err, zap.String("lesson_id", id))
		return Lesson{}, err
	}

	now := s.stamp()
	uploadDate := input.UploadDate
	if uploadDate == "" {
		uploadDate = now
	}
	lesson := Lesson{
		ID:           id,
		VideoID:      videoID,
		UploadDate:   uploadDate,
		StartTimeMs:  input.StartTimeMs,
		EndTimeMs:    input.EndTimeMs,
		ThumbTimeMs:  thumbTime,
		CategoryID:   input.CategoryID,
		SchoolID:     input.SchoolID,
		InstructorID: input.InstructorID,
		ModifiedTime: now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&lesson).Error; err != nil {
			return err
		}
		if newBlob {
			if err := tx.Create(&VideoBlob{VideoID: videoID, Data: video}).Error; err != nil {
				return err
			}
		}
		return tx.Create(&LessonThumbnail{LessonID: id, Data: thumb}).Error
	})
	if err != nil {
		s.logError("library.add_lesson", "persist_failed", err, zap.String("lesson_id", id))
		return Lesson{}, err
	}

	s.notify()
	return lesson, nil
}

// GetLesson loads one lesson.
func (s *Service) GetLesson(ctx context.Context, id string) (Lesson, error) {
	var lesson Lesson
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&lesson).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Lesson{}, ErrNotFound
	}
	if err != nil {
		s.logError("library.get_lesson", "query_failed", err, zap.String("lesson_id", id))
		return Lesson{}, err
	}
	return lesson, nil
}

// ListLessons returns every lesson, newest first by id.
func (s *Service) ListLessons(ctx context.Context) ([]Lesson, error) {
	var lessons []Lesson
	if err := s.db.WithContext(ctx).Order("id DESC").Find(&lessons).Error; err != nil {
		s.logError("library.list_lessons", "query_failed", err)
		return nil, err
	}
	return lessons, nil
}

// UpdateLesson merges the patch onto the stored lesson. A thumb-time change
// regenerates the thumbnail from the owning video inside the same
// transaction; the stale cached handle is invalidated before the new blob is
// written so a concurrent reader never holds a handle onto the old frame.
func (s *Service) UpdateLesson(ctx context.Context, id string, patch LessonPatch) (Lesson, error) {
	var updated Lesson
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stored Lesson
		err := tx.Where("id = ?", id).Take(&stored).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		merged := stored
		thumbChanged := applyLessonPatch(&merged, patch)
		if err := validateTimeRange(merged.StartTimeMs, merged.EndTimeMs); err != nil {
			return err
		}
		merged.ModifiedTime = s.stampOr(patch.ModifiedTime)

		if thumbChanged {
			video, err := s.readVideoBlob(tx, merged.VideoID)
			if err != nil {
				return err
			}
			thumb, err := s.thumbs.Render(ctx, video, merged.ThumbTimeMs)
			if err != nil {
				return err
			}
			s.blobs.Invalidate(blobKeyLessonTmb + id)
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).
				Create(&LessonThumbnail{LessonID: id, Data: thumb}).Error; err != nil {
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
		if !errors.Is(err, ErrNotFound) {
			s.logError("library.update_lesson", "persist_failed", err, zap.String("lesson_id", id))
		}
		return Lesson{}, err
	}

	s.notify()
	return updated, nil
}

func applyLessonPatch(lesson *Lesson, patch LessonPatch) (thumbChanged bool) {
	if patch.UploadDate != nil {
		lesson.UploadDate = *patch.UploadDate
	}
	if patch.StartTimeMs != nil {
		lesson.StartTimeMs = *patch.StartTimeMs
	}
	if patch.EndTimeMs != nil {
		lesson.EndTimeMs = *patch.EndTimeMs
	}
	if patch.ThumbTimeMs != nil && *patch.ThumbTimeMs != lesson.ThumbTimeMs {
		lesson.ThumbTimeMs = *patch.ThumbTimeMs
		thumbChanged = true
	}
	if patch.CategoryID != nil {
		lesson.CategoryID = *patch.CategoryID
	}
	if patch.SchoolID != nil {
		lesson.SchoolID = *patch.SchoolID
	}
	if patch.InstructorID != nil {
		lesson.InstructorID = *patch.InstructorID
	}
	if patch.DriveID != nil {
		lesson.DriveID = *patch.DriveID
	}
	if patch.VideoDriveID != nil {
		lesson.VideoDriveID = *patch.VideoDriveID
	}
	return thumbChanged
}

// DeleteLesson removes a lesson, its figures, their thumbnails, and, when
// no other lesson shares the video id, the video blob. Absent ids are a
// no-op. Drive-backed entities are tombstoned before any row is removed.
func (s *Service) DeleteLesson(ctx context.Context, id string, opts DeleteOptions) error {
	var stored Lesson
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&stored).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		s.logError("library.delete_lesson", "query_failed", err, zap.String("lesson_id", id))
		return err
	}

	var figures []Figure
	if err := s.db.WithContext(ctx).Where("lesson_id = ?", id).Find(&figures).Error; err != nil {
		s.logError("library.delete_lesson", "figure_query_failed", err, zap.String("lesson_id", id))
		return err
	}

	var shared int64
	if err := s.db.WithContext(ctx).Model(&Lesson{}).
		Where("video_id = ? AND id <> ?", stored.VideoID, id).
		Count(&shared).Error; err != nil {
		s.logError("library.delete_lesson", "refcount_failed", err, zap.String("lesson_id", id))
		return err
	}

	if !opts.SkipTombstone {
		driveIDs := make([]string, 0, len(figures)+2)
		if stored.DriveID != nil {
			driveIDs = append(driveIDs, *stored.DriveID)
		}
		if shared == 0 && stored.VideoDriveID != nil {
			driveIDs = append(driveIDs, *stored.VideoDriveID)
		}
		for _, figure := range figures {
			if figure.DriveID != nil {
				driveIDs = append(driveIDs, *figure.DriveID)
			}
		}
		if err := s.appendTombstones(ctx, driveIDs); err != nil {
			s.logError("library.delete_lesson", "tombstone_failed", err, zap.String("lesson_id", id))
			return err
		}
	}

	s.blobs.Invalidate(blobKeyLessonTmb + id)
	figureIDs := make([]string, 0, len(figures))
	for _, figure := range figures {
		figureIDs = append(figureIDs, figure.ID)
		s.blobs.Invalidate(blobKeyFigureTmb + figure.ID)
	}
	if shared == 0 {
		s.blobs.Invalidate(blobKeyVideo + stored.VideoID)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(figureIDs) > 0 {
			if err := tx.Where("figure_id IN ?", figureIDs).Delete(&FigureThumbnail{}).Error; err != nil {
				return err
			}
			if err := tx.Where("lesson_id = ?", id).Delete(&Figure{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("lesson_id = ?", id).Delete(&LessonThumbnail{}).Error; err != nil {
			return err
		}
		if err := tx.Where("id = ?", id).Delete(&Lesson{}).Error; err != nil {
			return err
		}
		var remaining int64
		if err := tx.Model(&Lesson{}).Where("video_id = ?", stored.VideoID).Count(&remaining).Error; err != nil {
			return err
		}
		if remaining == 0 {
			if err := tx.Where("video_id = ?", stored.VideoID).Delete(&VideoBlob{}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logError("library.delete_lesson", "persist_failed", err, zap.String("lesson_id", id))
		return err
	}

	s.notify()
	return nil
}
