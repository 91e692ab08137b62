package library

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// VideoURL returns an ephemeral handle for the video payload, reading the
// blob on a cache miss. Callers must pair every successful call with
// ReleaseVideoURL.
func (s *Service) VideoURL(ctx context.Context, videoID string) (string, error) {
	return s.blobs.Acquire(blobKeyVideo+videoID, func() ([]byte, error) {
		return s.readVideoBlob(s.db.WithContext(ctx), videoID)
	})
}

// ReleaseVideoURL drops one reference to the video handle.
func (s *Service) ReleaseVideoURL(videoID string) {
	s.blobs.Release(blobKeyVideo + videoID)
}

// LessonThumbnailURL returns an ephemeral handle for a lesson's thumbnail.
func (s *Service) LessonThumbnailURL(ctx context.Context, lessonID string) (string, error) {
	return s.blobs.Acquire(blobKeyLessonTmb+lessonID, func() ([]byte, error) {
		var row LessonThumbnail
		err := s.db.WithContext(ctx).Where("lesson_id = ?", lessonID).Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		return row.Data, nil
	})
}

// ReleaseLessonThumbnailURL drops one reference to the thumbnail handle.
func (s *Service) ReleaseLessonThumbnailURL(lessonID string) {
	s.blobs.Release(blobKeyLessonTmb + lessonID)
}

// FigureThumbnailURL returns an ephemeral handle for a figure's thumbnail.
func (s *Service) FigureThumbnailURL(ctx context.Context, figureID string) (string, error) {
	return s.blobs.Acquire(blobKeyFigureTmb+figureID, func() ([]byte, error) {
		var row FigureThumbnail
		err := s.db.WithContext(ctx).Where("figure_id = ?", figureID).Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		return row.Data, nil
	})
}

// ReleaseFigureThumbnailURL drops one reference to the thumbnail handle.
func (s *Service) ReleaseFigureThumbnailURL(figureID string) {
	s.blobs.Release(blobKeyFigureTmb + figureID)
}

// ResolveHandle maps a handle URL back to its payload, for the HTTP surface
// that serves handles to the UI.
func (s *Service) ResolveHandle(url string) ([]byte, bool) {
	return s.blobs.Bytes(url)
}

// readVideoBlob loads raw video bytes, mapping a missing row to
// ErrMissingBlob.
func (s *Service) readVideoBlob(tx *gorm.DB, videoID string) ([]byte, error) {
	var row VideoBlob
	err := tx.Where("video_id = ?", videoID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMissingBlob
	}
	if err != nil {
		return nil, err
	}
	return row.Data, nil
}
