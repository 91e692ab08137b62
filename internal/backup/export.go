package backup

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"github.com/stepvault/stepvault/internal/library"
	"github.com/stepvault/stepvault/internal/settings"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// export progress phase boundaries.
const (
	exportReadDone   = 0.2
	exportEncodeDone = 0.9
)

type storeSnapshot struct {
	lessons          []library.Lesson
	figures          []library.Figure
	lessonCategories []library.Grouping
	figureCategories []library.Grouping
	schools          []library.Grouping
	instructors      []library.Grouping
	sync             settings.SyncSettings
	videos           []library.VideoBlob
	lessonThumbs     []library.LessonThumbnail
	figureThumbs     []library.FigureThumbnail
}

// Export reads the entire store and serializes it into one versioned
// document. All rows are read under a single transaction; the base64
// conversion runs only after that transaction closes, so its CPU cost never
// extends a transaction lifetime. Progress is monotonic across the read
// (0–0.2), encode (0.2–0.9), and serialize (0.9–1.0) phases.
func (c *Codec) Export(ctx context.Context, onProgress ProgressFunc) ([]byte, error) {
	report := progressOrNop(onProgress)
	report(0)

	var snap storeSnapshot
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Order("id ASC").Find(&snap.lessons).Error; err != nil {
			return err
		}
		if err := tx.Order("id ASC").Find(&snap.figures).Error; err != nil {
			return err
		}
		for _, step := range []struct {
			kind library.GroupingKind
			dst  *[]library.Grouping
		}{
			{library.GroupingLessonCategory, &snap.lessonCategories},
			{library.GroupingFigureCategory, &snap.figureCategories},
			{library.GroupingSchool, &snap.schools},
			{library.GroupingInstructor, &snap.instructors},
		} {
			if err := tx.Table(step.kind.Table()).Order("id ASC").Find(step.dst).Error; err != nil {
				return err
			}
		}

		snap.sync = settings.DefaultSync()
		var row settings.Row
		err := tx.Where("partition = ?", settings.PartitionSync).Take(&row).Error
		if err == nil {
			if err := json.Unmarshal([]byte(row.PayloadJSON), &snap.sync); err != nil {
				return err
			}
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if err := tx.Find(&snap.videos).Error; err != nil {
			return err
		}
		if err := tx.Find(&snap.lessonThumbs).Error; err != nil {
			return err
		}
		return tx.Find(&snap.figureThumbs).Error
	})
	if err != nil {
		c.logger.Error("backup export read failed", zap.Error(err))
		return nil, err
	}
	report(exportReadDone)

	total := len(snap.videos) + len(snap.lessonThumbs) + len(snap.figureThumbs)
	done := 0
	encoded := func() {
		done++
		if total > 0 {
			report(exportReadDone + (exportEncodeDone-exportReadDone)*float64(done)/float64(total))
		}
	}

	videos := make([]BlobEntry, 0, len(snap.videos))
	for _, blob := range snap.videos {
		videos = append(videos, BlobEntry{ID: blob.VideoID, Base64: base64.StdEncoding.EncodeToString(blob.Data)})
		encoded()
	}
	thumbnails := make([]BlobEntry, 0, len(snap.lessonThumbs))
	for _, blob := range snap.lessonThumbs {
		thumbnails = append(thumbnails, BlobEntry{ID: blob.LessonID, Base64: base64.StdEncoding.EncodeToString(blob.Data)})
		encoded()
	}
	figureThumbnails := make([]BlobEntry, 0, len(snap.figureThumbs))
	for _, blob := range snap.figureThumbs {
		figureThumbnails = append(figureThumbnails, BlobEntry{ID: blob.FigureID, Base64: base64.StdEncoding.EncodeToString(blob.Data)})
		encoded()
	}
	report(exportEncodeDone)

	document := Document{
		Marker:     true,
		Version:    DocumentVersion,
		ExportDate: c.clock().UTC().Format(time.RFC3339),
		Data: Payload{
			Lessons:          snap.lessons,
			Figures:          snap.figures,
			FigureCategories: snap.figureCategories,
			LessonCategories: snap.lessonCategories,
			Schools:          snap.schools,
			Instructors:      snap.instructors,
			Settings:         snap.sync,
			Videos:           videos,
			Thumbnails:       thumbnails,
			FigureThumbnails: figureThumbnails,
		},
	}
	out, err := json.Marshal(document)
	if err != nil {
		c.logger.Error("backup export serialize failed", zap.Error(err))
		return nil, err
	}
	report(1)
	return out, nil
}
