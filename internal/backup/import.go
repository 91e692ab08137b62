package backup

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/stepvault/stepvault/internal/library"
	"github.com/stepvault/stepvault/internal/settings"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const importBatchSize = 100

// import progress phase boundaries.
const (
	importValidated  = 0.05
	importDecodeDone = 0.6
	importWriteDone  = 0.95
)

// importTables lists the collections the import replaces wholesale.
// Tombstones survive an import: restoring a backup must not resurrect
// deletions already reported to the remote.
var importTables = []string{
	"figure_thumbnails",
	"lesson_thumbnails",
	"videos",
	"figures",
	"lessons",
	"lesson_categories",
	"figure_categories",
	"schools",
	"instructors",
}

type decodedBlob struct {
	id   string
	data []byte
}

// Import validates the document and replaces the store's contents with it.
// Individually corrupt base64 entries are skipped with a warning; every
// other failure aborts before or inside the single write transaction, so a
// failed import never leaves partial state. Progress resets to 0 on any
// error.
func (c *Codec) Import(ctx context.Context, data []byte, onProgress ProgressFunc) (err error) {
	report := progressOrNop(onProgress)
	defer func() {
		if err != nil {
			report(0)
		}
	}()
	report(0)

	var document Document
	if jsonErr := json.Unmarshal(data, &document); jsonErr != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFormat, jsonErr)
	}
	if !document.Marker || document.Version != DocumentVersion {
		return fmt.Errorf("%w: marker=%t version=%d", ErrUnsupportedFormat, document.Marker, document.Version)
	}
	report(importValidated)

	payload := document.Data
	c.remapLegacyVideoKeys(&payload)

	total := len(payload.Videos) + len(payload.Thumbnails) + len(payload.FigureThumbnails)
	done := 0
	decoded := func() {
		done++
		if total > 0 {
			report(importValidated + (importDecodeDone-importValidated)*float64(done)/float64(total))
		}
	}
	videos := c.decodeEntries(payload.Videos, "videos", decoded)
	lessonThumbs := c.decodeEntries(payload.Thumbnails, "thumbnails", decoded)
	figureThumbs := c.decodeEntries(payload.FigureThumbnails, "figureThumbnails", decoded)
	report(importDecodeDone)

	syncRow, err := settings.EncodeSyncRow(payload.Settings)
	if err != nil {
		return err
	}

	// Live handles would point at rows the transaction below replaces.
	c.library.Blobs().Clear()

	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, table := range importTables {
			if err := tx.Exec("DELETE FROM " + table).Error; err != nil {
				return err
			}
		}
		if len(payload.Lessons) > 0 {
			if err := tx.CreateInBatches(&payload.Lessons, importBatchSize).Error; err != nil {
				return err
			}
		}
		if len(payload.Figures) > 0 {
			if err := tx.CreateInBatches(&payload.Figures, importBatchSize).Error; err != nil {
				return err
			}
		}
		for _, step := range []struct {
			kind library.GroupingKind
			rows []library.Grouping
		}{
			{library.GroupingLessonCategory, payload.LessonCategories},
			{library.GroupingFigureCategory, payload.FigureCategories},
			{library.GroupingSchool, payload.Schools},
			{library.GroupingInstructor, payload.Instructors},
		} {
			if len(step.rows) == 0 {
				continue
			}
			if err := tx.Table(step.kind.Table()).CreateInBatches(&step.rows, importBatchSize).Error; err != nil {
				return err
			}
		}
		for _, blob := range videos {
			if err := tx.Create(&library.VideoBlob{VideoID: blob.id, Data: blob.data}).Error; err != nil {
				return err
			}
		}
		for _, blob := range lessonThumbs {
			if err := tx.Create(&library.LessonThumbnail{LessonID: blob.id, Data: blob.data}).Error; err != nil {
				return err
			}
		}
		for _, blob := range figureThumbs {
			if err := tx.Create(&library.FigureThumbnail{FigureID: blob.id, Data: blob.data}).Error; err != nil {
				return err
			}
		}
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&syncRow).Error
	})
	if err != nil {
		c.logger.Error("backup import write failed", zap.Error(err))
		return err
	}
	report(importWriteDone)

	c.settings.Invalidate()
	c.library.Notifier().Mark()
	report(1)
	return nil
}

// remapLegacyVideoKeys detects exports written before videos got their own
// id, where video blobs were keyed by lesson id. The heuristic: every video
// key resolves to a lesson id. Matching entries are re-keyed to the lesson's
// video id (assigning one when the legacy lesson has none); entries whose
// lesson disappeared are dropped.
func (c *Codec) remapLegacyVideoKeys(payload *Payload) {
	if len(payload.Videos) == 0 {
		return
	}
	lessonIndex := make(map[string]int, len(payload.Lessons))
	for i, lesson := range payload.Lessons {
		lessonIndex[lesson.ID] = i
	}
	for _, entry := range payload.Videos {
		if _, ok := lessonIndex[entry.ID]; !ok {
			return
		}
	}

	remapped := make([]BlobEntry, 0, len(payload.Videos))
	for _, entry := range payload.Videos {
		i, ok := lessonIndex[entry.ID]
		if !ok {
			c.logger.Warn("dropping orphaned legacy video entry", zap.String("key", entry.ID))
			continue
		}
		if payload.Lessons[i].VideoID == "" {
			videoID, err := c.ids.NewID()
			if err != nil {
				c.logger.Warn("dropping legacy video entry, id generation failed",
					zap.String("key", entry.ID), zap.Error(err))
				continue
			}
			payload.Lessons[i].VideoID = videoID
		}
		remapped = append(remapped, BlobEntry{ID: payload.Lessons[i].VideoID, Base64: entry.Base64})
	}
	c.logger.Info("remapped legacy lesson-keyed video blobs",
		zap.Int("entries", len(remapped)))
	payload.Videos = remapped
}

func (c *Codec) decodeEntries(entries []BlobEntry, collection string, decoded func()) []decodedBlob {
	out := make([]decodedBlob, 0, len(entries))
	for _, entry := range entries {
		data, err := base64.StdEncoding.DecodeString(entry.Base64)
		if err != nil {
			c.logger.Warn("skipping corrupt backup entry",
				zap.String("collection", collection),
				zap.String("id", entry.ID),
				zap.Error(err))
			decoded()
			continue
		}
		out = append(out, decodedBlob{id: entry.ID, data: data})
		decoded()
	}
	return out
}
