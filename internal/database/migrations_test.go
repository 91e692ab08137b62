package database

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/stepvault/stepvault/internal/library"
	"github.com/stepvault/stepvault/internal/settings"
	"gorm.io/gorm"
)

func openRaw(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:database_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access handle: %v", err)
	}
	// Keep the shared in-memory database alive for the duration of the test.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func migrateBase(t *testing.T, db *gorm.DB) {
	t.Helper()
	if err := db.AutoMigrate(
		&library.Lesson{}, &library.Figure{}, &library.VideoBlob{},
		&library.LessonThumbnail{}, &library.FigureThumbnail{}, &library.Tombstone{},
		&settings.Row{}, &migrationRecord{},
	); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	for _, kind := range groupingTables {
		if err := db.Table(kind.Table()).AutoMigrate(&library.Grouping{}); err != nil {
			t.Fatalf("failed to migrate %s: %v", kind.Table(), err)
		}
	}
}

func TestApplyMigrationsRecordsEachStepOnce(t *testing.T) {
	db := openRaw(t)
	migrateBase(t, db)

	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("unexpected migration error: %v", err)
	}
	var count int64
	if err := db.Model(&migrationRecord{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count records: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected three recorded migrations, got %d", count)
	}

	// Re-running must be a no-op.
	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("unexpected re-run error: %v", err)
	}
	if err := db.Model(&migrationRecord{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count records: %v", err)
	}
	if count != 3 {
		t.Fatalf("re-run must not add records, got %d", count)
	}
}

func TestSplitSettingsPartitions(t *testing.T) {
	db := openRaw(t)
	migrateBase(t, db)

	legacy := map[string]any{
		"language": "de",
		"muted":    true,
		"lessons":  map[string]any{"categoryOrder": []string{"cat-1"}, "showEmpty": true},
	}
	payload, _ := json.Marshal(legacy)
	if err := db.Create(&settings.Row{Partition: "all", PayloadJSON: string(payload)}).Error; err != nil {
		t.Fatalf("failed to seed legacy row: %v", err)
	}

	if err := splitSettingsPartitions(db); err != nil {
		t.Fatalf("unexpected migration error: %v", err)
	}

	var legacyCount int64
	if err := db.Model(&settings.Row{}).Where("partition = ?", "all").Count(&legacyCount).Error; err != nil {
		t.Fatalf("failed to count legacy rows: %v", err)
	}
	if legacyCount != 0 {
		t.Fatalf("legacy row must be removed")
	}

	var deviceRow settings.Row
	if err := db.Where("partition = ?", settings.PartitionDevice).Take(&deviceRow).Error; err != nil {
		t.Fatalf("expected device partition: %v", err)
	}
	var device settings.DeviceSettings
	if err := json.Unmarshal([]byte(deviceRow.PayloadJSON), &device); err != nil {
		t.Fatalf("device payload corrupt: %v", err)
	}
	if device.Language != "de" || !device.Muted {
		t.Fatalf("device fields lost in split: %#v", device)
	}

	var syncRow settings.Row
	if err := db.Where("partition = ?", settings.PartitionSync).Take(&syncRow).Error; err != nil {
		t.Fatalf("expected sync partition: %v", err)
	}
	var sync settings.SyncSettings
	if err := json.Unmarshal([]byte(syncRow.PayloadJSON), &sync); err != nil {
		t.Fatalf("sync payload corrupt: %v", err)
	}
	if len(sync.Lessons.CategoryOrder) != 1 || !sync.Lessons.ShowEmpty {
		t.Fatalf("sync fields lost in split: %#v", sync)
	}
}

func TestSplitSettingsPartitionsNoLegacyRowIsNoop(t *testing.T) {
	db := openRaw(t)
	migrateBase(t, db)

	if err := splitSettingsPartitions(db); err != nil {
		t.Fatalf("unexpected migration error: %v", err)
	}
	var count int64
	if err := db.Model(&settings.Row{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	if count != 0 {
		t.Fatalf("no legacy row must mean no writes, got %d rows", count)
	}
}

func TestRekeyLegacyThumbnails(t *testing.T) {
	db := openRaw(t)
	migrateBase(t, db)

	if err := db.Exec("CREATE TABLE thumbnails (owner_id TEXT PRIMARY KEY, data BLOB NOT NULL)").Error; err != nil {
		t.Fatalf("failed to create legacy table: %v", err)
	}
	if err := db.Create(&library.Lesson{ID: "l1", VideoID: "v1", ModifiedTime: "t"}).Error; err != nil {
		t.Fatalf("failed to seed lesson: %v", err)
	}
	if err := db.Create(&library.Figure{ID: "f1", LessonID: "l1", Name: "spin", ModifiedTime: "t"}).Error; err != nil {
		t.Fatalf("failed to seed figure: %v", err)
	}
	for owner, data := range map[string]string{"l1": "lesson-thumb", "f1": "figure-thumb", "orphan": "x"} {
		if err := db.Exec("INSERT INTO thumbnails (owner_id, data) VALUES (?, ?)", owner, []byte(data)).Error; err != nil {
			t.Fatalf("failed to seed thumbnail: %v", err)
		}
	}

	if err := rekeyLegacyThumbnails(db); err != nil {
		t.Fatalf("unexpected migration error: %v", err)
	}

	var lessonThumb library.LessonThumbnail
	if err := db.Where("lesson_id = ?", "l1").Take(&lessonThumb).Error; err != nil {
		t.Fatalf("expected rekeyed lesson thumbnail: %v", err)
	}
	if string(lessonThumb.Data) != "lesson-thumb" {
		t.Fatalf("unexpected payload: %q", lessonThumb.Data)
	}
	var figureThumb library.FigureThumbnail
	if err := db.Where("figure_id = ?", "f1").Take(&figureThumb).Error; err != nil {
		t.Fatalf("expected rekeyed figure thumbnail: %v", err)
	}
	if db.Migrator().HasTable("thumbnails") {
		t.Fatalf("legacy table must be dropped")
	}

	// Without the legacy table the step is a no-op.
	if err := rekeyLegacyThumbnails(db); err != nil {
		t.Fatalf("unexpected re-run error: %v", err)
	}
}

func TestRenameLegacyThumbTime(t *testing.T) {
	db := openRaw(t)
	migrateBase(t, db)

	if err := db.Exec("ALTER TABLE lessons ADD COLUMN time INTEGER NOT NULL DEFAULT 0").Error; err != nil {
		t.Fatalf("failed to add legacy column: %v", err)
	}
	if err := db.Create(&library.Lesson{ID: "l1", VideoID: "v1", ModifiedTime: "t"}).Error; err != nil {
		t.Fatalf("failed to seed lesson: %v", err)
	}
	if err := db.Exec("UPDATE lessons SET time = 4200 WHERE id = 'l1'").Error; err != nil {
		t.Fatalf("failed to set legacy value: %v", err)
	}

	if err := renameLegacyThumbTime(db); err != nil {
		t.Fatalf("unexpected migration error: %v", err)
	}

	var lesson library.Lesson
	if err := db.Where("id = ?", "l1").Take(&lesson).Error; err != nil {
		t.Fatalf("failed to reload lesson: %v", err)
	}
	if lesson.ThumbTimeMs != 4200 {
		t.Fatalf("expected legacy value carried over, got %d", lesson.ThumbTimeMs)
	}

	// Column gone, second run is a no-op.
	if err := renameLegacyThumbTime(db); err != nil {
		t.Fatalf("unexpected re-run error: %v", err)
	}
}
