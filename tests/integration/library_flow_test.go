package integration

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stepvault/stepvault/internal/backup"
	"github.com/stepvault/stepvault/internal/database"
	"github.com/stepvault/stepvault/internal/grouping"
	"github.com/stepvault/stepvault/internal/library"
	"github.com/stepvault/stepvault/internal/settings"
)

type stubThumbnailer struct{}

func (stubThumbnailer) Render(_ context.Context, video []byte, atMillis int64) ([]byte, error) {
	return []byte(fmt.Sprintf("thumb:%d:%d", len(video), atMillis)), nil
}

type stack struct {
	library  *library.Service
	settings *settings.Engine
	grouping *grouping.Service
	backup   *backup.Codec
}

func newStack(t *testing.T) stack {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "stepvault.db"), nil)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.Close()
		}
	})

	libraryService, err := library.NewService(library.ServiceConfig{
		Database:    db,
		Thumbnailer: stubThumbnailer{},
	})
	if err != nil {
		t.Fatalf("failed to build library service: %v", err)
	}
	t.Cleanup(libraryService.Close)

	engine, err := settings.NewEngine(settings.Config{Database: db, Notifier: libraryService.Notifier()})
	if err != nil {
		t.Fatalf("failed to build settings engine: %v", err)
	}
	groupingService, err := grouping.NewService(grouping.ServiceConfig{Library: libraryService, Settings: engine})
	if err != nil {
		t.Fatalf("failed to build grouping service: %v", err)
	}
	codec, err := backup.NewCodec(backup.Config{Database: db, Library: libraryService, Settings: engine})
	if err != nil {
		t.Fatalf("failed to build codec: %v", err)
	}
	return stack{library: libraryService, settings: engine, grouping: groupingService, backup: codec}
}

func TestFullLibraryFlow(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	// Remote pushes a grouping configuration first.
	remote := grouping.ParseConfig([]byte(`{
		"categories": [{"id": "cat-1", "name": "Salsa"}],
		"schools": [{"id": "school-1", "name": "Academy"}],
		"instructors": [],
		"showEmpty": true
	}`))
	if err := s.grouping.ApplyRemoteConfig(ctx, library.ItemTypeLesson, remote, "2030-01-01T00:00:00.000Z"); err != nil {
		t.Fatalf("failed to apply remote config: %v", err)
	}

	categoryID := "cat-1"
	lesson, err := s.library.AddLesson(ctx, library.NewLesson{
		CategoryID: &categoryID,
		EndTimeMs:  60000,
	}, []byte("raw-video"))
	if err != nil {
		t.Fatalf("failed to add lesson: %v", err)
	}
	figure, err := s.library.AddFigure(ctx, library.NewFigure{
		LessonID:    lesson.ID,
		Name:        "cross body lead",
		StartTimeMs: 12000,
		EndTimeMs:   15000,
	})
	if err != nil {
		t.Fatalf("failed to add figure: %v", err)
	}

	// Mark both as synced, as the external queue would after an upload.
	if _, err := s.library.UpdateLesson(ctx, lesson.ID, library.LessonPatch{
		DriveID:      library.Pointer(library.Pointer("drive-lesson")),
		VideoDriveID: library.Pointer(library.Pointer("drive-video")),
	}); err != nil {
		t.Fatalf("failed to mark lesson synced: %v", err)
	}
	if _, err := s.library.UpdateFigure(ctx, figure.ID, library.FigurePatch{
		DriveID: library.Pointer(library.Pointer("drive-figure")),
	}); err != nil {
		t.Fatalf("failed to mark figure synced: %v", err)
	}

	// Snapshot everything before the destructive part.
	document, err := s.backup.Export(ctx, nil)
	if err != nil {
		t.Fatalf("failed to export: %v", err)
	}

	// Deleting the lesson cascades and tombstones all three drive ids.
	if err := s.library.DeleteLesson(ctx, lesson.ID, library.DeleteOptions{}); err != nil {
		t.Fatalf("failed to delete lesson: %v", err)
	}
	for _, driveID := range []string{"drive-lesson", "drive-video", "drive-figure"} {
		tombstoned, err := s.library.IsTombstoned(ctx, driveID)
		if err != nil || !tombstoned {
			t.Fatalf("expected %s tombstoned, got %v / %v", driveID, tombstoned, err)
		}
	}

	// Restoring the backup brings content back without clearing tombstones.
	if err := s.backup.Import(ctx, document, nil); err != nil {
		t.Fatalf("failed to import: %v", err)
	}
	restored, err := s.library.GetLesson(ctx, lesson.ID)
	if err != nil {
		t.Fatalf("expected restored lesson: %v", err)
	}
	if restored.CategoryID == nil || *restored.CategoryID != "cat-1" {
		t.Fatalf("unexpected restored category: %#v", restored.CategoryID)
	}
	figures, err := s.library.ListFiguresByLesson(ctx, lesson.ID)
	if err != nil || len(figures) != 1 {
		t.Fatalf("expected restored figure, got %#v / %v", figures, err)
	}
	tombstoned, err := s.library.IsTombstoned(ctx, "drive-lesson")
	if err != nil || !tombstoned {
		t.Fatalf("import must not clear tombstones, got %v / %v", tombstoned, err)
	}

	// The upload document reflects the reconciled grouping state.
	cfg, modifiedTime, err := s.grouping.ConfigForUpload(ctx, library.ItemTypeLesson)
	if err != nil {
		t.Fatalf("failed to build upload config: %v", err)
	}
	if modifiedTime != "2030-01-01T00:00:00.000Z" {
		t.Fatalf("unexpected modified time: %q", modifiedTime)
	}
	if len(cfg.Categories) != 1 || cfg.Categories[0].ID != "cat-1" || !cfg.ShowEmpty {
		t.Fatalf("unexpected upload config: %#v", cfg)
	}
}

func TestMigrationsRunOnOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stepvault.db")
	db, err := database.Open(path, nil)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.Close()

	// A second open against the same file must not re-apply anything.
	db, err = database.Open(path, nil)
	if err != nil {
		t.Fatalf("failed to reopen database: %v", err)
	}
	var count int64
	if err := db.Table("db_migrations").Count(&count).Error; err != nil {
		t.Fatalf("failed to count migrations: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected three recorded migrations, got %d", count)
	}
	sqlDB, _ = db.DB()
	sqlDB.Close()
}
