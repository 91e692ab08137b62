package library

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequentialIDProvider struct {
	prefix string
	next   int
}

func (g *sequentialIDProvider) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("%s-%03d", g.prefix, g.next), nil
}

type stubThumbnailer struct {
	fail error
}

func (s stubThumbnailer) Render(_ context.Context, video []byte, atMillis int64) ([]byte, error) {
	if s.fail != nil {
		return nil, s.fail
	}
	return []byte(fmt.Sprintf("thumb:%d:%d", len(video), atMillis)), nil
}

// manualClock hands out strictly increasing instants so every write gets a
// distinct modified time.
type manualClock struct {
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:library_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&Lesson{}, &Figure{}, &VideoBlob{}, &LessonThumbnail{}, &FigureThumbnail{}, &Tombstone{},
	); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	for _, kind := range []GroupingKind{GroupingLessonCategory, GroupingFigureCategory, GroupingSchool, GroupingInstructor} {
		if err := db.Table(kind.Table()).AutoMigrate(&Grouping{}); err != nil {
			t.Fatalf("failed to migrate %s: %v", kind.Table(), err)
		}
	}
	return db
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	service, err := NewService(ServiceConfig{
		Database:    db,
		Clock:       newManualClock().Now,
		IDProvider:  &sequentialIDProvider{prefix: "id"},
		Thumbnailer: stubThumbnailer{},
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	t.Cleanup(service.Close)
	return service, db
}

func mustAddLesson(t *testing.T, service *Service, input NewLesson, video []byte) Lesson {
	t.Helper()
	lesson, err := service.AddLesson(context.Background(), input, video)
	if err != nil {
		t.Fatalf("unexpected add lesson error: %v", err)
	}
	return lesson
}

func mustAddFigure(t *testing.T, service *Service, input NewFigure) Figure {
	t.Helper()
	figure, err := service.AddFigure(context.Background(), input)
	if err != nil {
		t.Fatalf("unexpected add figure error: %v", err)
	}
	return figure
}

func mustAddGrouping(t *testing.T, service *Service, kind GroupingKind, input NewGrouping) Grouping {
	t.Helper()
	grouping, err := service.AddGrouping(context.Background(), kind, input)
	if err != nil {
		t.Fatalf("unexpected add grouping error: %v", err)
	}
	return grouping
}

func countRows(t *testing.T, db *gorm.DB, table string) int64 {
	t.Helper()
	var count int64
	if err := db.Table(table).Count(&count).Error; err != nil {
		t.Fatalf("failed to count %s: %v", table, err)
	}
	return count
}
