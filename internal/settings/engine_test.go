package settings

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/stepvault/stepvault/internal/library"
	"gorm.io/gorm"
)

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
	dsn := fmt.Sprintf("file:settings_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Row{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newTestEngine(t *testing.T, db *gorm.DB) *Engine {
	t.Helper()
	engine, err := NewEngine(Config{Database: db, Clock: newManualClock().Now})
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}
	return engine
}

func TestLoadReturnsDefaultsForEmptyStore(t *testing.T) {
	engine := newTestEngine(t, newTestDB(t))

	state, err := engine.Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if state.Device.Language != "en" || state.Device.Volume != 1.0 {
		t.Fatalf("unexpected device defaults: %#v", state.Device)
	}
	if state.Sync.ModifiedTime != "" {
		t.Fatalf("sync defaults must carry no modified time")
	}
}

func TestUpdatePersistsBothPartitions(t *testing.T) {
	db := newTestDB(t)
	engine := newTestEngine(t, db)
	ctx := context.Background()

	showEmpty := true
	err := engine.Update(ctx, Patch{
		Device: DevicePatch{Language: library.Pointer("de"), Volume: library.Pointer(0.5)},
		Sync:   SyncPatch{Lessons: &GroupingDisplayPatch{ShowEmpty: &showEmpty}},
	}, UpdateOptions{})
	if err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}

	// A fresh engine reads only what was persisted.
	reloaded, err := newTestEngine(t, db).Load(ctx)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if reloaded.Device.Language != "de" || reloaded.Device.Volume != 0.5 {
		t.Fatalf("device partition not persisted: %#v", reloaded.Device)
	}
	if !reloaded.Sync.Lessons.ShowEmpty {
		t.Fatalf("sync partition not persisted: %#v", reloaded.Sync)
	}
	if reloaded.Sync.ModifiedTime == "" {
		t.Fatalf("sync write must stamp a modified time")
	}
}

func TestUpdateDeviceOnlyLeavesSyncStampAlone(t *testing.T) {
	engine := newTestEngine(t, newTestDB(t))
	ctx := context.Background()

	if err := engine.Update(ctx, Patch{Device: DevicePatch{Muted: library.Pointer(true)}}, UpdateOptions{}); err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}
	state, err := engine.Load(ctx)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if !state.Device.Muted {
		t.Fatalf("expected muted device")
	}
	if state.Sync.ModifiedTime != "" {
		t.Fatalf("device-only write must not stamp the sync partition")
	}
}

func TestUpdateRollsBackCacheOnPersistFailure(t *testing.T) {
	db := newTestDB(t)
	engine := newTestEngine(t, db)
	ctx := context.Background()

	if _, err := engine.Load(ctx); err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if err := db.Exec("DROP TABLE settings").Error; err != nil {
		t.Fatalf("failed to break store: %v", err)
	}

	err := engine.Update(ctx, Patch{Device: DevicePatch{Language: library.Pointer("fr")}}, UpdateOptions{})
	if err == nil {
		t.Fatalf("expected persist failure")
	}

	state, loadErr := engine.Load(ctx)
	if loadErr != nil {
		t.Fatalf("unexpected load error: %v", loadErr)
	}
	if state.Device.Language != "en" {
		t.Fatalf("failed update must roll the cache back, got language %q", state.Device.Language)
	}
}

func TestApplyRemotePreservesRemoteModifiedTime(t *testing.T) {
	db := newTestDB(t)
	engine := newTestEngine(t, db)
	ctx := context.Background()

	order := []string{"cat-2", "cat-1"}
	remoteStamp := "2030-06-01T10:00:00.000Z"
	err := engine.ApplyRemote(ctx, SyncPatch{
		Lessons: &GroupingDisplayPatch{CategoryOrder: &order},
	}, remoteStamp)
	if err != nil {
		t.Fatalf("unexpected apply error: %v", err)
	}

	reloaded, err := newTestEngine(t, db).Load(ctx)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if reloaded.Sync.ModifiedTime != remoteStamp {
		t.Fatalf("expected remote stamp %q, got %q", remoteStamp, reloaded.Sync.ModifiedTime)
	}
	if len(reloaded.Sync.Lessons.CategoryOrder) != 2 || reloaded.Sync.Lessons.CategoryOrder[0] != "cat-2" {
		t.Fatalf("unexpected category order: %#v", reloaded.Sync.Lessons.CategoryOrder)
	}
}

func TestToggleCollapsedGroup(t *testing.T) {
	engine := newTestEngine(t, newTestDB(t))
	ctx := context.Background()

	if err := engine.ToggleCollapsedGroup(ctx, library.ItemTypeLesson, "cat-1"); err != nil {
		t.Fatalf("unexpected toggle error: %v", err)
	}
	state, _ := engine.Load(ctx)
	if len(state.Device.CollapsedLessonGroups) != 1 || state.Device.CollapsedLessonGroups[0] != "cat-1" {
		t.Fatalf("expected cat-1 collapsed, got %#v", state.Device.CollapsedLessonGroups)
	}
	if len(state.Device.CollapsedFigureGroups) != 0 {
		t.Fatalf("figure groups must stay untouched")
	}

	if err := engine.ToggleCollapsedGroup(ctx, library.ItemTypeLesson, "cat-1"); err != nil {
		t.Fatalf("unexpected toggle error: %v", err)
	}
	state, _ = engine.Load(ctx)
	if len(state.Device.CollapsedLessonGroups) != 0 {
		t.Fatalf("expected second toggle to expand, got %#v", state.Device.CollapsedLessonGroups)
	}
}

func TestToggleMuted(t *testing.T) {
	engine := newTestEngine(t, newTestDB(t))
	ctx := context.Background()

	if err := engine.ToggleMuted(ctx); err != nil {
		t.Fatalf("unexpected toggle error: %v", err)
	}
	state, _ := engine.Load(ctx)
	if !state.Device.Muted {
		t.Fatalf("expected muted after first toggle")
	}
	if err := engine.ToggleMuted(ctx); err != nil {
		t.Fatalf("unexpected toggle error: %v", err)
	}
	state, _ = engine.Load(ctx)
	if state.Device.Muted {
		t.Fatalf("expected unmuted after second toggle")
	}
}

func TestInvalidateForcesReread(t *testing.T) {
	db := newTestDB(t)
	engine := newTestEngine(t, db)
	ctx := context.Background()

	if _, err := engine.Load(ctx); err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}

	// Simulate a bulk overwrite behind the engine's back.
	row, err := EncodeSyncRow(SyncSettings{LastSyncTime: "2030-01-01T00:00:00.000Z", ModifiedTime: "2030-01-01T00:00:00.000Z"})
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("failed to write row: %v", err)
	}

	state, _ := engine.Load(ctx)
	if state.Sync.LastSyncTime != "" {
		t.Fatalf("cached load must not see the overwrite yet")
	}

	engine.Invalidate()
	state, err = engine.Load(ctx)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if state.Sync.LastSyncTime != "2030-01-01T00:00:00.000Z" {
		t.Fatalf("expected re-read after invalidate, got %q", state.Sync.LastSyncTime)
	}
}

func TestUpdateNotifiesUnlessSilent(t *testing.T) {
	db := newTestDB(t)
	windowDone := make(chan time.Time)
	notifier := library.NewNotifier(time.Minute, func(time.Duration) <-chan time.Time {
		return windowDone
	})
	t.Cleanup(notifier.Close)

	engine, err := NewEngine(Config{Database: db, Clock: newManualClock().Now, Notifier: notifier})
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}
	stream, cancel := notifier.Subscribe()
	defer cancel()
	ctx := context.Background()

	if err := engine.Update(ctx, Patch{Device: DevicePatch{Volume: library.Pointer(0.2)}}, UpdateOptions{Silent: true}); err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}
	select {
	case <-stream:
		t.Fatalf("silent update must not notify")
	case <-time.After(50 * time.Millisecond):
	}

	if err := engine.Update(ctx, Patch{Device: DevicePatch{Volume: library.Pointer(0.7)}}, UpdateOptions{}); err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}
	windowDone <- time.Now()
	select {
	case <-stream:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for change signal")
	}
}

func TestConcurrentLoadsShareOneRead(t *testing.T) {
	db := newTestDB(t)
	engine := newTestEngine(t, db)
	ctx := context.Background()

	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			_, err := engine.Load(ctx)
			done <- err
		}()
	}
	for i := 0; i < 8; i++ {
		if err := <-done; err != nil {
			t.Fatalf("unexpected load error: %v", err)
		}
	}
}
