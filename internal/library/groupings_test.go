package library

import (
	"context"
	"errors"
	"testing"
)

func TestAddGroupingGeneratesIDWhenEmpty(t *testing.T) {
	service, _ := newTestService(t)
	grouping := mustAddGrouping(t, service, GroupingSchool, NewGrouping{Name: "Academy"})
	if grouping.ID == "" {
		t.Fatalf("expected generated id")
	}
	if grouping.ModifiedTime == "" {
		t.Fatalf("expected modified time stamp")
	}
}

func TestAddGroupingHonorsExplicitID(t *testing.T) {
	service, _ := newTestService(t)
	grouping := mustAddGrouping(t, service, GroupingInstructor, NewGrouping{ID: "remote-7", Name: "Ada"})
	if grouping.ID != "remote-7" {
		t.Fatalf("expected remote id to be kept, got %q", grouping.ID)
	}
	loaded, err := service.GetGrouping(context.Background(), GroupingInstructor, "remote-7")
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if loaded.Name != "Ada" {
		t.Fatalf("unexpected name: %q", loaded.Name)
	}
}

func TestGroupingKindsAreIsolated(t *testing.T) {
	service, _ := newTestService(t)
	mustAddGrouping(t, service, GroupingLessonCategory, NewGrouping{Name: "Salsa"})

	if _, err := service.GetGrouping(context.Background(), GroupingFigureCategory, "id-001"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("lesson category must not be visible as figure category, got %v", err)
	}
	listed, err := service.ListGroupings(context.Background(), GroupingLessonCategory)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected one lesson category, got %d", len(listed))
	}
}

func TestUpdateGrouping(t *testing.T) {
	service, _ := newTestService(t)
	grouping := mustAddGrouping(t, service, GroupingSchool, NewGrouping{Name: "Old"})

	updated, err := service.UpdateGrouping(context.Background(), GroupingSchool, grouping.ID, GroupingPatch{
		Name:    Pointer("New"),
		DriveID: Pointer(Pointer("drive-school")),
	})
	if err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}
	if updated.Name != "New" {
		t.Fatalf("unexpected name: %q", updated.Name)
	}
	if updated.DriveID == nil || *updated.DriveID != "drive-school" {
		t.Fatalf("unexpected drive id: %#v", updated.DriveID)
	}
	if updated.ModifiedTime <= grouping.ModifiedTime {
		t.Fatalf("expected modified time to advance")
	}
}

func TestDeleteGroupingNullsItemReferences(t *testing.T) {
	service, _ := newTestService(t)
	school := mustAddGrouping(t, service, GroupingSchool, NewGrouping{Name: "Academy"})
	lesson := mustAddLesson(t, service, NewLesson{SchoolID: &school.ID}, []byte("v"))
	figure := mustAddFigure(t, service, NewFigure{LessonID: lesson.ID, Name: "spin", SchoolID: &school.ID})

	if err := service.DeleteGrouping(context.Background(), GroupingSchool, school.ID, DeleteOptions{}); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}

	reloadedLesson, err := service.GetLesson(context.Background(), lesson.ID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if reloadedLesson.SchoolID != nil {
		t.Fatalf("expected lesson school reference to clear")
	}
	if reloadedLesson.ModifiedTime <= lesson.ModifiedTime {
		t.Fatalf("expected lesson modified time to advance on reference clear")
	}
	reloadedFigure, err := service.GetFigure(context.Background(), figure.ID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if reloadedFigure.SchoolID != nil {
		t.Fatalf("expected figure school reference to clear")
	}
}

func TestDeleteGroupingCategoryScopedToItsItemTable(t *testing.T) {
	service, _ := newTestService(t)
	lessonCategory := mustAddGrouping(t, service, GroupingLessonCategory, NewGrouping{ID: "cat-1", Name: "Salsa"})
	figureCategory := mustAddGrouping(t, service, GroupingFigureCategory, NewGrouping{ID: "cat-1", Name: "Turns"})
	lesson := mustAddLesson(t, service, NewLesson{CategoryID: &lessonCategory.ID}, []byte("v"))
	figure := mustAddFigure(t, service, NewFigure{LessonID: lesson.ID, Name: "spin", CategoryID: &figureCategory.ID})

	if err := service.DeleteGrouping(context.Background(), GroupingLessonCategory, "cat-1", DeleteOptions{}); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}

	reloadedLesson, err := service.GetLesson(context.Background(), lesson.ID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if reloadedLesson.CategoryID != nil {
		t.Fatalf("expected lesson category reference to clear")
	}
	reloadedFigure, err := service.GetFigure(context.Background(), figure.ID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if reloadedFigure.CategoryID == nil || *reloadedFigure.CategoryID != "cat-1" {
		t.Fatalf("figure category must survive a lesson category delete, got %#v", reloadedFigure.CategoryID)
	}
}

func TestDeleteGroupingTombstonesDriveBackedRow(t *testing.T) {
	service, _ := newTestService(t)
	school := mustAddGrouping(t, service, GroupingSchool, NewGrouping{Name: "Academy", DriveID: Pointer("drive-school")})

	if err := service.DeleteGrouping(context.Background(), GroupingSchool, school.ID, DeleteOptions{}); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	tombstoned, err := service.IsTombstoned(context.Background(), "drive-school")
	if err != nil || !tombstoned {
		t.Fatalf("expected tombstone, got %v / %v", tombstoned, err)
	}
}

func TestDeleteGroupingSkipTombstoneOption(t *testing.T) {
	service, db := newTestService(t)
	school := mustAddGrouping(t, service, GroupingSchool, NewGrouping{Name: "Academy", DriveID: Pointer("drive-school")})

	if err := service.DeleteGrouping(context.Background(), GroupingSchool, school.ID, DeleteOptions{SkipTombstone: true}); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if got := countRows(t, db, "drive_tombstones"); got != 0 {
		t.Fatalf("expected no tombstones, found %d", got)
	}
}

func TestDeleteGroupingMissingIsNoop(t *testing.T) {
	service, _ := newTestService(t)
	if err := service.DeleteGrouping(context.Background(), GroupingSchool, "absent", DeleteOptions{}); err != nil {
		t.Fatalf("expected missing delete to be a no-op, got %v", err)
	}
}

func TestListGroupingsInsertionOrder(t *testing.T) {
	service, _ := newTestService(t)
	mustAddGrouping(t, service, GroupingInstructor, NewGrouping{Name: "Zora"})
	mustAddGrouping(t, service, GroupingInstructor, NewGrouping{Name: "Ada"})

	listed, err := service.ListGroupings(context.Background(), GroupingInstructor)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(listed) != 2 || listed[0].Name != "Zora" || listed[1].Name != "Ada" {
		t.Fatalf("expected insertion order regardless of name, got %#v", listed)
	}
}
