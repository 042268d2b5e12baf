package services

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nexston/bekola-backend/internal/data/repos/testutil"
	"github.com/nexston/bekola-backend/internal/domain/learning"
	"github.com/nexston/bekola-backend/internal/platform/apierr"
)

func TestEnsureFirstModuleUnlockedIdempotent(t *testing.T) {
	h := newHarness(t)
	f := testutil.SeedCourseFixture(t, h.ctx, h.db)

	for i := 0; i < 2; i++ {
		if err := h.unlock.EnsureFirstModuleUnlocked(h.dbc(), f.User.ID, f.Course.ID); err != nil {
			t.Fatalf("EnsureFirstModuleUnlocked #%d: %v", i, err)
		}
	}
	if !h.isUnlocked(t, f.User.ID, f.Modules[0].ID) {
		t.Fatalf("first module should be unlocked")
	}
	if h.isUnlocked(t, f.User.ID, f.Modules[1].ID) {
		t.Fatalf("second module should still be locked")
	}
}

func TestEnsureFirstModuleUnlockedRequiresEnrollment(t *testing.T) {
	h := newHarness(t)
	f := testutil.SeedCourseFixture(t, h.ctx, h.db)
	stranger := testutil.SeedUser(t, h.ctx, h.db, uuid.NewString()+"@example.com", "x", "")

	err := h.unlock.EnsureFirstModuleUnlocked(h.dbc(), stranger.ID, f.Course.ID)
	requireKind(t, err, apierr.ErrNotFound)
}

func TestOnModuleCompletedAdvancesFrontierOnce(t *testing.T) {
	h := newHarness(t)
	f := testutil.SeedCourseFixture(t, h.ctx, h.db)
	dbc := h.dbc()

	for i := 0; i < 2; i++ {
		if err := h.unlock.OnModuleCompleted(dbc, f.User.ID, f.Modules[0].ID); err != nil {
			t.Fatalf("OnModuleCompleted: %v", err)
		}
	}
	if !h.isUnlocked(t, f.User.ID, f.Modules[1].ID) {
		t.Fatalf("module 2 should be unlocked")
	}
	if h.isUnlocked(t, f.User.ID, f.Modules[2].ID) {
		t.Fatalf("module 3 must not be unlocked by module 1")
	}
	if e := h.enrollment(t, f.User.ID, f.Course.ID); e.CourseCompletedAt != nil {
		t.Fatalf("course should not be complete yet")
	}

	if err := h.unlock.OnModuleCompleted(dbc, f.User.ID, f.Modules[2].ID); err != nil {
		t.Fatalf("OnModuleCompleted last: %v", err)
	}
	first := h.enrollment(t, f.User.ID, f.Course.ID)
	if first.Status != learning.EnrollmentStatusCompleted || first.CourseCompletedAt == nil {
		t.Fatalf("enrollment after last module = %+v", first)
	}

	time.Sleep(10 * time.Millisecond)
	if err := h.unlock.OnModuleCompleted(dbc, f.User.ID, f.Modules[2].ID); err != nil {
		t.Fatalf("OnModuleCompleted repeat: %v", err)
	}
	again := h.enrollment(t, f.User.ID, f.Course.ID)
	if !again.CourseCompletedAt.Equal(*first.CourseCompletedAt) {
		t.Fatalf("course_completed_at moved: %v -> %v", first.CourseCompletedAt, again.CourseCompletedAt)
	}
}

func TestOnModuleCompletedNotFound(t *testing.T) {
	h := newHarness(t)
	f := testutil.SeedCourseFixture(t, h.ctx, h.db)

	requireKind(t, h.unlock.OnModuleCompleted(h.dbc(), f.User.ID, uuid.New()), apierr.ErrNotFound)

	stranger := testutil.SeedUser(t, h.ctx, h.db, uuid.NewString()+"@example.com", "x", "")
	requireKind(t, h.unlock.OnModuleCompleted(h.dbc(), stranger.ID, f.Modules[0].ID), apierr.ErrNotFound)
}

func TestComputeModuleViewReconcilesMissingRows(t *testing.T) {
	h := newHarness(t)
	f := testutil.SeedCourseFixture(t, h.ctx, h.db)

	// Completion recorded without the unlock cascade, as rows written before
	// unlock rows existed would be.
	if err := h.r.ContentProgress.MarkCompleted(h.dbc(), f.User.ID, f.Modules[0].ID, time.Now().UTC()); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	view, err := h.unlock.ComputeModuleView(h.dbc(), f.User.ID, f.Course.ID)
	if err != nil {
		t.Fatalf("ComputeModuleView: %v", err)
	}
	if len(view) != 3 {
		t.Fatalf("len(view) = %d", len(view))
	}
	want := []bool{true, true, false}
	for i, v := range view {
		if v.Unlocked != want[i] {
			t.Fatalf("module %d unlocked = %v, want %v", i, v.Unlocked, want[i])
		}
		if got := h.isUnlocked(t, f.User.ID, v.ModuleID); got != v.Unlocked {
			t.Fatalf("module %d persisted = %v, view = %v", i, got, v.Unlocked)
		}
	}
	if !view[0].Completed || view[1].Completed {
		t.Fatalf("completed flags = %v %v", view[0].Completed, view[1].Completed)
	}
	if view[0].Kind != learning.ModuleKindVideo || view[0].ItemID != f.Videos[0].ID || !view[0].Ready {
		t.Fatalf("video module view = %+v", view[0])
	}
	if view[2].Kind != learning.ModuleKindTest || view[2].ItemID != f.Test.ID {
		t.Fatalf("test module view = %+v", view[2])
	}
}

func TestComputeModuleViewCountsPassedTest(t *testing.T) {
	h := newHarness(t)
	f := testutil.SeedCourseFixture(t, h.ctx, h.db)
	extra := testutil.SeedVideo(t, h.ctx, h.db, f.Course.ID, 50)
	after := testutil.SeedVideoModule(t, h.ctx, h.db, f.Course.ID, 4, extra.ID)

	// A passing attempt alone, with no content row, still opens the next module.
	if err := h.r.TestAttempt.Create(h.dbc(), testAttempt(f.User.ID, f.Test.ID, f.Course.ID, 3, 4)); err != nil {
		t.Fatalf("create attempt: %v", err)
	}
	view, err := h.unlock.ComputeModuleView(h.dbc(), f.User.ID, f.Course.ID)
	if err != nil {
		t.Fatalf("ComputeModuleView: %v", err)
	}
	last := view[len(view)-1]
	if last.ModuleID != after.ID || !last.Unlocked {
		t.Fatalf("module after passed test = %+v", last)
	}
	if !view[2].Completed {
		t.Fatalf("passed test module should read as completed")
	}
}

func TestComputeModuleViewRequiresEnrollment(t *testing.T) {
	h := newHarness(t)
	f := testutil.SeedCourseFixture(t, h.ctx, h.db)
	_, err := h.unlock.ComputeModuleView(h.dbc(), uuid.New(), f.Course.ID)
	requireKind(t, err, apierr.ErrNotFound)
}
