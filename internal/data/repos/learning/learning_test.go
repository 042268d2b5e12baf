package learning

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nexston/bekola-backend/internal/data/repos/testutil"
	types "github.com/nexston/bekola-backend/internal/domain"
	"github.com/nexston/bekola-backend/internal/platform/dbctx"
)

func TestModuleItemRepoOrdering(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	f := testutil.SeedCourseFixture(t, ctx, tx)
	repo := NewModuleItemRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	items, err := repo.ListByCourse(dbc, f.Course.ID)
	if err != nil {
		t.Fatalf("ListByCourse: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("ListByCourse: expected 3, got %d", len(items))
	}
	for i, it := range items {
		if it.ID != f.Modules[i].ID {
			t.Fatalf("ListByCourse[%d]: expected %s got %s", i, f.Modules[i].ID, it.ID)
		}
	}

	first, err := repo.GetFirst(dbc, f.Course.ID)
	if err != nil || first == nil || first.ID != f.Modules[0].ID {
		t.Fatalf("GetFirst: err=%v got=%v", err, first)
	}
	next, err := repo.GetNext(dbc, f.Course.ID, f.Modules[1].Order)
	if err != nil || next == nil || next.ID != f.Modules[2].ID {
		t.Fatalf("GetNext: err=%v got=%v", err, next)
	}
	last, err := repo.GetNext(dbc, f.Course.ID, f.Modules[2].Order)
	if err != nil || last != nil {
		t.Fatalf("GetNext(last): err=%v got=%v", err, last)
	}

	byVideo, err := repo.GetByVideoID(dbc, f.Videos[1].ID)
	if err != nil || byVideo == nil || byVideo.ID != f.Modules[1].ID {
		t.Fatalf("GetByVideoID: err=%v got=%v", err, byVideo)
	}
	byTest, err := repo.GetByTestID(dbc, f.Test.ID)
	if err != nil || byTest == nil || byTest.ID != f.Modules[2].ID {
		t.Fatalf("GetByTestID: err=%v got=%v", err, byTest)
	}
	if missing, err := repo.GetByVideoID(dbc, uuid.New()); err != nil || missing != nil {
		t.Fatalf("GetByVideoID(missing): err=%v got=%v", err, missing)
	}
}

func TestModuleItemRejectsMismatchedKind(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	repo := NewModuleItemRepo(db, testutil.Logger(t))

	testID := uuid.New()
	_, err := repo.Create(dbctx.Context{Ctx: ctx, Tx: tx}, []*types.ModuleItem{{
		CourseID: uuid.New(),
		Order:    1,
		Kind:     "video",
		TestID:   &testID,
	}})
	if err == nil {
		t.Fatalf("Create: expected validation error for video module with test_id")
	}
}

func TestEnrollmentMarkCourseCompletedStampsOnce(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	f := testutil.SeedCourseFixture(t, ctx, tx)
	repo := NewEnrollmentRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	first := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := repo.MarkCourseCompleted(dbc, f.Enrollment.ID, first); err != nil {
		t.Fatalf("MarkCourseCompleted: %v", err)
	}
	if err := repo.MarkCourseCompleted(dbc, f.Enrollment.ID, first.Add(48*time.Hour)); err != nil {
		t.Fatalf("MarkCourseCompleted(again): %v", err)
	}
	e, err := repo.GetForUpdate(dbc, f.User.ID, f.Course.ID)
	if err != nil || e == nil {
		t.Fatalf("GetForUpdate: err=%v got=%v", err, e)
	}
	if e.CourseCompletedAt == nil || !e.CourseCompletedAt.Equal(first) {
		t.Fatalf("course_completed_at: expected %v got %v", first, e.CourseCompletedAt)
	}
	if !e.IsCompleted() {
		t.Fatalf("status: expected completed got %q", e.Status)
	}
}

func TestVideoProgressGetOrCreateForUpdate(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	repo := NewVideoProgressRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	userID, videoID := uuid.New(), uuid.New()
	p, err := repo.GetOrCreateForUpdate(dbc, userID, videoID)
	if err != nil || p == nil {
		t.Fatalf("GetOrCreateForUpdate: err=%v got=%v", err, p)
	}
	if p.WatchedSeconds != 0 || p.IsCompleted {
		t.Fatalf("new row: expected zero state, got %+v", p)
	}

	p.WatchedSeconds = 42
	p.LastPosition = 50
	if err := repo.Save(dbc, p); err != nil {
		t.Fatalf("Save: %v", err)
	}
	again, err := repo.GetOrCreateForUpdate(dbc, userID, videoID)
	if err != nil || again == nil {
		t.Fatalf("GetOrCreateForUpdate(again): err=%v got=%v", err, again)
	}
	if again.ID != p.ID || again.WatchedSeconds != 42 || again.LastPosition != 50 {
		t.Fatalf("GetOrCreateForUpdate(again): expected saved row, got %+v", again)
	}
}

func TestContentProgressAndUnlockUpserts(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	log := testutil.Logger(t)
	cp := NewContentProgressRepo(db, log)
	mu := NewModuleUnlockRepo(db, log)
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	userID, m1, m2 := uuid.New(), uuid.New(), uuid.New()
	at := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		if err := cp.MarkCompleted(dbc, userID, m1, at.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatalf("MarkCompleted[%d]: %v", i, err)
		}
		if err := mu.Unlock(dbc, userID, m2, at.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatalf("Unlock[%d]: %v", i, err)
		}
	}

	var rows []*types.ContentProgress
	if err := tx.Where("user_id = ?", userID).Find(&rows).Error; err != nil {
		t.Fatalf("load content_progress: %v", err)
	}
	if len(rows) != 1 || rows[0].CompletedAt == nil || !rows[0].CompletedAt.Equal(at) {
		t.Fatalf("content_progress: expected one row completed at %v, got %+v", at, rows)
	}

	done, err := cp.CompletedModuleIDs(dbc, userID, []uuid.UUID{m1, m2})
	if err != nil {
		t.Fatalf("CompletedModuleIDs: %v", err)
	}
	if !done[m1] || done[m2] {
		t.Fatalf("CompletedModuleIDs: got %v", done)
	}
	unlocked, err := mu.UnlockedModuleIDs(dbc, userID, []uuid.UUID{m1, m2})
	if err != nil {
		t.Fatalf("UnlockedModuleIDs: %v", err)
	}
	if unlocked[m1] || !unlocked[m2] {
		t.Fatalf("UnlockedModuleIDs: got %v", unlocked)
	}
}

func TestTestAttemptRepoPassing(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	f := testutil.SeedCourseFixture(t, ctx, tx)
	repo := NewTestAttemptRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	failing := &types.TestAttempt{
		UserID:      f.User.ID,
		TestID:      f.Test.ID,
		CourseID:    f.Course.ID,
		Score:       1,
		TotalMarks:  4,
		SubmittedAt: time.Now().UTC().Add(-time.Minute),
		Answers: []*types.AnswerRecord{
			{QuestionID: f.Questions[0].ID, Selected: "A", IsCorrect: true, MarksAwarded: 1},
		},
	}
	if err := repo.Create(dbc, failing); err != nil {
		t.Fatalf("Create(failing): %v", err)
	}
	passed, err := repo.HasPassed(dbc, f.User.ID, f.Test.ID)
	if err != nil || passed {
		t.Fatalf("HasPassed after failing attempt: err=%v got=%v", err, passed)
	}

	passing := &types.TestAttempt{
		UserID:     f.User.ID,
		TestID:     f.Test.ID,
		CourseID:   f.Course.ID,
		Score:      2,
		TotalMarks: 4,
	}
	if err := repo.Create(dbc, passing); err != nil {
		t.Fatalf("Create(passing): %v", err)
	}
	passed, err = repo.HasPassed(dbc, f.User.ID, f.Test.ID)
	if err != nil || !passed {
		t.Fatalf("HasPassed after 2/4: err=%v got=%v", err, passed)
	}
	ids, err := repo.PassedTestIDs(dbc, f.User.ID, []uuid.UUID{f.Test.ID, uuid.New()})
	if err != nil || len(ids) != 1 || !ids[f.Test.ID] {
		t.Fatalf("PassedTestIDs: err=%v got=%v", err, ids)
	}

	history, err := repo.ListByUserCourse(dbc, f.User.ID, f.Course.ID)
	if err != nil || len(history) != 2 {
		t.Fatalf("ListByUserCourse: err=%v len=%d", err, len(history))
	}
	if history[0].ID != passing.ID {
		t.Fatalf("ListByUserCourse: expected newest first")
	}
	got, err := repo.GetByID(dbc, failing.ID)
	if err != nil || got == nil || len(got.Answers) != 1 || got.Answers[0].Selected != "A" {
		t.Fatalf("GetByID: err=%v got=%+v", err, got)
	}
}
