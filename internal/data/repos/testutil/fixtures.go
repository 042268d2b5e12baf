package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/nexston/bekola-backend/internal/domain"
	"github.com/nexston/bekola-backend/internal/domain/learning"
	"github.com/nexston/bekola-backend/internal/domain/media"
)

func SeedUser(tb testing.TB, ctx context.Context, tx *gorm.DB, email, fullName, gender string) *types.User {
	tb.Helper()
	u := &types.User{
		ID:       uuid.New(),
		Email:    email,
		FullName: fullName,
		Gender:   gender,
	}
	if err := tx.WithContext(ctx).Create(u).Error; err != nil {
		tb.Fatalf("seed user: %v", err)
	}
	return u
}

func SeedCourse(tb testing.TB, ctx context.Context, tx *gorm.DB, title string) *types.Course {
	tb.Helper()
	c := &types.Course{ID: uuid.New(), Title: title}
	if err := tx.WithContext(ctx).Create(c).Error; err != nil {
		tb.Fatalf("seed course: %v", err)
	}
	return c
}

// SeedVideo creates a ready video of the given duration; duration <= 0 leaves
// its duration unknown.
func SeedVideo(tb testing.TB, ctx context.Context, tx *gorm.DB, courseID uuid.UUID, duration float64) *types.VideoAsset {
	tb.Helper()
	v := &types.VideoAsset{
		ID:       uuid.New(),
		CourseID: courseID,
		Title:    "lesson",
		Stage:    media.StageReady,
		Status:   media.StatusReady,
		Progress: 100,
	}
	if duration > 0 {
		v.DurationSeconds = &duration
	}
	if err := tx.WithContext(ctx).Create(v).Error; err != nil {
		tb.Fatalf("seed video: %v", err)
	}
	return v
}

// SeedTest creates a test whose questions carry the given correct answers,
// one mark each.
func SeedTest(tb testing.TB, ctx context.Context, tx *gorm.DB, courseID uuid.UUID, correct ...string) (*types.Test, []*types.Question) {
	tb.Helper()
	t := &types.Test{ID: uuid.New(), CourseID: courseID, Title: "quiz"}
	if err := tx.WithContext(ctx).Create(t).Error; err != nil {
		tb.Fatalf("seed test: %v", err)
	}
	base := time.Now().UTC().Add(-time.Hour)
	qs := make([]*types.Question, 0, len(correct))
	for i, c := range correct {
		qs = append(qs, &types.Question{
			ID:            uuid.New(),
			TestID:        t.ID,
			Text:          "question",
			OptionA:       "a",
			OptionB:       "b",
			OptionC:       "c",
			OptionD:       "d",
			CorrectAnswer: c,
			Marks:         1,
			CreatedAt:     base.Add(time.Duration(i) * time.Second),
		})
	}
	if len(qs) > 0 {
		if err := tx.WithContext(ctx).Create(&qs).Error; err != nil {
			tb.Fatalf("seed questions: %v", err)
		}
	}
	return t, qs
}

func SeedVideoModule(tb testing.TB, ctx context.Context, tx *gorm.DB, courseID uuid.UUID, order int, videoID uuid.UUID) *types.ModuleItem {
	tb.Helper()
	m := &types.ModuleItem{
		ID:       uuid.New(),
		CourseID: courseID,
		Order:    order,
		Kind:     learning.ModuleKindVideo,
		Title:    "video",
		VideoID:  &videoID,
	}
	if err := tx.WithContext(ctx).Create(m).Error; err != nil {
		tb.Fatalf("seed video module: %v", err)
	}
	return m
}

func SeedTestModule(tb testing.TB, ctx context.Context, tx *gorm.DB, courseID uuid.UUID, order int, testID uuid.UUID) *types.ModuleItem {
	tb.Helper()
	m := &types.ModuleItem{
		ID:       uuid.New(),
		CourseID: courseID,
		Order:    order,
		Kind:     learning.ModuleKindTest,
		Title:    "test",
		TestID:   &testID,
	}
	if err := tx.WithContext(ctx).Create(m).Error; err != nil {
		tb.Fatalf("seed test module: %v", err)
	}
	return m
}

func SeedEnrollment(tb testing.TB, ctx context.Context, tx *gorm.DB, userID, courseID uuid.UUID, status string, paymentDate *time.Time) *types.Enrollment {
	tb.Helper()
	e := &types.Enrollment{
		ID:          uuid.New(),
		UserID:      userID,
		CourseID:    courseID,
		Status:      status,
		EnrolledAt:  time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
		PaymentDate: paymentDate,
	}
	if err := tx.WithContext(ctx).Create(e).Error; err != nil {
		tb.Fatalf("seed enrollment: %v", err)
	}
	return e
}

// FixturePaymentDate is the payment date of seeded paid enrollments.
var FixturePaymentDate = time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)

// CourseFixture is a paid learner on a course of video, video, test.
type CourseFixture struct {
	User       *types.User
	Course     *types.Course
	Videos     []*types.VideoAsset
	Test       *types.Test
	Questions  []*types.Question
	Modules    []*types.ModuleItem
	Enrollment *types.Enrollment
}

func SeedCourseFixture(tb testing.TB, ctx context.Context, tx *gorm.DB) *CourseFixture {
	tb.Helper()
	f := &CourseFixture{}
	f.User = SeedUser(tb, ctx, tx, uuid.NewString()+"@example.com", "ada lovelace", "female")
	f.Course = SeedCourse(tb, ctx, tx, "Go Internship")
	v1 := SeedVideo(tb, ctx, tx, f.Course.ID, 100)
	v2 := SeedVideo(tb, ctx, tx, f.Course.ID, 200)
	f.Videos = []*types.VideoAsset{v1, v2}
	f.Test, f.Questions = SeedTest(tb, ctx, tx, f.Course.ID, "A", "B", "C", "D")
	f.Modules = []*types.ModuleItem{
		SeedVideoModule(tb, ctx, tx, f.Course.ID, 1, v1.ID),
		SeedVideoModule(tb, ctx, tx, f.Course.ID, 2, v2.ID),
		SeedTestModule(tb, ctx, tx, f.Course.ID, 3, f.Test.ID),
	}
	f.Enrollment = SeedEnrollment(tb, ctx, tx, f.User.ID, f.Course.ID, learning.EnrollmentStatusCompleted, PtrTime(FixturePaymentDate))
	return f
}

func PtrTime(t time.Time) *time.Time { return &t }

func PtrUUID(id uuid.UUID) *uuid.UUID { return &id }
