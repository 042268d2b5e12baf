package services

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nexston/bekola-backend/internal/data/repos/testutil"
	"github.com/nexston/bekola-backend/internal/domain/learning"
	"github.com/nexston/bekola-backend/internal/platform/mailer"
	"github.com/nexston/bekola-backend/internal/realtime/bus"
)

// A learner watches the video, passes the test and receives a certificate.
func TestLearnerJourney(t *testing.T) {
	h := newHarness(t)
	user := testutil.SeedUser(t, h.ctx, h.db, uuid.NewString()+"@example.com", "alan turing", "male")
	course := testutil.SeedCourse(t, h.ctx, h.db, "Backend Internship")
	video := testutil.SeedVideo(t, h.ctx, h.db, course.ID, 100)
	correct := make([]string, 10)
	for i := range correct {
		correct[i] = "B"
	}
	test, qs := testutil.SeedTest(t, h.ctx, h.db, course.ID, correct...)
	videoModule := testutil.SeedVideoModule(t, h.ctx, h.db, course.ID, 1, video.ID)
	testModule := testutil.SeedTestModule(t, h.ctx, h.db, course.ID, 2, test.ID)
	testutil.SeedEnrollment(t, h.ctx, h.db, user.ID, course.ID, learning.EnrollmentStatusCompleted, testutil.PtrTime(testutil.FixturePaymentDate))

	if err := h.unlock.EnsureFirstModuleUnlocked(h.dbc(), user.ID, course.ID); err != nil {
		t.Fatalf("EnsureFirstModuleUnlocked: %v", err)
	}
	if !h.isUnlocked(t, user.ID, videoModule.ID) || h.isUnlocked(t, user.ID, testModule.ID) {
		t.Fatalf("only the video should start unlocked")
	}

	progress := h.progress(t, ProgressConfig{Mode: ProgressModeDelta, MaxForwardSkip: 15, CompletionRatio: 0.9})
	var last *ProgressResult
	for pos := 10.0; pos <= 90; pos += 10 {
		res, err := progress.ReportProgress(h.dbc(), user.ID, video.ID, pos)
		if err != nil {
			t.Fatalf("ReportProgress(%v): %v", pos, err)
		}
		last = res
	}
	if !last.IsCompleted || last.WatchedSeconds != 100 {
		t.Fatalf("video progress = %+v", last)
	}
	if !h.isUnlocked(t, user.ID, testModule.ID) {
		t.Fatalf("test module should unlock after the video")
	}

	answers := make(map[uuid.UUID]string, len(qs))
	for i, q := range qs {
		answers[q.ID] = "B"
		if i >= 6 {
			answers[q.ID] = "C"
		}
	}
	graded, err := h.grading().Submit(h.dbc(), user.ID, course.ID, test.ID, answers)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !graded.Passed || graded.Score != 6 || graded.Total != 10 {
		t.Fatalf("graded = %+v", graded)
	}
	if h.enrollment(t, user.ID, course.ID).CourseCompletedAt == nil {
		t.Fatalf("course should be complete")
	}

	view, err := h.unlock.ComputeModuleView(h.dbc(), user.ID, course.ID)
	if err != nil {
		t.Fatalf("ComputeModuleView: %v", err)
	}
	for _, m := range view {
		if !m.Unlocked || !m.Completed {
			t.Fatalf("module %d = %+v", m.Order, m)
		}
	}

	cfg := CertificateConfig{
		RefPrefix:        "NEX/INT/2025",
		EligibilityDelay: 30 * 24 * time.Hour,
		Issuer:           "Walnex / Nexston",
		InternshipLength: 30 * 24 * time.Hour,
	}
	mail := mailer.NewLogMailer(h.log)
	certs := NewCertificateService(h.db, h.log, h.r, NewSequenceAllocator(h.r.Sequence, cfg.RefPrefix), h.store(t), fakeRenderer{}, mail, bus.NewMemory(), cfg)
	res, err := certs.SubmitProof(h.dbc(), user.ID, course.ID, "https://example.com/post/1")
	if err != nil {
		t.Fatalf("SubmitProof: %v", err)
	}
	if !res.Finalized || len(mail.Sent()) != 1 {
		t.Fatalf("certificate not issued: %+v sent=%d", res, len(mail.Sent()))
	}
	n, err := h.r.Sequence.Current(h.dbc())
	if err != nil {
		t.Fatalf("Sequence.Current: %v", err)
	}
	if res.Request.ReferenceNo != FormatReference(cfg.RefPrefix, n) {
		t.Fatalf("reference %s does not match counter %d", res.Request.ReferenceNo, n)
	}
	if !testutil.IsPostgres() && res.Request.ReferenceNo != "NEX/INT/2025/01" {
		t.Fatalf("reference = %s", res.Request.ReferenceNo)
	}

	_, err = certs.SubmitProof(h.dbc(), user.ID, course.ID, "https://example.com/post/2")
	requireCode(t, err, "certificate_already_generated")
}
