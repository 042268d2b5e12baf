package services

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nexston/bekola-backend/internal/data/repos/testutil"
	types "github.com/nexston/bekola-backend/internal/domain"
	"github.com/nexston/bekola-backend/internal/domain/learning"
	"github.com/nexston/bekola-backend/internal/platform/apierr"
	"github.com/nexston/bekola-backend/internal/platform/mailer"
	"github.com/nexston/bekola-backend/internal/platform/objectstore"
	"github.com/nexston/bekola-backend/internal/realtime"
	"github.com/nexston/bekola-backend/internal/realtime/bus"
)

const proofLink = "https://www.linkedin.com/posts/ada-internship"

type certRig struct {
	h      *harness
	store  *objectstore.Local
	mail   *mailer.LogMailer
	bus    *bus.Memory
	svc    *certificateService
	user   *types.User
	course *types.Course
}

func newCertRig(t *testing.T, now time.Time) *certRig {
	t.Helper()
	h := newHarness(t)
	rig := &certRig{
		h:     h,
		store: h.store(t),
		mail:  mailer.NewLogMailer(h.log),
		bus:   bus.NewMemory(),
	}
	cfg := CertificateConfig{
		RefPrefix:        "NEX/INT/2025",
		EligibilityDelay: 30 * 24 * time.Hour,
		Issuer:           "Walnex / Nexston",
		InternshipLength: 30 * 24 * time.Hour,
	}
	svc := NewCertificateService(h.db, h.log, h.r, NewSequenceAllocator(h.r.Sequence, cfg.RefPrefix), rig.store, fakeRenderer{}, rig.mail, rig.bus, cfg)
	rig.svc = svc.(*certificateService)
	rig.svc.now = func() time.Time { return now }

	rig.user = testutil.SeedUser(t, h.ctx, h.db, uuid.NewString()+"@example.com", "ada lovelace", "female")
	rig.course = testutil.SeedCourse(t, h.ctx, h.db, "Go Internship")
	return rig
}

func (rig *certRig) enroll(t *testing.T, status string) {
	t.Helper()
	testutil.SeedEnrollment(t, rig.h.ctx, rig.h.db, rig.user.ID, rig.course.ID, status, testutil.PtrTime(testutil.FixturePaymentDate))
}

func (rig *certRig) exists(t *testing.T, key string) bool {
	t.Helper()
	ok, err := rig.store.Exists(rig.h.ctx, key)
	if err != nil {
		t.Fatalf("Exists(%s): %v", key, err)
	}
	return ok
}

func (rig *certRig) fileName() string {
	return fmt.Sprintf("certificate_%s_%s.png", rig.user.ID, rig.course.ID)
}

var afterEligibility = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func TestSubmitProofValidation(t *testing.T) {
	rig := newCertRig(t, afterEligibility)

	for _, link := range []string{"", "not a url", "ftp://example.com/x", "/relative/path"} {
		_, err := rig.svc.SubmitProof(rig.h.dbc(), rig.user.ID, rig.course.ID, link)
		requireCode(t, err, "invalid_proof_link")
	}

	_, err := rig.svc.SubmitProof(rig.h.dbc(), rig.user.ID, rig.course.ID, proofLink)
	requireCode(t, err, "enrollment_required")

	rig.enroll(t, learning.EnrollmentStatusPending)
	_, err = rig.svc.SubmitProof(rig.h.dbc(), rig.user.ID, rig.course.ID, proofLink)
	requireKind(t, err, apierr.ErrForbidden)
}

func TestSubmitProofBeforeEligibilityStaysPending(t *testing.T) {
	rig := newCertRig(t, time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC))
	rig.enroll(t, learning.EnrollmentStatusCompleted)

	res, err := rig.svc.SubmitProof(rig.h.dbc(), rig.user.ID, rig.course.ID, proofLink)
	if err != nil {
		t.Fatalf("SubmitProof: %v", err)
	}
	if res.Finalized {
		t.Fatalf("finalized before eligibility")
	}
	if res.Request.ReferenceNo != "NEX/INT/2025/01" && !testutil.IsPostgres() {
		t.Fatalf("reference = %s", res.Request.ReferenceNo)
	}
	if !rig.exists(t, PreCertificatePrefix+rig.fileName()) {
		t.Fatalf("pre-certificate not stored")
	}
	if len(rig.mail.Sent()) != 0 {
		t.Fatalf("mail sent early")
	}

	pending, err := rig.svc.ListPending(rig.h.ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d", len(pending))
	}
	p := pending[0]
	want := testutil.FixturePaymentDate.Add(30 * 24 * time.Hour)
	if p.Email != rig.user.Email || p.CourseTitle != "Go Internship" || p.EligibleAt == nil || !p.EligibleAt.Equal(want) {
		t.Fatalf("pending row = %+v", p)
	}

	// Resubmitting replaces the proof but keeps a single request.
	res2, err := rig.svc.SubmitProof(rig.h.dbc(), rig.user.ID, rig.course.ID, proofLink+"-v2")
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if res2.Request.ID != res.Request.ID || res2.Request.ProofLink != proofLink+"-v2" {
		t.Fatalf("resubmit = %+v", res2.Request)
	}
}

func TestSubmitProofFinalizesWhenEligible(t *testing.T) {
	rig := newCertRig(t, afterEligibility)
	rig.enroll(t, learning.EnrollmentStatusCompleted)

	res, err := rig.svc.SubmitProof(rig.h.dbc(), rig.user.ID, rig.course.ID, proofLink)
	if err != nil {
		t.Fatalf("SubmitProof: %v", err)
	}
	if !res.Finalized {
		t.Fatalf("expected inline finalization")
	}

	sent := rig.mail.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent = %d", len(sent))
	}
	msg := sent[0]
	if msg.To != rig.user.Email || msg.Subject != "Certificate for Go Internship" {
		t.Fatalf("message = %+v", msg)
	}
	if !strings.HasPrefix(msg.Body, "Hi Ada Lovelace,") {
		t.Fatalf("body = %q", msg.Body)
	}
	if msg.Attachment == nil || msg.Attachment.Filename != rig.fileName() || string(msg.Attachment.Data) != "png:"+res.Request.ReferenceNo {
		t.Fatalf("attachment = %+v", msg.Attachment)
	}

	if rig.exists(t, PreCertificatePrefix+rig.fileName()) {
		t.Fatalf("pre-certificate should be moved")
	}
	if !rig.exists(t, CertificatePrefix+rig.fileName()) {
		t.Fatalf("certificate not filed")
	}
	cert, err := rig.h.r.Certificate.GetByUserCourse(rig.h.dbc(), rig.user.ID, rig.course.ID)
	if err != nil || cert == nil {
		t.Fatalf("certificate row: %v %v", cert, err)
	}
	if cert.ReferenceNo != res.Request.ReferenceNo || cert.ArtifactKey != CertificatePrefix+rig.fileName() || cert.ProofLink != proofLink {
		t.Fatalf("certificate = %+v", cert)
	}
	if req, _ := rig.h.r.CertificateRequest.GetByID(rig.h.dbc(), res.Request.ID); req != nil {
		t.Fatalf("request should be deleted")
	}

	var event bool
	for _, ev := range rig.bus.Events() {
		if ev.Name == realtime.EventCertificateSent && ev.Channel == realtime.UserChannel(rig.user.ID) {
			event = true
		}
	}
	if !event {
		t.Fatalf("certificate event not published")
	}

	ok, err := rig.svc.TryFinalize(rig.h.ctx, res.Request.ID)
	if err != nil || ok {
		t.Fatalf("second finalize = %v %v", ok, err)
	}
	if len(rig.mail.Sent()) != 1 {
		t.Fatalf("mail resent")
	}

	_, err = rig.svc.SubmitProof(rig.h.dbc(), rig.user.ID, rig.course.ID, proofLink)
	requireCode(t, err, "certificate_already_generated")
}

func TestMailFailureKeepsRequestForSweep(t *testing.T) {
	rig := newCertRig(t, afterEligibility)
	rig.enroll(t, learning.EnrollmentStatusCompleted)
	broken := &failingMailer{}
	rig.svc.mail = broken

	res, err := rig.svc.SubmitProof(rig.h.dbc(), rig.user.ID, rig.course.ID, proofLink)
	if err != nil {
		t.Fatalf("SubmitProof: %v", err)
	}
	if res.Finalized || broken.calls != 1 {
		t.Fatalf("finalized=%v calls=%d", res.Finalized, broken.calls)
	}
	if !rig.exists(t, PreCertificatePrefix+rig.fileName()) {
		t.Fatalf("pre-certificate lost")
	}

	sweep, err := rig.svc.SweepPending(rig.h.ctx)
	if err != nil {
		t.Fatalf("SweepPending: %v", err)
	}
	if sweep.Checked != 1 || sweep.Failed != 1 || sweep.Finalized != 0 {
		t.Fatalf("sweep = %+v", sweep)
	}

	rig.svc.mail = rig.mail
	sweep, err = rig.svc.SweepPending(rig.h.ctx)
	if err != nil {
		t.Fatalf("SweepPending: %v", err)
	}
	if sweep.Finalized != 1 || sweep.Failed != 0 {
		t.Fatalf("sweep = %+v", sweep)
	}
	if !rig.exists(t, CertificatePrefix+rig.fileName()) {
		t.Fatalf("certificate not filed after sweep")
	}
	rc, err := rig.store.Get(rig.h.ctx, CertificatePrefix+rig.fileName())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	if string(body) != "png:"+res.Request.ReferenceNo {
		t.Fatalf("artifact = %q", body)
	}
	if n := rig.certificateRows(t); n != 1 {
		t.Fatalf("certificate rows = %d, want 1", n)
	}
	if rig.exists(t, PreCertificatePrefix+rig.fileName()) {
		t.Fatalf("pre-certificate left behind")
	}
}

func (rig *certRig) certificateRows(t *testing.T) int64 {
	t.Helper()
	var n int64
	if err := rig.h.db.Model(&types.Certificate{}).
		Where("user_id = ? AND course_id = ?", rig.user.ID, rig.course.ID).
		Count(&n).Error; err != nil {
		t.Fatalf("count certificates: %v", err)
	}
	return n
}

func TestFilingFailureAfterEmailKeepsArtifact(t *testing.T) {
	if testutil.IsPostgres() {
		t.Skip("registers a create callback on the shared database")
	}
	rig := newCertRig(t, afterEligibility)
	rig.enroll(t, learning.EnrollmentStatusCompleted)

	var failNext atomic.Bool
	failNext.Store(true)
	err := rig.h.db.Callback().Create().Before("gorm:create").Register("test:fail_certificate_once", func(tx *gorm.DB) {
		if tx.Statement.Table == (types.Certificate{}).TableName() && failNext.CompareAndSwap(true, false) {
			_ = tx.AddError(errors.New("insert rejected"))
		}
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}

	res, err := rig.svc.SubmitProof(rig.h.dbc(), rig.user.ID, rig.course.ID, proofLink)
	if err != nil {
		t.Fatalf("SubmitProof: %v", err)
	}
	if res.Finalized {
		t.Fatalf("reported finalized although the certificate was not recorded")
	}
	if len(rig.mail.Sent()) != 1 {
		t.Fatalf("sent = %d", len(rig.mail.Sent()))
	}
	if !rig.exists(t, PreCertificatePrefix+rig.fileName()) {
		t.Fatalf("pre-certificate deleted before the certificate was recorded")
	}
	if req, _ := rig.h.r.CertificateRequest.GetByID(rig.h.dbc(), res.Request.ID); req == nil {
		t.Fatalf("request should survive the rollback")
	}
	if n := rig.certificateRows(t); n != 0 {
		t.Fatalf("certificate rows = %d", n)
	}

	sweep, err := rig.svc.SweepPending(rig.h.ctx)
	if err != nil {
		t.Fatalf("SweepPending: %v", err)
	}
	if sweep.Checked != 1 || sweep.Finalized != 1 || sweep.Failed != 0 {
		t.Fatalf("sweep = %+v", sweep)
	}
	if n := rig.certificateRows(t); n != 1 {
		t.Fatalf("certificate rows = %d, want 1", n)
	}
	if rig.exists(t, PreCertificatePrefix+rig.fileName()) || !rig.exists(t, CertificatePrefix+rig.fileName()) {
		t.Fatalf("artifact not moved after sweep")
	}
}

func TestSequenceAllocatorIsUniqueUnderConcurrency(t *testing.T) {
	h := newHarness(t)
	alloc := NewSequenceAllocator(h.r.Sequence, "NEX/INT/2025")

	const n = 8
	refs := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			refs[i], errs[i] = alloc.NextReferenceNumber(h.dbc())
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for i := range refs {
		if errs[i] != nil {
			t.Fatalf("allocate: %v", errs[i])
		}
		if seen[refs[i]] {
			t.Fatalf("duplicate reference %s", refs[i])
		}
		seen[refs[i]] = true
	}
}

func TestConcurrentSubmitProofAllocatesDistinctReferences(t *testing.T) {
	// Before eligibility, so nothing is emailed and every request stays pending.
	rig := newCertRig(t, time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC))

	const n = 6
	users := make([]*types.User, n)
	for i := range users {
		users[i] = testutil.SeedUser(t, rig.h.ctx, rig.h.db, uuid.NewString()+"@example.com", fmt.Sprintf("learner %d", i), "male")
		testutil.SeedEnrollment(t, rig.h.ctx, rig.h.db, users[i].ID, rig.course.ID, learning.EnrollmentStatusCompleted, testutil.PtrTime(testutil.FixturePaymentDate))
	}

	refs := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range users {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := rig.svc.SubmitProof(rig.h.dbc(), users[i].ID, rig.course.ID, proofLink)
			if err != nil {
				errs[i] = err
				return
			}
			refs[i] = res.Request.ReferenceNo
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for i := range refs {
		if errs[i] != nil {
			t.Fatalf("SubmitProof(%d): %v", i, errs[i])
		}
		if seen[refs[i]] {
			t.Fatalf("duplicate reference %s", refs[i])
		}
		seen[refs[i]] = true
	}
	if !testutil.IsPostgres() {
		for i := 1; i <= n; i++ {
			if want := FormatReference("NEX/INT/2025", i); !seen[want] {
				t.Fatalf("missing %s in %v", want, refs)
			}
		}
	}
}

func TestFormatReference(t *testing.T) {
	cases := map[int]string{1: "NEX/INT/2025/01", 9: "NEX/INT/2025/09", 42: "NEX/INT/2025/42", 123: "NEX/INT/2025/123"}
	for n, want := range cases {
		if got := FormatReference("NEX/INT/2025", n); got != want {
			t.Fatalf("FormatReference(%d) = %s, want %s", n, got, want)
		}
	}
}

func TestCertificateConfigFromEnv(t *testing.T) {
	t.Setenv("CERTIFICATE_REF_PREFIX", "ACME/2026")
	t.Setenv("CERTIFICATE_ELIGIBILITY_DELAY", "48h")
	cfg := CertificateConfigFromEnv()
	if cfg.RefPrefix != "ACME/2026" || cfg.EligibilityDelay != 48*time.Hour {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.SweepSpec != "@every 10m" || cfg.InternshipLength != 30*24*time.Hour {
		t.Fatalf("defaults = %+v", cfg)
	}
}

func TestCertificateSchedulerRejectsBadSpec(t *testing.T) {
	h := newHarness(t)
	if _, err := NewCertificateScheduler(h.log, nil, "every now and then"); err == nil {
		t.Fatalf("expected spec error")
	}
	s, err := NewCertificateScheduler(h.log, nil, "*/5 * * * *")
	if err != nil || s == nil {
		t.Fatalf("NewCertificateScheduler: %v", err)
	}
}
