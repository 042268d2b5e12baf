package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nexston/bekola-backend/internal/data/repos"
	"github.com/nexston/bekola-backend/internal/data/repos/testutil"
	types "github.com/nexston/bekola-backend/internal/domain"
	"github.com/nexston/bekola-backend/internal/domain/learning"
	"github.com/nexston/bekola-backend/internal/platform/apierr"
	"github.com/nexston/bekola-backend/internal/platform/certrender"
	"github.com/nexston/bekola-backend/internal/platform/dbctx"
	"github.com/nexston/bekola-backend/internal/platform/localmedia"
	"github.com/nexston/bekola-backend/internal/platform/logger"
	"github.com/nexston/bekola-backend/internal/platform/mailer"
	"github.com/nexston/bekola-backend/internal/platform/objectstore"
)

// harness wires services over a fresh database. Services open their own
// transactions, so tests do not wrap them in testutil.Tx.
type harness struct {
	ctx    context.Context
	db     *gorm.DB
	log    *logger.Logger
	r      *repos.Repos
	unlock UnlockService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	r := repos.New(db, log)
	return &harness{
		ctx:    context.Background(),
		db:     db,
		log:    log,
		r:      r,
		unlock: NewUnlockService(db, log, r),
	}
}

func (h *harness) dbc() dbctx.Context { return dbctx.Context{Ctx: h.ctx} }

func (h *harness) progress(t *testing.T, cfg ProgressConfig) ProgressService {
	t.Helper()
	svc, err := NewProgressService(h.db, h.log, h.r, h.unlock, cfg)
	if err != nil {
		t.Fatalf("NewProgressService: %v", err)
	}
	return svc
}

func (h *harness) grading() GradingService {
	return NewGradingService(h.db, h.log, h.r, h.unlock)
}

func (h *harness) store(t *testing.T) *objectstore.Local {
	t.Helper()
	s, err := objectstore.NewLocal(t.TempDir(), "http://cdn.test", h.log)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	return s
}

func (h *harness) isUnlocked(t *testing.T, userID, moduleID uuid.UUID) bool {
	t.Helper()
	got, err := h.r.ModuleUnlock.UnlockedModuleIDs(h.dbc(), userID, []uuid.UUID{moduleID})
	if err != nil {
		t.Fatalf("UnlockedModuleIDs: %v", err)
	}
	return got[moduleID]
}

func (h *harness) enrollment(t *testing.T, userID, courseID uuid.UUID) *types.Enrollment {
	t.Helper()
	e, err := h.r.Enrollment.Get(h.dbc(), userID, courseID)
	if err != nil || e == nil {
		t.Fatalf("enrollment: %v %v", e, err)
	}
	return e
}

// seedTestCourse is a single-module course whose test has n one-mark
// questions, all answered "A".
func seedTestCourse(t *testing.T, h *harness, n int) (*types.User, *types.Test, []*types.Question, *types.ModuleItem) {
	t.Helper()
	u := testutil.SeedUser(t, h.ctx, h.db, uuid.NewString()+"@example.com", "grace hopper", "female")
	c := testutil.SeedCourse(t, h.ctx, h.db, "Systems")
	correct := make([]string, n)
	for i := range correct {
		correct[i] = "A"
	}
	test, qs := testutil.SeedTest(t, h.ctx, h.db, c.ID, correct...)
	m := testutil.SeedTestModule(t, h.ctx, h.db, c.ID, 1, test.ID)
	testutil.SeedEnrollment(t, h.ctx, h.db, u.ID, c.ID, learning.EnrollmentStatusCompleted, testutil.PtrTime(testutil.FixturePaymentDate))
	return u, test, qs, m
}

// answers marks the first right questions correct and the rest wrong.
func answers(qs []*types.Question, right int) map[uuid.UUID]string {
	out := make(map[uuid.UUID]string, len(qs))
	for i, q := range qs {
		if i < right {
			out[q.ID] = q.CorrectAnswer
		} else {
			out[q.ID] = "D"
		}
	}
	return out
}

func testAttempt(userID, testID, courseID uuid.UUID, score, total int) *types.TestAttempt {
	return &types.TestAttempt{
		ID:          uuid.New(),
		UserID:      userID,
		TestID:      testID,
		CourseID:    courseID,
		Score:       score,
		TotalMarks:  total,
		SubmittedAt: time.Now().UTC(),
	}
}

func requireKind(t *testing.T, err error, kind error) {
	t.Helper()
	if !errors.Is(err, kind) {
		t.Fatalf("expected %v, got %v", kind, err)
	}
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	ae, ok := apierr.As(err)
	if !ok || ae.Code != code {
		t.Fatalf("expected code %q, got %v", code, err)
	}
}

type fakeTranscoder struct {
	duration float64
	updates  []localmedia.ProgressUpdate
	err      error
	calls    int
}

func (f *fakeTranscoder) Probe(ctx context.Context, path string) (float64, error) {
	if _, err := os.Stat(path); err != nil {
		return 0, err
	}
	return f.duration, nil
}

func (f *fakeTranscoder) ConvertToHLS(ctx context.Context, input, outDir string, onProgress func(localmedia.ProgressUpdate)) (localmedia.HLSResult, error) {
	f.calls++
	for _, u := range f.updates {
		onProgress(u)
	}
	if f.err != nil {
		return localmedia.HLSResult{Log: "boom"}, f.err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return localmedia.HLSResult{}, err
	}
	playlist := filepath.Join(outDir, localmedia.PlaylistName)
	files := map[string]string{
		localmedia.PlaylistName: "#EXTM3U\n#EXTINF:4,\nsegment_000.ts\n#EXT-X-ENDLIST\n",
		"segment_000.ts":        "ts-bytes",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(outDir, name), []byte(body), 0o644); err != nil {
			return localmedia.HLSResult{}, err
		}
	}
	return localmedia.HLSResult{PlaylistPath: playlist}, nil
}

type fakeRenderer struct{}

func (fakeRenderer) Render(ctx context.Context, in certrender.Input) ([]byte, error) {
	return []byte("png:" + in.ReferenceNo), nil
}

func (fakeRenderer) Extension() string { return "png" }

type failingMailer struct{ calls int }

func (m *failingMailer) Send(ctx context.Context, msg mailer.Message) error {
	m.calls++
	return errors.New("smtp unavailable")
}
