package jobrun

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"
	"gorm.io/datatypes"

	"github.com/nexston/bekola-backend/internal/data/repos"
	"github.com/nexston/bekola-backend/internal/data/repos/testutil"
	types "github.com/nexston/bekola-backend/internal/domain"
	"github.com/nexston/bekola-backend/internal/domain/jobs"
	jobrt "github.com/nexston/bekola-backend/internal/jobs/runtime"
	"github.com/nexston/bekola-backend/internal/platform/dbctx"
	"github.com/nexston/bekola-backend/internal/temporalx"
)

// flakyHandler fails its first failures runs.
type flakyHandler struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (h *flakyHandler) Type() string { return jobs.JobTypeVideoTranscode }

func (h *flakyHandler) Run(jc *jobrt.Context) error {
	h.mu.Lock()
	h.calls++
	n := h.calls
	h.mu.Unlock()
	jc.Progress("transcode", 50, "halfway")
	if n <= h.failures {
		return errors.New("transient encoder failure")
	}
	jc.Succeed("done", map[string]any{"calls": n})
	return nil
}

type env struct {
	suite   testsuite.WorkflowTestSuite
	r       *repos.Repos
	acts    *Activities
	handler *flakyHandler
}

func newEnv(t *testing.T, failures int) *env {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	r := repos.New(db, log)
	h := &flakyHandler{failures: failures}
	reg := jobrt.NewRegistry()
	if err := reg.Register(h); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return &env{
		r:       r,
		handler: h,
		acts:    &Activities{Log: log, DB: db, Jobs: r.JobRun, Registry: reg},
	}
}

func (e *env) seedJob(t *testing.T, status string) *types.JobRun {
	t.Helper()
	entity := uuid.New()
	job := &types.JobRun{
		ID:         uuid.New(),
		JobType:    jobs.JobTypeVideoTranscode,
		EntityType: jobs.EntityTypeVideo,
		EntityID:   &entity,
		Status:     status,
		Stage:      "queued",
		Payload:    datatypes.JSON([]byte(`{}`)),
		Result:     datatypes.JSON([]byte(`{}`)),
	}
	if _, err := e.r.JobRun.Create(dbctx.Context{Ctx: context.Background()}, []*types.JobRun{job}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return job
}

func (e *env) run(t *testing.T, in temporalx.JobRunInput) error {
	t.Helper()
	we := e.suite.NewTestWorkflowEnvironment()
	we.RegisterWorkflowWithOptions(Workflow, workflow.RegisterOptions{Name: temporalx.JobRunWorkflowName})
	we.RegisterActivityWithOptions(e.acts.RunJob, activity.RegisterOptions{Name: temporalx.ActivityRunJob})
	we.ExecuteWorkflow(temporalx.JobRunWorkflowName, in)
	if !we.IsWorkflowCompleted() {
		t.Fatalf("workflow did not complete")
	}
	return we.GetWorkflowError()
}

func (e *env) job(t *testing.T, id uuid.UUID) *types.JobRun {
	t.Helper()
	rows, err := e.r.JobRun.GetByIDs(dbctx.Context{Ctx: context.Background()}, []uuid.UUID{id})
	if err != nil || len(rows) != 1 {
		t.Fatalf("GetByIDs: %v", err)
	}
	return rows[0]
}

func TestWorkflowRetriesUntilSuccess(t *testing.T) {
	e := newEnv(t, 1)
	job := e.seedJob(t, jobs.StatusQueued)

	err := e.run(t, temporalx.JobRunInput{JobID: job.ID.String(), MaxAttempts: 3, RetryDelay: time.Second})
	if err != nil {
		t.Fatalf("workflow error: %v", err)
	}
	got := e.job(t, job.ID)
	if got.Status != jobs.StatusSucceeded || got.Attempts != 2 || got.Progress != 100 {
		t.Fatalf("job = %+v", got)
	}
	if e.handler.calls != 2 {
		t.Fatalf("calls = %d", e.handler.calls)
	}
}

func TestWorkflowGivesUpAfterMaxAttempts(t *testing.T) {
	e := newEnv(t, 10)
	job := e.seedJob(t, jobs.StatusQueued)

	err := e.run(t, temporalx.JobRunInput{JobID: job.ID.String(), MaxAttempts: 2, RetryDelay: time.Second})
	if err == nil {
		t.Fatalf("expected workflow error")
	}
	got := e.job(t, job.ID)
	if got.Status != jobs.StatusFailed || got.Attempts != 2 || got.Error == "" {
		t.Fatalf("job = %+v", got)
	}
}

func TestWorkflowSkipsCanceledJobs(t *testing.T) {
	e := newEnv(t, 0)
	job := e.seedJob(t, jobs.StatusCanceled)

	if err := e.run(t, temporalx.JobRunInput{JobID: job.ID.String(), MaxAttempts: 3}); err != nil {
		t.Fatalf("workflow error: %v", err)
	}
	if e.handler.calls != 0 {
		t.Fatalf("handler ran for a canceled job")
	}
	if got := e.job(t, job.ID); got.Status != jobs.StatusCanceled || got.Attempts != 0 {
		t.Fatalf("job = %+v", got)
	}
}

func TestWorkflowRejectsUnknownJob(t *testing.T) {
	e := newEnv(t, 0)
	if err := e.run(t, temporalx.JobRunInput{JobID: uuid.NewString(), MaxAttempts: 5}); err == nil {
		t.Fatalf("expected error for a missing job")
	}
	if err := e.run(t, temporalx.JobRunInput{JobID: "", MaxAttempts: 5}); err == nil {
		t.Fatalf("expected error for an empty job id")
	}
}
