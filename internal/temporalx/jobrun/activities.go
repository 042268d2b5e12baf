package jobrun

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"gorm.io/gorm"

	"github.com/nexston/bekola-backend/internal/data/repos"
	types "github.com/nexston/bekola-backend/internal/domain"
	"github.com/nexston/bekola-backend/internal/domain/jobs"
	jobrt "github.com/nexston/bekola-backend/internal/jobs/runtime"
	"github.com/nexston/bekola-backend/internal/platform/dbctx"
	"github.com/nexston/bekola-backend/internal/platform/logger"
	"github.com/nexston/bekola-backend/internal/services"
)

type Activities struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Jobs     repos.JobRunRepo
	Registry *jobrt.Registry
	Notify   services.JobNotifier

	// HeartbeatEvery paces activity and row heartbeats while a handler runs.
	HeartbeatEvery time.Duration
}

// RunJob executes one attempt of a job. A returned error makes Temporal
// schedule the next attempt; the row stays failed in between.
func (a *Activities) RunJob(ctx context.Context, jobID string) (RunResult, error) {
	res := RunResult{JobID: strings.TrimSpace(jobID)}
	if a == nil || a.DB == nil || a.Jobs == nil || a.Registry == nil {
		return res, fmt.Errorf("jobrun: activity not configured")
	}
	id, err := uuid.Parse(res.JobID)
	if err != nil || id == uuid.Nil {
		return res, temporal.NewNonRetryableApplicationError("invalid job_id", "invalid_input", err)
	}

	job, err := a.loadJob(ctx, id)
	if err != nil {
		return res, err
	}
	if job == nil {
		return res, temporal.NewNonRetryableApplicationError("job not found", "not_found", nil)
	}
	switch job.Status {
	case jobs.StatusSucceeded, jobs.StatusCanceled:
		return fill(res, job), nil
	}

	now := time.Now().UTC()
	ok, err := a.Jobs.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: ctx}, id, []string{jobs.StatusCanceled}, map[string]interface{}{
		"status":       jobs.StatusRunning,
		"attempts":     gorm.Expr("attempts + 1"),
		"error":        "",
		"locked_at":    now,
		"heartbeat_at": now,
		"updated_at":   now,
	})
	if err != nil {
		return res, err
	}
	if !ok {
		job.Status = jobs.StatusCanceled
		return fill(res, job), nil
	}
	job.Status = jobs.StatusRunning
	job.Attempts++
	job.LockedAt = &now
	job.HeartbeatAt = &now

	log := a.Log.With("job_id", id, "job_type", job.JobType, "attempt", job.Attempts)
	jc := jobrt.NewContext(ctx, a.DB, job, a.Jobs, a.Notify)
	jc.OnHeartbeat = func(stage string, progress int) {
		activity.RecordHeartbeat(ctx, stage, progress)
	}

	stop := a.keepAlive(ctx, id)
	runErr := a.run(jc, log)
	stop()

	if runErr != nil {
		if jc.Job.Status != jobs.StatusFailed {
			jc.Fail("run", runErr)
		}
		log.Warn("Job attempt failed", "error", runErr)
		return fill(res, jc.Job), runErr
	}
	if jc.Job.Status == jobs.StatusRunning {
		jc.Succeed("done", nil)
	}
	return fill(res, jc.Job), nil
}

func (a *Activities) run(jc *jobrt.Context, log *logger.Logger) (err error) {
	h, ok := a.Registry.Get(jc.Job.JobType)
	if !ok {
		err = fmt.Errorf("no handler registered for job_type=%s", jc.Job.JobType)
		jc.Fail("dispatch", err)
		return temporal.NewNonRetryableApplicationError(err.Error(), "unknown_job_type", err)
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("Job handler panic", "panic", r)
			err = fmt.Errorf("panic: %v", r)
			jc.Fail("panic", err)
		}
	}()
	return h.Run(jc)
}

func (a *Activities) loadJob(ctx context.Context, id uuid.UUID) (*types.JobRun, error) {
	rows, err := a.Jobs.GetByIDs(dbctx.Context{Ctx: ctx}, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 || rows[0] == nil {
		return nil, nil
	}
	return rows[0], nil
}

func (a *Activities) keepAlive(ctx context.Context, id uuid.UUID) func() {
	every := a.HeartbeatEvery
	if every <= 0 {
		every = 20 * time.Second
	}
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				activity.RecordHeartbeat(ctx)
				_ = a.Jobs.Heartbeat(dbctx.Context{Ctx: ctx}, id)
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}

func fill(res RunResult, job *types.JobRun) RunResult {
	res.Status = job.Status
	res.Stage = job.Stage
	res.Attempts = job.Attempts
	return res
}
