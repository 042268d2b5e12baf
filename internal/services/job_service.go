package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	temporalsdkclient "go.temporal.io/sdk/client"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/nexston/bekola-backend/internal/data/repos"
	types "github.com/nexston/bekola-backend/internal/domain"
	"github.com/nexston/bekola-backend/internal/domain/jobs"
	"github.com/nexston/bekola-backend/internal/platform/ctxutil"
	"github.com/nexston/bekola-backend/internal/platform/dbctx"
	"github.com/nexston/bekola-backend/internal/platform/envutil"
	"github.com/nexston/bekola-backend/internal/platform/logger"
	"github.com/nexston/bekola-backend/internal/temporalx"
)

const (
	QueueBackendDB       = "db"
	QueueBackendTemporal = "temporal"
)

type JobQueueConfig struct {
	Backend      string        `yaml:"backend"`
	Concurrency  int           `yaml:"concurrency"`
	MaxAttempts  int           `yaml:"max_attempts"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
	StaleRunning time.Duration `yaml:"stale_running"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

func JobQueueConfigFromEnv() JobQueueConfig {
	return JobQueueConfig{
		Backend:      strings.ToLower(envutil.String("JOB_QUEUE_BACKEND", QueueBackendDB)),
		Concurrency:  envutil.Int("WORKER_CONCURRENCY", 4),
		MaxAttempts:  envutil.Int("JOB_MAX_ATTEMPTS", 3),
		RetryDelay:   envutil.Duration("JOB_RETRY_DELAY", 30*time.Second),
		StaleRunning: envutil.Duration("JOB_STALE_RUNNING", 30*time.Minute),
		PollInterval: envutil.Duration("WORKER_POLL_INTERVAL", time.Second),
	}
}

func (c JobQueueConfig) Validate() error {
	switch c.Backend {
	case QueueBackendDB, QueueBackendTemporal:
	default:
		return fmt.Errorf("invalid JOB_QUEUE_BACKEND=%q (allowed: db, temporal)", c.Backend)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("JOB_MAX_ATTEMPTS must be >= 1")
	}
	return nil
}

type JobService interface {
	Enqueue(dbc dbctx.Context, ownerUserID *uuid.UUID, jobType, entityType string, entityID *uuid.UUID, payload map[string]any) (*types.JobRun, error)
	// EnqueueIfIdle skips the insert when a queued or running job of the same
	// type already exists for the entity. The bool reports whether a job was
	// created.
	EnqueueIfIdle(dbc dbctx.Context, ownerUserID *uuid.UUID, jobType, entityType string, entityID uuid.UUID, payload map[string]any) (*types.JobRun, bool, error)
	Dispatch(dbc dbctx.Context, jobID uuid.UUID) error
	GetLatestForEntity(dbc dbctx.Context, entityType string, entityID uuid.UUID, jobType string) (*types.JobRun, error)
}

type jobService struct {
	db     *gorm.DB
	log    *logger.Logger
	repo   repos.JobRunRepo
	notify JobNotifier
	cfg    JobQueueConfig

	temporal          temporalsdkclient.Client
	temporalTaskQueue string
}

// NewJobService builds the queue front. With a nil Temporal client jobs stay
// in job_run for the database worker pool to claim.
func NewJobService(
	db *gorm.DB,
	baseLog *logger.Logger,
	repo repos.JobRunRepo,
	notify JobNotifier,
	cfg JobQueueConfig,
	tc temporalsdkclient.Client,
	taskQueue string,
) JobService {
	return &jobService{
		db:                db,
		log:               baseLog.With("service", "JobService"),
		repo:              repo,
		notify:            notify,
		cfg:               cfg,
		temporal:          tc,
		temporalTaskQueue: strings.TrimSpace(taskQueue),
	}
}

func (s *jobService) Enqueue(dbc dbctx.Context, ownerUserID *uuid.UUID, jobType, entityType string, entityID *uuid.UUID, payload map[string]any) (*types.JobRun, error) {
	if jobType == "" {
		return nil, fmt.Errorf("missing job_type")
	}
	if payload == nil {
		payload = map[string]any{}
	}
	if td := ctxutil.GetTraceData(dbc.Ctx); td != nil {
		if td.TraceID != "" {
			if _, ok := payload["trace_id"]; !ok {
				payload["trace_id"] = td.TraceID
			}
		}
		if td.RequestID != "" {
			if _, ok := payload["request_id"]; !ok {
				payload["request_id"] = td.RequestID
			}
		}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode job payload: %w", err)
	}

	now := time.Now().UTC()
	job := &types.JobRun{
		ID:          uuid.New(),
		OwnerUserID: ownerUserID,
		JobType:     jobType,
		EntityType:  entityType,
		EntityID:    entityID,
		Status:      jobs.StatusQueued,
		Stage:       "queued",
		Message:     "Queued",
		Payload:     datatypes.JSON(b),
		Result:      datatypes.JSON([]byte(`{}`)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := s.repo.Create(dbc, []*types.JobRun{job}); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if s.notify != nil {
		s.notify.JobCreated(job)
	}

	// Inside a caller transaction the row is not visible to Temporal yet;
	// the caller dispatches after commit.
	if s.temporal == nil || isDBTransaction(dbc.Tx) {
		return job, nil
	}
	if err := s.Dispatch(dbctx.Context{Ctx: dbc.Ctx}, job.ID); err != nil {
		return job, err
	}
	return job, nil
}

func (s *jobService) EnqueueIfIdle(dbc dbctx.Context, ownerUserID *uuid.UUID, jobType, entityType string, entityID uuid.UUID, payload map[string]any) (*types.JobRun, bool, error) {
	if entityID == uuid.Nil {
		return nil, false, fmt.Errorf("missing entity_id")
	}
	has, err := s.repo.HasRunnableForEntity(dbc, entityType, entityID, jobType)
	if err != nil {
		return nil, false, err
	}
	if has {
		return nil, false, nil
	}
	id := entityID
	job, err := s.Enqueue(dbc, ownerUserID, jobType, entityType, &id, payload)
	if err != nil {
		return job, job != nil, err
	}
	return job, true, nil
}

type txCommitter interface {
	Commit() error
	Rollback() error
}

// gorm clones *gorm.DB freely, so pointer comparison cannot tell a
// transaction apart; the conn pool type can.
func isDBTransaction(db *gorm.DB) bool {
	if db == nil || db.Statement == nil || db.Statement.ConnPool == nil {
		return false
	}
	_, ok := db.Statement.ConnPool.(txCommitter)
	return ok
}

// Dispatch starts the Temporal workflow for a stored job. It is a no-op for
// the database backend, whose workers poll job_run directly.
func (s *jobService) Dispatch(dbc dbctx.Context, jobID uuid.UUID) error {
	if s.temporal == nil {
		return nil
	}
	if jobID == uuid.Nil {
		return fmt.Errorf("missing job id")
	}
	ctx := ctxutil.Default(dbc.Ctx)
	rows, err := s.repo.GetByIDs(dbctx.Context{Ctx: ctx}, []uuid.UUID{jobID})
	if err != nil {
		return err
	}
	if len(rows) == 0 || rows[0] == nil {
		return fmt.Errorf("job %s not found", jobID)
	}
	job := rows[0]

	tq := s.temporalTaskQueue
	if tq == "" {
		tq = "bekola"
	}
	opts := temporalsdkclient.StartWorkflowOptions{
		ID:                                       temporalx.WorkflowID(job.JobType, job.EntityID, job.ID),
		TaskQueue:                                tq,
		WorkflowIDReusePolicy:                    enums.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}
	in := temporalx.JobRunInput{
		JobID:       job.ID.String(),
		MaxAttempts: s.cfg.MaxAttempts,
		RetryDelay:  s.cfg.RetryDelay,
	}
	_, err = s.temporal.ExecuteWorkflow(ctx, opts, temporalx.JobRunWorkflowName, in)
	if err == nil {
		return nil
	}

	now := time.Now().UTC()
	var already *serviceerror.WorkflowExecutionAlreadyStarted
	if errors.As(err, &already) {
		// Another execution owns this entity; this row would never be picked up.
		s.log.Info("Workflow already running; dropping duplicate job", "job_id", job.ID, "workflow_id", opts.ID)
		return s.repo.UpdateFields(dbctx.Context{Ctx: ctx}, job.ID, map[string]interface{}{
			"status":     jobs.StatusCanceled,
			"stage":      "dispatch",
			"message":    "duplicate of running workflow " + opts.ID,
			"updated_at": now,
		})
	}

	_ = s.repo.UpdateFields(dbctx.Context{Ctx: ctx}, job.ID, map[string]interface{}{
		"status":        jobs.StatusFailed,
		"stage":         "dispatch",
		"message":       "",
		"error":         err.Error(),
		"last_error_at": now,
		"locked_at":     nil,
		"updated_at":    now,
	})
	if s.notify != nil {
		s.notify.JobFailed(job, "dispatch", err.Error())
	}
	return fmt.Errorf("start temporal workflow: %w", err)
}

func (s *jobService) GetLatestForEntity(dbc dbctx.Context, entityType string, entityID uuid.UUID, jobType string) (*types.JobRun, error) {
	return s.repo.GetLatestByEntity(dbc, entityType, entityID, jobType)
}
