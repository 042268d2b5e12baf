package jobrun

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/nexston/bekola-backend/internal/temporalx"
)

const (
	defaultRetryDelay = 30 * time.Second
	activityTimeout   = 6 * time.Hour
	heartbeatTimeout  = 2 * time.Minute
)

// Workflow runs one job_run row as a single activity. Temporal owns the
// retries: MaxAttempts attempts spaced RetryDelay apart.
func Workflow(ctx workflow.Context, in temporalx.JobRunInput) (RunResult, error) {
	jobID := strings.TrimSpace(in.JobID)
	if jobID == "" {
		return RunResult{}, temporal.NewNonRetryableApplicationError("missing job_id", "invalid_input", nil)
	}
	attempts := in.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := in.RetryDelay
	if delay <= 0 {
		delay = defaultRetryDelay
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: activityTimeout,
		HeartbeatTimeout:    heartbeatTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    delay,
			BackoffCoefficient: 1,
			MaximumInterval:    delay,
			MaximumAttempts:    int32(attempts),
		},
	})

	var out RunResult
	if err := workflow.ExecuteActivity(ctx, temporalx.ActivityRunJob, jobID).Get(ctx, &out); err != nil {
		workflow.GetLogger(ctx).Warn("job run gave up", "job_id", jobID, "error", err)
		return out, fmt.Errorf("job %s failed: %w", jobID, err)
	}
	return out, nil
}
