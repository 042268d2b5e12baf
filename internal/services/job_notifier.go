package services

import (
	"context"

	types "github.com/nexston/bekola-backend/internal/domain"
	"github.com/nexston/bekola-backend/internal/platform/logger"
	"github.com/nexston/bekola-backend/internal/realtime"
	"github.com/nexston/bekola-backend/internal/realtime/bus"
)

type JobNotifier interface {
	JobCreated(job *types.JobRun)
	JobProgress(job *types.JobRun, stage string, progress int, message string)
	JobFailed(job *types.JobRun, stage string, errorMessage string)
	JobDone(job *types.JobRun)
}

type jobNotifier struct {
	bus bus.Bus
	log *logger.Logger
}

// NewJobNotifier publishes job lifecycle events on the job's channel and, when
// the job has an owner, on the owner's channel too.
func NewJobNotifier(b bus.Bus, baseLog *logger.Logger) JobNotifier {
	if b == nil {
		b = bus.Noop{}
	}
	return &jobNotifier{bus: b, log: baseLog.With("service", "JobNotifier")}
}

func (n *jobNotifier) JobCreated(job *types.JobRun) {
	n.publish(job, realtime.EventJobCreated, map[string]any{
		"job_id":   job.ID,
		"job_type": job.JobType,
	})
}

func (n *jobNotifier) JobProgress(job *types.JobRun, stage string, progress int, message string) {
	n.publish(job, realtime.EventJobProgress, map[string]any{
		"job_id":   job.ID,
		"job_type": job.JobType,
		"stage":    stage,
		"progress": progress,
		"message":  message,
	})
}

func (n *jobNotifier) JobFailed(job *types.JobRun, stage string, errorMessage string) {
	n.publish(job, realtime.EventJobFailed, map[string]any{
		"job_id":   job.ID,
		"job_type": job.JobType,
		"stage":    stage,
		"error":    errorMessage,
	})
}

func (n *jobNotifier) JobDone(job *types.JobRun) {
	n.publish(job, realtime.EventJobDone, map[string]any{
		"job_id":   job.ID,
		"job_type": job.JobType,
	})
}

func (n *jobNotifier) publish(job *types.JobRun, name string, data map[string]any) {
	if job == nil {
		return
	}
	if job.EntityID != nil {
		data["entity_type"] = job.EntityType
		data["entity_id"] = *job.EntityID
	}
	channels := []string{realtime.JobChannel(job.ID)}
	if job.OwnerUserID != nil {
		channels = append(channels, realtime.UserChannel(*job.OwnerUserID))
	}
	for _, ch := range channels {
		if err := n.bus.Publish(context.Background(), realtime.Event{Channel: ch, Name: name, Data: data}); err != nil {
			n.log.Warn("job event publish failed", "job_id", job.ID, "event", name, "error", err)
		}
	}
}
