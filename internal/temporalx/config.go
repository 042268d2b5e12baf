package temporalx

import (
	"time"

	"github.com/google/uuid"

	"github.com/nexston/bekola-backend/internal/domain/jobs"
	"github.com/nexston/bekola-backend/internal/platform/envutil"
)

// Names shared by the dispatcher and the worker.
const (
	JobRunWorkflowName = "VideoTranscodeWorkflow"
	ActivityRunJob     = "RunTranscode"
)

type Config struct {
	Address   string `yaml:"address"`
	Namespace string `yaml:"namespace"`
	TaskQueue string `yaml:"task_queue"`

	ClientCertPath string `yaml:"client_cert_path"`
	ClientKeyPath  string `yaml:"client_key_path"`
	ClientCAPath   string `yaml:"client_ca_path"`

	AutoRegisterNamespace bool          `yaml:"auto_register_namespace"`
	NamespaceRetention    time.Duration `yaml:"namespace_retention"`

	DialTimeout time.Duration `yaml:"dial_timeout"`
	DialMaxWait time.Duration `yaml:"dial_max_wait"`
}

func LoadConfig() Config {
	return Config{
		Address:   envutil.String("TEMPORAL_ADDRESS", ""),
		Namespace: envutil.String("TEMPORAL_NAMESPACE", "bekola"),
		TaskQueue: envutil.String("TEMPORAL_TASK_QUEUE", "bekola"),

		ClientCertPath: envutil.String("TEMPORAL_CLIENT_CERT_PATH", ""),
		ClientKeyPath:  envutil.String("TEMPORAL_CLIENT_KEY_PATH", ""),
		ClientCAPath:   envutil.String("TEMPORAL_CLIENT_CA_PATH", ""),

		AutoRegisterNamespace: envutil.Bool("TEMPORAL_AUTO_REGISTER_NAMESPACE", false),
		NamespaceRetention:    envutil.Duration("TEMPORAL_NAMESPACE_RETENTION", 7*24*time.Hour),

		DialTimeout: envutil.Duration("TEMPORAL_DIAL_TIMEOUT", 5*time.Second),
		DialMaxWait: envutil.Duration("TEMPORAL_DIAL_MAX_WAIT", 60*time.Second),
	}
}

func (c Config) Enabled() bool { return c.Address != "" }

// WorkflowID names the workflow that executes a job. Transcodes are keyed by
// video so a second request while one is running collapses into it.
func WorkflowID(jobType string, entityID *uuid.UUID, jobID uuid.UUID) string {
	if jobType == jobs.JobTypeVideoTranscode && entityID != nil && *entityID != uuid.Nil {
		return "video-transcode-" + entityID.String()
	}
	return "job-" + jobID.String()
}

// JobRunInput is the workflow argument. Retry settings travel with it so the
// worker applies the same policy the enqueuing side was configured with.
type JobRunInput struct {
	JobID       string        `json:"job_id"`
	MaxAttempts int           `json:"max_attempts"`
	RetryDelay  time.Duration `json:"retry_delay"`
}
