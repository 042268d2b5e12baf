package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/nexston/bekola-backend/internal/data/repos"
	"github.com/nexston/bekola-backend/internal/jobs/pipeline/video_transcode"
	jobrt "github.com/nexston/bekola-backend/internal/jobs/runtime"
	"github.com/nexston/bekola-backend/internal/platform/logger"
	"github.com/nexston/bekola-backend/internal/services"
)

type Services struct {
	Unlock       services.UnlockService
	Progress     services.ProgressService
	Grading      services.GradingService
	Notifier     services.JobNotifier
	Jobs         services.JobService
	Transcode    services.TranscodeService
	Certificates services.CertificateService
	Scheduler    *services.CertificateScheduler

	// Registry maps job types to handlers for both queue backends.
	Registry *jobrt.Registry
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, r *repos.Repos, clients Clients) (Services, error) {
	log.Info("Wiring services...")
	var s Services

	s.Unlock = services.NewUnlockService(db, log, r)
	progress, err := services.NewProgressService(db, log, r, s.Unlock, cfg.Progress)
	if err != nil {
		return s, fmt.Errorf("init progress service: %w", err)
	}
	s.Progress = progress
	s.Grading = services.NewGradingService(db, log, r, s.Unlock)

	s.Notifier = services.NewJobNotifier(clients.Bus, log)
	// Only the temporal backend hands jobs to Temporal; the db backend leaves
	// them in job_run even when a client is configured.
	tc := clients.Temporal
	if cfg.Jobs.Backend != services.QueueBackendTemporal {
		tc = nil
	}
	s.Jobs = services.NewJobService(db, log, r.JobRun, s.Notifier, cfg.Jobs, tc, cfg.Temporal.TaskQueue)
	s.Transcode = services.NewTranscodeService(db, log, r, s.Jobs, clients.Store, clients.Media, clients.Bus, cfg.Video)

	s.Certificates = services.NewCertificateService(
		db, log, r,
		services.NewSequenceAllocator(r.Sequence, cfg.Certs.RefPrefix),
		clients.Store, clients.Renderer, clients.Mailer, clients.Bus,
		cfg.Certs,
	)
	if s.Scheduler, err = services.NewCertificateScheduler(log, s.Certificates, cfg.Certs.SweepSpec); err != nil {
		return s, fmt.Errorf("invalid CERTIFICATE_SWEEP_SPEC: %w", err)
	}

	s.Registry = jobrt.NewRegistry()
	if err := s.Registry.Register(video_transcode.New(log, r.VideoAsset, s.Transcode)); err != nil {
		return s, err
	}
	return s, nil
}
