package services

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/nexston/bekola-backend/internal/platform/logger"
)

// CertificateScheduler runs SweepPending on a cron spec. Overlapping runs
// are skipped, not queued.
type CertificateScheduler struct {
	log  *logger.Logger
	svc  CertificateService
	cron *cron.Cron
	spec string

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewCertificateScheduler(baseLog *logger.Logger, svc CertificateService, spec string) (*CertificateScheduler, error) {
	if spec == "" {
		spec = "@every 10m"
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, err
	}
	log := baseLog.With("component", "CertificateScheduler")
	return &CertificateScheduler{
		log:  log,
		svc:  svc,
		spec: spec,
		cron: cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger), cron.Recover(cron.DiscardLogger))),
	}, nil
}

func (s *CertificateScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	if _, err := s.cron.AddFunc(s.spec, func() {
		if _, err := s.svc.SweepPending(runCtx); err != nil {
			s.log.Warn("certificate sweep failed", "error", err)
		}
	}); err != nil {
		cancel()
		return err
	}
	s.cron.Start()
	s.log.Info("Certificate scheduler started", "spec", s.spec)
	go func() {
		<-runCtx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts the schedule and waits for a running sweep to return.
func (s *CertificateScheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-s.cron.Stop().Done()
	s.log.Info("Certificate scheduler stopped")
}
