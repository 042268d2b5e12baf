package app

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	dbpkg "github.com/nexston/bekola-backend/internal/data/db"
	"github.com/nexston/bekola-backend/internal/data/repos"
	apphttp "github.com/nexston/bekola-backend/internal/http"
	httpH "github.com/nexston/bekola-backend/internal/http/handlers"
	httpMW "github.com/nexston/bekola-backend/internal/http/middleware"
	"github.com/nexston/bekola-backend/internal/jobs/worker"
	"github.com/nexston/bekola-backend/internal/observability"
	"github.com/nexston/bekola-backend/internal/platform/logger"
	"github.com/nexston/bekola-backend/internal/realtime"
	"github.com/nexston/bekola-backend/internal/services"
	"github.com/nexston/bekola-backend/internal/temporalx/temporalworker"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Cfg      Config
	Repos    *repos.Repos
	Clients  Clients
	Services Services
	Hub      *realtime.Hub

	otelShutdown func(context.Context) error
}

// New loads configuration and wires every dependency. Nothing is started.
func New(ctx context.Context) (*App, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &App{Log: log, Cfg: cfg}
	a.otelShutdown = observability.InitOTel(ctx, log, cfg.Otel)

	if a.DB, err = dbpkg.Open(log, cfg.DB); err != nil {
		a.Close()
		return nil, fmt.Errorf("init database: %w", err)
	}
	a.Repos = repos.New(a.DB, log)

	if a.Clients, err = wireClients(ctx, log, cfg); err != nil {
		a.Close()
		return nil, err
	}
	if a.Services, err = wireServices(a.DB, log, cfg, a.Repos, a.Clients); err != nil {
		a.Close()
		return nil, err
	}
	a.Hub = realtime.NewHub(log)
	return a, nil
}

// Server builds the HTTP server over the wired services.
func (a *App) Server() *apphttp.Server {
	serviceName := ""
	if a.Cfg.Otel.Enabled {
		serviceName = a.Cfg.Otel.ServiceName
	}
	s := a.Services
	srv := apphttp.NewServer(a.Log, a.Cfg.HTTP, apphttp.RouterConfig{
		Log:                a.Log,
		ServiceName:        serviceName,
		CORSOrigins:        a.Cfg.HTTP.CORSOrigins,
		AuthMiddleware:     httpMW.NewAuthMiddleware(a.Log, a.Cfg.HTTP.JWTSecret),
		CourseHandler:      httpH.NewCourseHandler(s.Unlock),
		VideoHandler:       httpH.NewVideoHandler(s.Progress, s.Transcode),
		TestHandler:        httpH.NewTestHandler(s.Grading),
		CertificateHandler: httpH.NewCertificateHandler(s.Certificates),
		RealtimeHandler:    httpH.NewRealtimeHandler(a.Log, a.Hub),
		HealthHandler:      httpH.NewHealthHandler(a.DB),
	})
	srv.OnShutdown(a.Hub.CloseAll)
	return srv
}

// Serve runs the HTTP server until ctx is canceled. Bus events are relayed to
// connected SSE clients for the lifetime of ctx.
func (a *App) Serve(ctx context.Context) error {
	if err := a.Hub.Forward(ctx, a.Clients.Bus); err != nil {
		return fmt.Errorf("start event forwarder: %w", err)
	}
	return a.Server().Run(ctx)
}

// StartWorkers starts the configured job backend and returns a func that
// blocks until the workers have stopped after ctx ends.
func (a *App) StartWorkers(ctx context.Context) (wait func(), err error) {
	if err := a.Clients.Media.AssertReady(ctx); err != nil {
		a.Log.Warn("Transcoding tools unavailable; video jobs will fail", "error", err)
	}
	switch a.Cfg.Jobs.Backend {
	case services.QueueBackendTemporal:
		runner, err := temporalworker.NewRunner(
			a.Log, a.Cfg.Temporal, a.Clients.Temporal, a.DB,
			a.Repos.JobRun, a.Services.Registry, a.Services.Notifier, a.Cfg.Jobs.Concurrency,
		)
		if err != nil {
			return nil, err
		}
		if err := runner.Start(ctx); err != nil {
			return nil, err
		}
		return func() { <-ctx.Done() }, nil
	default:
		w := worker.NewWorker(a.DB, a.Log, a.Repos.JobRun, a.Services.Registry, a.Services.Notifier, a.Cfg.Jobs)
		w.Start(ctx)
		return w.Wait, nil
	}
}

func (a *App) StartScheduler(ctx context.Context) error {
	return a.Services.Scheduler.Start(ctx)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Services.Scheduler != nil {
		a.Services.Scheduler.Stop()
	}
	a.Clients.Close()
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if a.otelShutdown != nil {
		_ = a.otelShutdown(context.Background())
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
