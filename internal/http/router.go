package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/nexston/bekola-backend/internal/http/handlers"
	httpMW "github.com/nexston/bekola-backend/internal/http/middleware"
	"github.com/nexston/bekola-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log            *logger.Logger
	ServiceName    string
	CORSOrigins    []string
	AuthMiddleware *httpMW.AuthMiddleware

	CourseHandler      *httpH.CourseHandler
	VideoHandler       *httpH.VideoHandler
	TestHandler        *httpH.TestHandler
	CertificateHandler *httpH.CertificateHandler
	RealtimeHandler    *httpH.RealtimeHandler

	HealthHandler *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthz", cfg.HealthHandler.HealthCheck)
		r.GET("/readyz", cfg.HealthHandler.Ready)
	}

	protected := r.Group("/api")
	if cfg.AuthMiddleware != nil {
		protected.Use(cfg.AuthMiddleware.RequireAuth())
	}

	// Realtime (SSE)
	if cfg.RealtimeHandler != nil {
		protected.GET("/events/stream", cfg.RealtimeHandler.Stream)
	}

	// Courses
	if cfg.CourseHandler != nil {
		protected.GET("/courses/:id/modules", cfg.CourseHandler.ListModules)
	}

	// Videos
	if cfg.VideoHandler != nil {
		protected.POST("/videos/:id/progress", cfg.VideoHandler.ReportProgress)
		protected.GET("/videos/:id/progress", cfg.VideoHandler.GetProgress)
		protected.GET("/videos/:id/status", cfg.VideoHandler.Status)
		protected.POST("/videos/:id/transcode", cfg.VideoHandler.EnqueueTranscode)
	}

	// Tests
	if cfg.TestHandler != nil {
		protected.POST("/courses/:id/tests/:testId/submit", cfg.TestHandler.Submit)
		protected.GET("/courses/:id/tests/history", cfg.TestHandler.History)
		protected.GET("/courses/:id/tests/:testId", cfg.TestHandler.Get)
	}

	// Certificates
	if cfg.CertificateHandler != nil {
		protected.POST("/courses/:id/certificate", cfg.CertificateHandler.SubmitProof)
	}

	return r
}
