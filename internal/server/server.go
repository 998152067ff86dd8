// Package server exposes the recetas HTTP API on gin.
package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/recetas-tracker/internal/common"
	"github.com/joseph-ayodele/recetas-tracker/internal/entity"
	"github.com/joseph-ayodele/recetas-tracker/internal/ingest"
	"github.com/joseph-ayodele/recetas-tracker/internal/repository"
)

// Scanner runs one mailbox ingestion for a user.
type Scanner interface {
	Run(ctx context.Context, userID uuid.UUID, opts ingest.RunOptions) (ingest.RunResult, error)
}

// Recetas is the record service behind the /api/recetas routes.
type Recetas interface {
	Upload(ctx context.Context, userID uuid.UUID, fileName string, data []byte) (*entity.Prescription, error)
	List(ctx context.Context, userID uuid.UUID, from, to *time.Time) ([]*entity.Prescription, error)
	Get(ctx context.Context, userID, id uuid.UUID) (*entity.Prescription, error)
	Correct(ctx context.Context, userID, id uuid.UUID, version int, c repository.Correction) (*entity.Prescription, error)
}

type Exporter interface {
	ExportPrescriptionsXLSX(ctx context.Context, userID uuid.UUID, from, to *time.Time) ([]byte, error)
}

type HealthChecker interface {
	HealthCheck(ctx context.Context, timeout time.Duration) error
}

// Deps are the services the routes call into.
type Deps struct {
	Scanner   Scanner
	Recetas   Recetas
	Exporter  Exporter
	Health    HealthChecker
	JWTSecret []byte
}

type Server struct {
	deps   Deps
	logger *slog.Logger
}

func New(deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{deps: deps, logger: logger}
}

// Router builds a gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())
	s.RegisterRoutes(router)
	return router
}

func (s *Server) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", s.handleHealth)

	api := router.Group("/api")
	api.Use(Authenticate(s.deps.JWTSecret, s.logger))
	api.POST("/gmail/scan", s.handleScan)

	recetas := api.Group("/recetas")
	recetas.POST("/upload", s.handleUpload)
	recetas.GET("", s.handleList)
	recetas.GET("/export.xlsx", s.handleExport)
	recetas.GET("/:id", s.handleGet)
	recetas.PATCH("/:id", s.handleCorrect)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)
		c.Request = c.Request.WithContext(common.WithRequestID(c.Request.Context(), requestID))
		c.Next()
		s.logger.Info("http request",
			"request_id", requestID,
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
