// Package api is the HTTP surface: job submit/status/cancel, music
// candidate selection, the dashboard read, the support audit stream, and
// health/metrics. All business rules live in the services; handlers only
// translate between HTTP and service calls.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skylark-media/atelier/pkg/dashboard"
	"github.com/skylark-media/atelier/pkg/database"
	"github.com/skylark-media/atelier/pkg/observe"
	"github.com/skylark-media/atelier/pkg/queue"
	"github.com/skylark-media/atelier/pkg/services"
	"github.com/skylark-media/atelier/pkg/support"
)

// HealthReporter is the slice of the worker pool the health endpoint needs.
type HealthReporter interface {
	Health(ctx context.Context) *queue.PoolHealth
}

// Server wires the HTTP handlers to the service layer.
type Server struct {
	auth      *Auth
	jobs      *services.JobService
	dashboard *dashboard.Service
	support   *support.Service
	pool      HealthReporter
	db        *database.Client
	logger    *slog.Logger
}

// NewServer creates the API server.
func NewServer(auth *Auth, jobs *services.JobService, dash *dashboard.Service,
	sup *support.Service, pool HealthReporter, db *database.Client, logger *slog.Logger) *Server {
	return &Server{
		auth:      auth,
		jobs:      jobs,
		dashboard: dash,
		support:   sup,
		pool:      pool,
		db:        db,
		logger:    logger,
	}
}

// Router builds the route tree with middleware applied.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), securityHeaders(), requestLogger(s.logger),
		requestMetrics(observe.DefaultMetrics()))

	r.GET("/healthz", s.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	v1.Use(s.auth.Middleware())

	v1.POST("/:studio/jobs", s.SubmitJob)
	v1.GET("/jobs/:id", s.GetJob)
	v1.POST("/jobs/:id/cancel", s.CancelJob)

	v1.GET("/music/jobs/:id/candidates", s.ListCandidates)
	v1.POST("/music/jobs/:id/select", s.SelectCandidate)

	v1.GET("/dashboard", s.GetDashboard)

	v1.POST("/support/sessions", s.OpenSupportSession)
	v1.GET("/support/sessions/:id", s.GetSupportSession)
	v1.POST("/support/sessions/:id/events", s.AppendSupportEvent)
	v1.GET("/support/sessions/:id/events", s.ListSupportEvents)
	v1.POST("/support/sessions/:id/verify", s.VerifySupportChain)

	return r
}

// Health reports database reachability and worker pool state.
func (s *Server) Health(c *gin.Context) {
	ctx := c.Request.Context()
	health := s.pool.Health(ctx)
	status := http.StatusOK
	if !health.Database.Reachable {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, health)
}
