// Package api exposes the upload sessions, report view, flows and telemetry
// over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"labinsight/internal/domain"
	"labinsight/internal/flows"
	"labinsight/internal/report"
	"labinsight/internal/session"
)

const shutdownTimeout = 30 * time.Second

// SampleLister is the part of the processing backend the API reads directly.
type SampleLister interface {
	ListSamples(ctx context.Context) ([]domain.SampleFile, error)
}

type StatsSource interface {
	FlowStats(since time.Time) ([]domain.FlowStats, error)
	RecentFlowRuns(limit int) ([]domain.FlowRun, error)
}

type Deps struct {
	Sessions       *session.Registry
	Samples        SampleLister
	Reports        *report.Service
	Runner         *flows.Runner
	Analyzer       *flows.Analyzer
	Stats          StatsSource
	MaxUploadBytes int64
	Logger         *logrus.Logger
	Debug          bool

	// Breakers maps a dependency name to its circuit breaker state.
	Breakers map[string]func() string
	// PendingReports counts stored reports not yet viewed. Optional.
	PendingReports func() int
}

type Server struct {
	deps   Deps
	logger *logrus.Logger
	router *gin.Engine
	server *http.Server
}

func NewServer(deps Deps) *Server {
	if deps.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = session.DefaultMaxUploadBytes
	}
	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(requestLogger(logger))

	s := &Server{deps: deps, logger: logger, router: router}
	s.setupRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("http server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("http server shutting down")
	return s.server.Shutdown(shutdownCtx)
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/samples", s.handleListSamples)

		v1.POST("/sessions", s.handleCreateSession)
		v1.GET("/sessions/:id", s.handleGetSession)
		v1.PUT("/sessions/:id/file", s.handleSelectFile)
		v1.PUT("/sessions/:id/sample", s.handleSelectSample)
		v1.DELETE("/sessions/:id/selection", s.handleResetSession)
		v1.POST("/sessions/:id/submit", s.handleSubmit)
		v1.DELETE("/sessions/:id", s.handleDeleteSession)

		v1.GET("/reports/:id", s.handleGetReport)

		v1.POST("/flows/:name", s.handleRunFlow)
		v1.POST("/analyses", s.handleAnalyze)

		v1.GET("/stats/flows", s.handleFlowStats)
		v1.GET("/stats/flows/recent", s.handleRecentFlowRuns)
	}
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)
		c.Set("request_id", requestID)
		c.Next()
	}
}

// requestLogger logs method, route and status only. Query strings can carry
// filenames and are left out.
func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		logger.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"route":      route,
			"status":     c.Writer.Status(),
			"latency":    time.Since(start).Round(time.Millisecond).String(),
			"request_id": c.GetString("request_id"),
		}).Debug("http request")
	}
}
