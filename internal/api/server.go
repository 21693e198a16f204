// Package api exposes experiments, snapshots and health over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"trade-metrics-lab/internal/experiment"
	"trade-metrics-lab/internal/observability"
	"trade-metrics-lab/internal/orchestrator"
	"trade-metrics-lab/internal/storage"
)

// Options configures the router.
type Options struct {
	Experiments  *experiment.Coordinator
	Orchestrator *orchestrator.Orchestrator // optional; nil disables POST /aggregations
	Snapshots    storage.SnapshotStore
	Metrics      *observability.Metrics // optional; nil disables GET /metrics
	Logger       *zap.Logger
	Timeout      time.Duration // per request, default 30s
}

// Handler serves the HTTP API.
type Handler struct {
	experiments  *experiment.Coordinator
	orchestrator *orchestrator.Orchestrator
	snapshots    storage.SnapshotStore
	logger       *zap.Logger
	timeout      time.Duration
}

// NewRouter builds the gin engine with all routes registered.
func NewRouter(opts Options) *gin.Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	h := &Handler{
		experiments:  opts.Experiments,
		orchestrator: opts.Orchestrator,
		snapshots:    opts.Snapshots,
		logger:       opts.Logger,
		timeout:      opts.Timeout,
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(opts.Logger))

	router.GET("/healthz", h.health)
	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))
	}

	v1 := router.Group("/api/v1")
	{
		v1.POST("/experiments", h.createExperiment)
		v1.GET("/experiments", h.listExperiments)
		v1.GET("/experiments/:id", h.getExperiment)
		v1.POST("/experiments/:id/assign", h.assignVariant)
		v1.POST("/experiments/:id/analyze", h.analyzeExperiment)
		v1.POST("/experiments/:id/conclude", h.concludeExperiment)
		v1.POST("/experiments/:id/abort", h.abortExperiment)
		v1.GET("/experiments/:id/results", h.experimentResults)
		v1.GET("/snapshots", h.listSnapshots)
		v1.POST("/aggregations", h.runAggregation)
	}

	return router
}

// requestLogger logs one line per request at Debug, or Warn for 5xx.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Warn("http request failed", append(fields, zap.String("error", c.Errors.String()))...)
			return
		}
		logger.Debug("http request", fields...)
	}
}

// Serve runs an HTTP server on addr until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, shutdownTimeout time.Duration, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
