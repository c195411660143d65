package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

func NewRouter(service Service, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger.With("component", "http")))

	h := NewHandler(service)
	router.GET("/health", h.Health)
	router.GET("/metrics", h.Metrics)

	router.GET("/workflows", h.ListWorkflows)
	router.GET("/workflows/:name", h.GetWorkflow)
	router.POST("/workflows/:name/runs", h.StartRun)

	router.GET("/runs", h.ListRuns)
	router.GET("/runs/:id", h.GetRun)
	router.POST("/runs/:id/cancel", h.CancelRun)
	router.GET("/runs/:id/events", h.RunEvents)

	router.GET("/events", h.RecentEvents)
	return router
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		attrs := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		}
		if c.Writer.Status() >= 500 {
			logger.Warn("request failed", attrs...)
			return
		}
		logger.Debug("request handled", attrs...)
	}
}
