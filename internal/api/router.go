package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RouterConfig wires the optional parts of the router.
type RouterConfig struct {
	// GenerateLimiter throttles the generation endpoints. Nil disables it.
	GenerateLimiter *rate.Limiter

	// Health reports readiness on GET /healthz. Nil always reports ok.
	Health func(ctx context.Context) error

	// Metrics is mounted on MetricsPath when both are set.
	Metrics     http.Handler
	MetricsPath string
}

// NewRouter builds the gin engine serving the audit endpoint group under
// /api/v1/audit.
func NewRouter(h *Handler, cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(h.Logger))

	r.GET("/healthz", func(c *gin.Context) {
		if cfg.Health != nil {
			if err := cfg.Health(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.Metrics != nil && cfg.MetricsPath != "" {
		r.GET(cfg.MetricsPath, gin.WrapH(cfg.Metrics))
	}

	audit := r.Group("/api/v1/audit")
	{
		audit.POST("/generate", RateLimit(cfg.GenerateLimiter), h.Generate)
		audit.POST("/regenerate", RateLimit(cfg.GenerateLimiter), h.Regenerate)
		audit.PUT("/verdicts", h.CorrectVerdicts)
	}
	return r
}

// RateLimit rejects requests with 429 once limiter is exhausted. The limiter
// is shared by every route it is attached to.
func RateLimit(limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter != nil && !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Code:    CodeRateLimited,
				Message: "too many audit requests, retry later",
			})
			return
		}
		c.Next()
	}
}

// RequestLogger writes one structured line per request.
func RequestLogger(log *slog.Logger) gin.HandlerFunc {
	if log == nil {
		log = slog.Default()
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.InfoContext(c.Request.Context(), "http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		)
	}
}
