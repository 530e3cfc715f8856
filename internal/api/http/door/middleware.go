package door

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zapcore"

	"github.com/oshokin/door-monitor/internal/logger"
	"github.com/oshokin/door-monitor/internal/metrics"
)

// requestLogger stores the service logger in every request context and writes
// one access log line per request. Successful requests go through a logger with
// its own minimum level, accessLevel; failures always use the service logger.
func requestLogger(base context.Context, accessLevel zapcore.Level) gin.HandlerFunc {
	service := logger.FromContext(base)
	access := service.Desugar().WithOptions(logger.WithLevel(accessLevel)).Sugar()

	return func(c *gin.Context) {
		start := time.Now()

		c.Request = c.Request.WithContext(logger.ToContext(c.Request.Context(), service))
		c.Next()

		status := c.Writer.Status()
		kvs := []any{
			"method", c.Request.Method,
			"path", routePath(c),
			"status", status,
			"duration", time.Since(start).String(),
			"client_ip", c.ClientIP(),
			"bytes", c.Writer.Size(),
		}

		switch {
		case status >= http.StatusInternalServerError:
			service.Errorw("HTTP request", kvs...)
		case status >= http.StatusBadRequest:
			service.Warnw("HTTP request", kvs...)
		default:
			access.Infow("HTTP request", kvs...)
		}
	}
}

// requestMetrics records the count and duration of every request.
func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		metrics.RecordHTTPRequest(c.Request.Method, routePath(c), c.Writer.Status(), time.Since(start))
	}
}

// rateLimit rejects clients that exceed their token bucket.
func rateLimit(limiter *clientLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.allow(c.ClientIP(), time.Now()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})

			return
		}

		c.Next()
	}
}

// routePath returns the matched route pattern, or the raw path for 404s.
func routePath(c *gin.Context) string {
	if path := c.FullPath(); path != "" {
		return path
	}

	return c.Request.URL.Path
}
