package middleware

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/evvos/pairing/internal/metrics"
	"github.com/gin-gonic/gin"
)

func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)

		// Matched requests log the route template; the raw path can carry a
		// token digest.
		route := c.FullPath()
		path := route
		if route == "" {
			route = "unmatched"
			path = c.Request.URL.Path
		}
		status := c.Writer.Status()
		metrics.HTTPRequestDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).
			Observe(latency.Seconds())

		level := slog.LevelInfo
		if route == "/health" || route == "/metrics" {
			level = slog.LevelDebug
		}
		slog.Log(c.Request.Context(), level, "HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency", latency,
			"client_ip", c.ClientIP())
	}
}
