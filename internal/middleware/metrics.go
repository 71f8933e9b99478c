package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/darasa-api/internal/service"
)

const unmatchedRoute = "unmatched"

// Metrics records latency and status per route template. Requests that match
// no route share the "unmatched" label.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	if metricsSvc == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
