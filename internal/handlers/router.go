package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dogwalking/geoloc-service/internal/metrics"
)

// requestIDHeader is echoed back on every response so a caller can
// correlate its request with the structured logs this service emits.
const requestIDHeader = "X-Request-ID"

// NewRouter wires the HTTP surface: bearer-auth-protected locate/report
// endpoints, the unauthenticated legacy geosubmit endpoint, the
// Prometheus exposition endpoint, and the admin summary endpoint.
func NewRouter(locate *LocateHandler, report *ReportHandler, geosubmit *ReportHandler, admin *AdminHandler, m *metrics.Metrics, logger *zap.Logger, authToken string, requestsPerSecond float64) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(rateLimitMiddleware(requestsPerSecond, logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	router.GET("/metrics/summary", admin.Handle)

	authed := router.Group("/api/v1", bearerAuth(authToken))
	authed.POST("/locate", locate.Handle)
	authed.POST("/report", report.Handle)

	router.POST("/v2/geosubmit", geosubmit.Handle)

	return router
}

// requestIDKey is the gin context key holding the per-request
// correlation id set by requestIDMiddleware.
const requestIDKey = "request_id"

// requestIDMiddleware stamps every request with a UUID, echoed in the
// response header and available to handlers via RequestID(c) so log
// lines for the same request can be joined across the ingestion and
// inference paths. The aggregation worker runs outside any request and
// logs no request id.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Writer.Header().Set(requestIDHeader, id)
		c.Next()
	}
}

// RequestID returns the correlation id requestIDMiddleware attached to
// this request, or the empty string if the middleware did not run.
func RequestID(c *gin.Context) string {
	id, _ := c.Get(requestIDKey)
	s, _ := id.(string)
	return s
}

// rateLimitMiddleware bounds request throughput with a single
// process-wide token bucket.
func rateLimitMiddleware(requestsPerSecond float64, logger *zap.Logger) gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(requestsPerSecond), int(requestsPerSecond))
	return func(c *gin.Context) {
		if !limiter.Allow() {
			logger.Warn("rate limit exceeded",
				zap.String("path", c.Request.URL.Path),
				zap.String("ip", c.ClientIP()),
			)
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			c.Abort()
			return
		}
		c.Next()
	}
}
