// README: Request logging middleware; request ids and HTTP metrics.
package middleware

import (
	"log"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"dispatch/internal/metrics"
	"dispatch/internal/obs"
)

const RequestIDHeader = "X-Request-ID"

func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		rid := c.GetHeader(RequestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Header(RequestIDHeader, rid)
		c.Request = c.Request.WithContext(obs.WithRequestID(c.Request.Context(), rid))

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)
		metrics.HTTPRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(status)).Inc()
		metrics.HTTPDuration.WithLabelValues(c.Request.Method, path).Observe(elapsed.Seconds())
		log.Printf("http: request_id=%s method=%s path=%s status=%d dur_ms=%d", rid, c.Request.Method, c.Request.URL.Path, status, elapsed.Milliseconds())
	}
}
