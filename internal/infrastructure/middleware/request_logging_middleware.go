package middleware

import (
	"time"

	"nests/pkg/logger"
	"nests/pkg/utils"

	"github.com/gin-gonic/gin"
)

const requestIDHeader = "X-Request-ID"

// RequestLoggingMiddleware tags the request context with a request id and
// the room id path parameter, then logs the request once it completes.
func RequestLoggingMiddleware(cl *logger.ContextLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = utils.GenerateRequestID()
		}
		c.Header(requestIDHeader, requestID)

		ctx := logger.WithValue(c.Request.Context(), logger.RequestIDKey, utils.SanitizeLogString(requestID))
		if id := c.Param("id"); id != "" {
			ctx = logger.WithValue(ctx, logger.RoomIDKey, utils.SanitizeLogString(id))
		}
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		cl.LogRequest(c.Request.Context(), c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start).Milliseconds())
	}
}
