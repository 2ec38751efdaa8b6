package tracing

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/modhost/internal/infrastructure/logging"
)

// HTTPMiddleware adopts the caller's X-Trace-ID, or starts a new trace,
// echoes it on the response and logs the finished request with it.
func HTTPMiddleware(logger *logging.Logger) gin.HandlerFunc {
	logger = logging.OrNop(logger).Component("http")

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if id := c.GetHeader(HeaderTraceID); id != "" {
			ctx = WithTraceID(ctx, id)
		}
		ctx, id := Ensure(ctx)
		c.Request = c.Request.WithContext(ctx)
		c.Header(HeaderTraceID, id)

		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("trace_id", id),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			logger.Warn("Request failed", append(fields, zap.String("errors", c.Errors.String()))...)
			return
		}
		logger.Debug("Request served", fields...)
	}
}

// InjectRequest copies the trace ID of the request context onto outgoing
// resty requests. Register it with resty.Client.OnBeforeRequest.
func InjectRequest(_ *resty.Client, r *resty.Request) error {
	if id := TraceID(r.Context()); id != "" {
		r.SetHeader(HeaderTraceID, id)
	}
	return nil
}
