package middleware

import (
	"github.com/gin-gonic/gin"

	appctx "medledger/internal/core/context"
)

const (
	HeaderRequestID = "X-Request-ID"
	HeaderTraceID   = "X-Trace-ID"
)

// Trace middleware attaches correlation IDs to every request.
// Incoming X-Trace-ID / X-Request-ID headers are honored so calls
// from upstream hospital systems keep their correlation chain.
func Trace() gin.HandlerFunc {
	return func(c *gin.Context) {
		trace := appctx.NewTrace(
			c.GetHeader(HeaderTraceID),
			c.GetHeader(HeaderRequestID),
		)

		ctx := appctx.WithTrace(c.Request.Context(), trace)
		c.Request = c.Request.WithContext(ctx)

		c.Set("trace_id", trace.TraceID)
		c.Set("request_id", trace.RequestID)

		c.Header(HeaderRequestID, trace.RequestID)
		c.Header(HeaderTraceID, trace.TraceID)

		c.Next()
	}
}
