package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/google/uuid"
)

// HeaderLogID carries the per-request id
const HeaderLogID = "X-Log-ID"

type logIDKey struct{}

// LogIDFromContext returns the request id set by LogIDMiddleware
func LogIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(logIDKey{}).(string)
	return id
}

// LogIDMiddleware tags each request with an id, echoed in the response headers
func LogIDMiddleware() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		logID := uuid.New().String()
		ctx = context.WithValue(ctx, logIDKey{}, logID)

		c.Header(HeaderLogID, logID)
		c.Next(ctx)
	}
}

// AccessLogMiddleware logs one line per request
func AccessLogMiddleware(logger *slog.Logger) app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		start := time.Now()
		c.Next(ctx)

		status := c.Response.StatusCode()
		attrs := []any{
			"method", string(c.Request.Header.Method()),
			"path", string(c.Request.URI().PathOriginal()),
			"status", status,
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
			"log_id", string(c.Response.Header.Peek(HeaderLogID)),
		}
		switch {
		case status >= http.StatusInternalServerError:
			logger.ErrorContext(ctx, "HTTP request", attrs...)
		case status >= http.StatusBadRequest:
			logger.WarnContext(ctx, "HTTP request", attrs...)
		default:
			logger.DebugContext(ctx, "HTTP request", attrs...)
		}
	}
}
