package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/annel0/voxelnav/internal/logging"
)

// TraceIDKey ключ gin.Context с идентификатором запроса
const TraceIDKey = "trace_id"

// RequestLogger снабжает каждый HTTP-запрос trace-ID и пишет краткие логи.
// Использует логгер сервера (Info/Debug).
type RequestLogger struct {
	// SkipPaths маршруты без логирования (health-пробы, /metrics)
	SkipPaths map[string]struct{}
}

func NewRequestLogger(skip ...string) *RequestLogger {
	rl := &RequestLogger{SkipPaths: make(map[string]struct{}, len(skip))}
	for _, p := range skip {
		rl.SkipPaths[p] = struct{}{}
	}
	return rl
}

func (rl *RequestLogger) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		// trace-id из OpenTelemetry, если otelgin уже открыл спан
		span := trace.SpanFromContext(c.Request.Context())
		var traceID string
		if span.SpanContext().IsValid() {
			traceID = span.SpanContext().TraceID().String()
		} else {
			traceID = uuid.NewString()
		}
		c.Set(TraceIDKey, traceID)
		c.Header("X-Trace-Id", traceID)

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		if _, skip := rl.SkipPaths[path]; skip {
			c.Next()
			return
		}

		start := time.Now()
		method := c.Request.Method
		log := logging.GetServerLogger()

		log.Debug("[HTTP] ▶ %s %s ip=%s trace=%s", method, path, c.ClientIP(), traceID)

		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)
		if status >= 500 {
			log.Error("[HTTP] ◀ %s %s %d %s trace=%s err=%s", method, path, status, latency, traceID, c.Errors.String())
			return
		}
		log.Info("[HTTP] ◀ %s %s %d %s trace=%s", method, path, status, latency, traceID)
	}
}
