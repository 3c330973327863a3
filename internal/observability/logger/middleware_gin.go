package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	obscontext "github.com/smallbiznis/memberhub/internal/observability/context"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const requestIDHeader = "X-Request-Id"

// MiddlewareConfig controls request logging behavior.
type MiddlewareConfig struct {
	Debug           bool
	ErrorClassifier func(err error) (string, string)
}

// loggedParams are route parameters worth carrying on the access log. They
// identify orders, events and registrations, never personal data.
var loggedParams = map[string]string{
	"provider":  "provider",
	"public_id": "order_public_id",
	"id":        "resource_id",
}

// GinMiddleware writes one access log line per request.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := ensureRequestID(c)
		c.Request = c.Request.WithContext(obscontext.WithRequestID(c.Request.Context(), requestID))

		c.Next()

		route := c.FullPath()
		if strings.TrimSpace(route) == "" {
			route = "unknown"
		}
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.Int64("bytes_in", max(c.Request.ContentLength, 0)),
			zap.Int("bytes_out", max(c.Writer.Size(), 0)),
		}
		for _, p := range c.Params {
			if key, ok := loggedParams[p.Key]; ok && strings.TrimSpace(p.Value) != "" {
				fields = append(fields, zap.String(key, p.Value))
			}
		}

		var errorType, errorCode string
		if lastErr := c.Errors.Last(); lastErr != nil {
			if cfg.ErrorClassifier != nil {
				errorType, errorCode = cfg.ErrorClassifier(lastErr.Err)
			}
			fields = append(fields,
				zap.String("error_type", errorType),
				zap.String("error_code", errorCode),
			)
			if cfg.Debug {
				fields = append(fields, zap.Stack("stack"))
			}
		}

		log := FromContext(c.Request.Context())
		if ce := log.Check(requestLevel(route, status, errorType), "http_request"); ce != nil {
			ce.Write(fields...)
		}
	}
}

func ensureRequestID(c *gin.Context) string {
	requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
	if requestID == "" {
		requestID = strings.TrimSpace(c.GetString("request_id"))
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}

	c.Set("request_id", requestID)
	c.Header(requestIDHeader, requestID)
	return requestID
}

func requestLevel(route string, status int, errorType string) zapcore.Level {
	route = strings.TrimSpace(route)
	switch {
	case route == "/metrics" || route == "/health":
		return zap.DebugLevel
	case status >= http.StatusInternalServerError:
		return zap.ErrorLevel
	case strings.HasPrefix(route, "/webhooks/") && errorType == "webhook_rejected":
		// forged or stale signatures; expected from scanners
		return zap.WarnLevel
	case status == http.StatusConflict:
		return zap.WarnLevel
	default:
		return zap.InfoLevel
	}
}
