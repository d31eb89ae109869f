package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/yourusername/fetchq-go/pkg/logger"
)

// RequestIDHeader carries the request ID; a client supplied value is kept
const RequestIDHeader = "X-Request-ID"

// quietPaths are polled often and only logged at debug level
var quietPaths = map[string]bool{
	"/health": true,
	"/ready":  true,
}

// Logger returns a gin middleware for logging.
// Error responses are also written to the error category log when errorLog is set.
func Logger(log *zap.Logger, errorLog *logger.MultiLogger) gin.HandlerFunc {
	log = logger.OrNop(log)
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("request_id", requestID)
		c.Header(RequestIDHeader, requestID)

		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", c.Request.URL.RawQuery),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		if ce := log.Check(requestLevel(path, status), "HTTP request"); ce != nil {
			ce.Write(fields...)
		}
		if status >= 500 {
			errorLog.LogAppError("HTTP error response", fields...)
		}
	}
}

func requestLevel(path string, status int) zapcore.Level {
	switch {
	case status >= 500:
		return zapcore.ErrorLevel
	case status >= 400:
		return zapcore.WarnLevel
	case quietPaths[path]:
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}
