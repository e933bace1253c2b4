package logger

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	RequestIDHeader = "X-Request-ID"
	ctxLoggerKey    = "logger"
	ctxRequestIDKey = "request_id"
)

// New builds the service logger. Production gets JSON output, everything else
// gets colored console output.
func New(serviceName, env, level string) (*zap.Logger, error) {
	var logConfig zap.Config
	if env == "production" {
		logConfig = zap.NewProductionConfig()
		logConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		logConfig = zap.NewDevelopmentConfig()
		logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}
	logConfig.Level.SetLevel(lvl)

	log, err := logConfig.Build()
	if err != nil {
		return nil, err
	}
	return log.With(zap.String("service", serviceName), zap.String("environment", env)), nil
}

// Middleware tags every request with a request ID and logs it once it completes.
func Middleware(base *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Writer.Header().Set(RequestIDHeader, requestID)
		c.Set(ctxRequestIDKey, requestID)

		reqLog := base.With(zap.String("request_id", requestID))
		c.Set(ctxLoggerKey, reqLog)

		c.Next()

		fields := []zapcore.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
			zap.String("user_agent", c.Request.UserAgent()),
		}

		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
			reqLog.Error("HTTP request failed", fields...)
			return
		}
		if c.Writer.Status() >= 500 {
			reqLog.Error("HTTP request completed", fields...)
			return
		}
		reqLog.Info("HTTP request completed", fields...)
	}
}

// FromGin returns the request-scoped logger, or a no-op logger outside the middleware.
func FromGin(c *gin.Context) *zap.Logger {
	if l, ok := c.Get(ctxLoggerKey); ok {
		if log, ok := l.(*zap.Logger); ok {
			return log
		}
	}
	return zap.NewNop()
}

// RequestID returns the request ID assigned by Middleware.
func RequestID(c *gin.Context) string {
	return c.GetString(ctxRequestIDKey)
}
