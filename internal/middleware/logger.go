package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// quietPaths are probed by infrastructure and only logged on failure.
var quietPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// LoggerMiddleware writes one line per request. Server errors log at error
// level and client errors at warn.
func LoggerMiddleware(log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if quietPaths[c.Path()] && status < fiber.StatusBadRequest {
			return err
		}

		level := zapcore.InfoLevel
		switch {
		case status >= fiber.StatusInternalServerError:
			level = zapcore.ErrorLevel
		case status >= fiber.StatusBadRequest:
			level = zapcore.WarnLevel
		}

		reqID, _ := c.Locals(CtxRequestID).(string)
		fields := []zap.Field{
			zap.String("request_id", reqID),
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.IP()),
		}
		if caller := GetCaller(c); caller != "" {
			fields = append(fields, zap.String("caller", string(caller)))
		}
		if id := c.Params("id"); id != "" {
			fields = append(fields, zap.String("ledger_id", id))
		}
		if ce := log.Check(level, "request"); ce != nil {
			ce.Write(fields...)
		}
		return err
	}
}
