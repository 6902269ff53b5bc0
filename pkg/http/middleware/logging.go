package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	"FinGate/pkg/logger"
)

// RequestLogging logs every HTTP request at debug level and server errors at error level.
func RequestLogging(l *logger.Logger) echo.MiddlewareFunc {
	if l == nil {
		l = logger.Nop()
	}
	l = l.With("http")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			res := c.Response()
			start := time.Now()

			err := next(c)

			fields := []logger.Field{
				logger.String("method", req.Method),
				logger.String("uri", req.RequestURI),
				logger.String("remote", c.RealIP()),
				logger.Int("status", res.Status),
				logger.Duration("latency", time.Since(start)),
			}
			if res.Status >= 500 || err != nil {
				if err != nil {
					fields = append(fields, logger.Error(err))
				}
				l.Error("http request failed", fields...)
				return err
			}
			l.Debug("http request", fields...)
			return err
		}
	}
}
