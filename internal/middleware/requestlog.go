package middleware

import (
    "time"

    "github.com/labstack/echo/v4"
    "go.uber.org/zap"
)

// RequestLog logs one line per request with method, path, status, latency
// and the principal.  5xx log at error, 4xx at warn, the rest at info.
func RequestLog(log *zap.Logger) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            start := time.Now()
            err := next(c)
            if err != nil {
                c.Error(err)
            }

            req := c.Request()
            status := c.Response().Status
            fields := []zap.Field{
                zap.String("method", req.Method),
                zap.String("path", c.Path()),
                zap.String("uri", req.RequestURI),
                zap.Int("status", status),
                zap.Duration("latency", time.Since(start)),
                zap.String("ip", c.RealIP()),
                zap.String("user_id", userID(c)),
                zap.Int64("bytes_out", c.Response().Size),
            }
            if err != nil {
                fields = append(fields, zap.Error(err))
            }

            switch {
            case status >= 500:
                log.Error("request failed", fields...)
            case status >= 400:
                log.Warn("request rejected", fields...)
            default:
                log.Info("request completed", fields...)
            }
            return nil
        }
    }
}
