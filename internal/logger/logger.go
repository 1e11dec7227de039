// Package logger builds the zap logger shared by the whole service.
package logger

import (
    "fmt"
    "strings"

    "go.uber.org/zap"
    "go.uber.org/zap/zapcore"
)

// New returns a JSON production logger, or a console development logger
// when env is "dev".  level is one of debug, info, warn, error.
func New(env, level string) (*zap.Logger, error) {
    var cfg zap.Config
    if strings.EqualFold(env, "dev") {
        cfg = zap.NewDevelopmentConfig()
    } else {
        cfg = zap.NewProductionConfig()
        cfg.EncoderConfig.TimeKey = "ts"
        cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
    }

    lvl, err := zapcore.ParseLevel(level)
    if err != nil {
        return nil, fmt.Errorf("log level: %w", err)
    }
    cfg.Level = zap.NewAtomicLevelAt(lvl)

    log, err := cfg.Build()
    if err != nil {
        return nil, err
    }
    return log.With(zap.String("service", "shop-session")), nil
}
