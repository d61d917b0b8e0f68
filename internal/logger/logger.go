// Package logger holds the process-wide structured logger.
package logger

import (
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var base atomic.Pointer[zap.Logger]

func init() {
	base.Store(zap.NewNop())
}

// Base returns the process logger. It is a no-op logger until SetBase is called.
func Base() *zap.Logger {
	return base.Load()
}

// SetBase replaces the process logger and returns the previous one.
func SetBase(l *zap.Logger) *zap.Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return base.Swap(l)
}

// New builds a JSON production logger at the given level ("debug", "info", "warn",
// "error"). Development mode switches to the console encoder.
func New(level string, development bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build(zap.Fields(zap.String("service", "discharge-followup")))
}
