// Package observability — logger.go
//
// Logger construction, lifted from the teacher's cmd/octoreflex/main.go
// buildLogger helper into a reusable package function so both the daemon
// entrypoint and its SIGHUP reload path can rebuild a logger identically.
package observability

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// BuildLogger constructs a zap.Logger at the given level ("debug", "info",
// "warn", "error") and format ("json" or "console").
func BuildLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return cfg.Build()
}
