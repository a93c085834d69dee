package utils

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewSugaredLogger creates a sugared logger based on the verbose flag.
// If verbose is true, it creates a development logger, otherwise a production logger.
// A non-empty level ("debug", "info", "warn", "error") overrides the level of
// either configuration.
func NewSugaredLogger(verbose bool, level string) (*zap.SugaredLogger, error) {
	cfg := zap.NewProductionConfig()
	kind := "production"
	if verbose {
		cfg = zap.NewDevelopmentConfig()
		kind = "development"
	}

	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	l, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create %s logger: %w", kind, err)
	}
	return l.Sugar(), nil
}
