// Package logging builds the logr.Logger every component in this module
// accepts, backed by a single process-wide zap core.
package logging

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
)

// New returns a structured logger writing human-readable output to stderr,
// or a fully structured JSON logger when verbose is set.
func New(verbose bool) (logr.Logger, func(), error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	zapLog, err := cfg.Build()
	if err != nil {
		return logr.Logger{}, func() {}, err
	}

	return zapr.NewLogger(zapLog), func() { _ = zapLog.Sync() }, nil
}
