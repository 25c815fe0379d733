// Package logging builds the zap loggers used by the CLI.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	lferrors "github.com/logflow/tracemine/pkg/errors"
)

// New builds a logger at the given level. Development loggers are
// human-readable; production loggers emit JSON. Logs go to stderr so command
// output on stdout stays clean.
func New(level string, development bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, lferrors.Wrap(err, lferrors.CodeInvalidConfig, "invalid log level").
			WithContext("level", level)
	}

	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return nil, lferrors.Wrap(err, lferrors.CodeInvalidConfig, "failed to build logger")
	}
	return logger.Named("tracemine"), nil
}

// Nop returns a logger that discards everything.
func Nop() *zap.Logger {
	return zap.NewNop()
}
