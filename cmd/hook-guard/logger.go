package main

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func buildLogger(level string, outputs []string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.WarnLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}
	return cfg.Build()
}

// mustBuildLogger is for serve, where a broken log destination should stop
// startup.
func mustBuildLogger(level string, outputs []string) *zap.Logger {
	logger, err := buildLogger(level, outputs)
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}

// hookLogger logs to file when set, else to stderr. Stdout is reserved for
// the hook response. It never fails: a panic in hook mode exits 2, which
// the host reads as a block.
func hookLogger(level, file string) *zap.Logger {
	if file != "" {
		err := os.MkdirAll(filepath.Dir(file), 0o700)
		if err == nil {
			var logger *zap.Logger
			if logger, err = buildLogger(level, []string{file}); err == nil {
				return logger
			}
		}
		if logger, serr := buildLogger(level, []string{"stderr"}); serr == nil {
			logger.Warn("log file unusable, logging to stderr", zap.String("file", file), zap.Error(err))
			return logger
		}
		return zap.NewNop()
	}
	logger, err := buildLogger(level, []string{"stderr"})
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
