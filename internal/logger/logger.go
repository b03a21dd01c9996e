package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ParseLevel parses a log level string
func ParseLevel(s string) (zapcore.Level, error) {
	switch s {
	case "debug", "DEBUG":
		return zap.DebugLevel, nil
	case "", "info", "INFO":
		return zap.InfoLevel, nil
	case "warn", "WARN", "warning", "WARNING":
		return zap.WarnLevel, nil
	case "error", "ERROR":
		return zap.ErrorLevel, nil
	default:
		return zap.InfoLevel, fmt.Errorf("invalid log level: %s", s)
	}
}

// New builds the process logger. Development mode switches to the console encoder.
func New(level string, development bool) (*zap.SugaredLogger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	config := zap.NewProductionConfig()
	if development {
		config = zap.NewDevelopmentConfig()
	}
	config.Level = zap.NewAtomicLevelAt(lvl)
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger.Sugar(), nil
}
