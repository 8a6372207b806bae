// Package logging builds the process-wide zap logger from a config file.
package logging

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogFormat selects the zap encoding.
type LogFormat string

const (
	LogFormatJSON    LogFormat = "json"
	LogFormatConsole LogFormat = "console"
)

// LogLevel is the minimum severity emitted.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogConfig mirrors config.LoggingConfig's JSON shape.
type LogConfig struct {
	Level        LogLevel  `json:"level"`
	Format       LogFormat `json:"format"`
	OutputPaths  []string  `json:"output_paths"`
	EnableCaller bool      `json:"enable_caller"`
	EnableStack  bool      `json:"enable_stack"`
}

// NewLogger builds a *zap.Logger from cfg, defaulting to info/json/stdout.
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	if cfg.Level == "" {
		cfg.Level = LogLevelInfo
	}
	if cfg.Format == "" {
		cfg.Format = LogFormatJSON
	}
	if len(cfg.OutputPaths) == 0 {
		cfg.OutputPaths = []string{"stdout"}
	}

	var level zapcore.Level
	switch cfg.Level {
	case LogLevelDebug:
		level = zapcore.DebugLevel
	case LogLevelWarn:
		level = zapcore.WarnLevel
	case LogLevelError:
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == LogFormatJSON {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Format == LogFormatConsole,
		Encoding:          string(cfg.Format),
		EncoderConfig:     encoderConfig,
		OutputPaths:       cfg.OutputPaths,
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: !cfg.EnableStack,
		DisableCaller:     !cfg.EnableCaller,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

type contextKey string

const RequestIDKey contextKey = "request_id"

// WithRequestID returns a logger annotated with the request ID carried on
// ctx, if any.
func WithRequestID(logger *zap.Logger, ctx context.Context) *zap.Logger {
	if id, ok := ctx.Value(RequestIDKey).(string); ok && id != "" {
		return logger.With(zap.String("request_id", id))
	}
	return logger
}
