// Package logging provides the context-aware structured logger used across
// the service, backed by zap.
package logging

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	reqcontext "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Logger is the fluent logging surface used by repositories, services and
// middleware. Every With* call returns a derived logger; the receiver is
// never mutated.
type Logger interface {
	WithContext(ctx context.Context) Logger
	WithError(err error) Logger
	WithField(key string, value any) Logger
	WithFields(fields map[string]any) Logger

	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)

	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

type zapLogger struct {
	base *zap.SugaredLogger
}

// Config controls logger construction.
type Config struct {
	AppName    string
	Level      string
	PrettyLogs bool
}

// NewLogger builds the process logger. PrettyLogs switches to the console
// encoder for local development; production output is JSON.
func NewLogger(cfg Config) (Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.PrettyLogs {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	z, err := zapCfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}

	return &zapLogger{base: z.Sugar().With("app", cfg.AppName)}, nil
}

// NewNopLogger returns a logger that discards everything. Used in tests.
func NewNopLogger() Logger {
	return &zapLogger{base: zap.NewNop().Sugar()}
}

func (l *zapLogger) WithContext(ctx context.Context) Logger {
	if ctx == nil {
		return l
	}

	fields := make([]any, 0, 4)
	if requestID := reqcontext.GetRequestID(ctx); requestID != "" {
		fields = append(fields, "request_id", requestID)
	}
	if traceID := tracing.GetTraceID(ctx); traceID != "" {
		fields = append(fields, "trace_id", traceID)
	}
	if len(fields) == 0 {
		return l
	}
	return &zapLogger{base: l.base.With(fields...)}
}

func (l *zapLogger) WithError(err error) Logger {
	if err == nil {
		return l
	}
	return &zapLogger{base: l.base.With("error", err.Error())}
}

func (l *zapLogger) WithField(key string, value any) Logger {
	return &zapLogger{base: l.base.With(key, value)}
}

func (l *zapLogger) WithFields(fields map[string]any) Logger {
	if len(fields) == 0 {
		return l
	}
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &zapLogger{base: l.base.With(args...)}
}

func (l *zapLogger) Debug(msg string) { l.base.Debug(msg) }
func (l *zapLogger) Info(msg string)  { l.base.Info(msg) }
func (l *zapLogger) Warn(msg string)  { l.base.Warn(msg) }
func (l *zapLogger) Error(msg string) { l.base.Error(msg) }

func (l *zapLogger) Debugf(format string, args ...any) { l.base.Debugf(format, args...) }
func (l *zapLogger) Infof(format string, args ...any)  { l.base.Infof(format, args...) }
func (l *zapLogger) Warnf(format string, args ...any)  { l.base.Warnf(format, args...) }
func (l *zapLogger) Errorf(format string, args ...any) { l.base.Errorf(format, args...) }
