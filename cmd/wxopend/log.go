package main

import (
	"context"
	"os"

	"github.com/go-chi/chi/v5/middleware"
	glog "github.com/goliatone/go-logger/glog"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// zapLogger satisfies glog.Logger on top of a sugared zap logger.
type zapLogger struct {
	sugar *zap.SugaredLogger
}

func newZapLogger(level zap.AtomicLevel) *zapLogger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.RFC3339TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.Lock(os.Stderr), level)
	return wrapZap(zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)))
}

func wrapZap(logger *zap.Logger) *zapLogger {
	return &zapLogger{sugar: logger.Sugar()}
}

func (l *zapLogger) Trace(msg string, args ...any) {
	l.sugar.Debugw(msg, args...)
}

func (l *zapLogger) Debug(msg string, args ...any) {
	l.sugar.Debugw(msg, args...)
}

func (l *zapLogger) Info(msg string, args ...any) {
	l.sugar.Infow(msg, args...)
}

func (l *zapLogger) Warn(msg string, args ...any) {
	l.sugar.Warnw(msg, args...)
}

func (l *zapLogger) Error(msg string, args ...any) {
	l.sugar.Errorw(msg, args...)
}

func (l *zapLogger) Fatal(msg string, args ...any) {
	l.sugar.Fatalw(msg, args...)
}

// WithContext tags entries with the chi request id when ctx carries one.
func (l *zapLogger) WithContext(ctx context.Context) glog.Logger {
	if ctx == nil {
		return l
	}
	if requestID := middleware.GetReqID(ctx); requestID != "" {
		return &zapLogger{sugar: l.sugar.With("request_id", requestID)}
	}
	return l
}

func (l *zapLogger) Sync() error {
	return l.sugar.Sync()
}

// zapProvider hands out loggers named after their component.
type zapProvider struct {
	root *zapLogger
}

func (p zapProvider) GetLogger(name string) glog.Logger {
	return &zapLogger{sugar: p.root.sugar.Named(name)}
}

func parseLevel(level string) zap.AtomicLevel {
	switch level {
	case "debug", "trace":
		return zap.NewAtomicLevelAt(zapcore.DebugLevel)
	case "warn":
		return zap.NewAtomicLevelAt(zapcore.WarnLevel)
	case "error":
		return zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	default:
		return zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
}

var (
	_ glog.Logger         = (*zapLogger)(nil)
	_ glog.LoggerProvider = zapProvider{}
)
