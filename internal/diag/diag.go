// Package diag provides the injected diagnostic sink collaborator used
// in place of reflection-based test probing (see spec.md §9). It wraps
// zap with a minimum-level gate so callers can dial diagnostic verbosity
// via a single recognized option.
package diag

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Level mirrors the minimum_diagnostic_level configuration option from
// spec.md §6.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
)

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelInfo:
		return zapcore.InfoLevel
	case LevelWarning:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Sink is the diagnostic collaborator every manager is constructed with.
// It mirrors *zap.Logger's leveled methods, with Warning in place of
// zap's Warn, so a *zap.Logger does not satisfy it directly; New wraps
// one. It is kept as its own narrow interface so tests can substitute a
// recording fake instead of asserting against zap's concrete type.
type Sink interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warning(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
}

type zapSink struct {
	l *zap.Logger
}

func (z *zapSink) Debug(msg string, fields ...zap.Field)   { z.l.Debug(msg, fields...) }
func (z *zapSink) Info(msg string, fields ...zap.Field)    { z.l.Info(msg, fields...) }
func (z *zapSink) Warning(msg string, fields ...zap.Field) { z.l.Warn(msg, fields...) }
func (z *zapSink) Error(msg string, fields ...zap.Field)   { z.l.Error(msg, fields...) }

// Config controls how New builds the underlying zap core.
type Config struct {
	// MinimumLevel filters out diagnostics below this level.
	MinimumLevel Level

	// File, if set, adds a rotating file sink via lumberjack alongside
	// stderr output.
	File *lumberjack.Logger
}

// New builds a Sink from cfg. A zero-value Config yields a
// stderr-only, debug-and-above sink (LevelDebug is the zero Level).
func New(cfg Config) (Sink, error) {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	level := zap.NewAtomicLevelAt(cfg.MinimumLevel.zapLevel())

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(zapcore.Lock(zapcore.AddSync(newStderr()))), level),
	}

	if cfg.File != nil {
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(cfg.File), level))
	}

	logger := zap.New(zapcore.NewTee(cores...))
	return &zapSink{l: logger}, nil
}

// NewNop returns a Sink that discards everything, for tests and
// libraries embedding this client without wanting its own logs.
func NewNop() Sink {
	return &zapSink{l: zap.NewNop()}
}
