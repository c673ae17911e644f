// Package logging provides a structured logging interface for the engine.
// It keeps the raggo teacher's Logger shape (Debug/Info/Warn/Error with
// key-value pairs, global level control) but backs it with zap instead of
// the standard library's log.Logger, matching the structured-logging
// dependency used elsewhere in the retrieval pack for this concern.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level controls which messages are emitted. Higher values are more verbose.
type Level int

const (
	LevelOff Level = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
)

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelInfo:
		return zapcore.InfoLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelOff:
		return zapcore.FatalLevel + 1
	default:
		return zapcore.ErrorLevel
	}
}

// Logger is the structured logging contract used throughout the engine.
// keysAndValues follow zap's SugaredLogger convention: alternating
// key, value pairs appended to the message.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	SetLevel(level Level)
}

// zapLogger adapts a zap.SugaredLogger to the Logger interface, with an
// atomic level so SetLevel can change verbosity without re-building the
// logger core.
type zapLogger struct {
	sugar *zap.SugaredLogger
	atom  zap.AtomicLevel
}

// New builds a Logger writing structured JSON to stderr at the given level.
func New(level Level) Logger {
	atom := zap.NewAtomicLevelAt(level.zapLevel())
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(cfg), zapcore.Lock(zapcore.AddSync(os.Stderr)), atom)
	l := zap.New(core).Sugar()
	return &zapLogger{sugar: l, atom: atom}
}

func (z *zapLogger) SetLevel(level Level) { z.atom.SetLevel(level.zapLevel()) }

func (z *zapLogger) Debug(msg string, kv ...interface{}) { z.sugar.Debugw(msg, kv...) }
func (z *zapLogger) Info(msg string, kv ...interface{})  { z.sugar.Infow(msg, kv...) }
func (z *zapLogger) Warn(msg string, kv ...interface{})  { z.sugar.Warnw(msg, kv...) }
func (z *zapLogger) Error(msg string, kv ...interface{}) { z.sugar.Errorw(msg, kv...) }

// Global is the package-level logger used by components that don't have
// an injected Logger (mirrors the teacher's GlobalLogger convenience).
var Global Logger = New(LevelInfo)

// SetGlobalLevel sets the level of the global logger.
func SetGlobalLevel(level Level) { Global.SetLevel(level) }
