// internal/common/logger/logger.go
package logger

import (
	"sort"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

// Logger defines the minimal logging interface used across engines and workers.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger
	With(fields map[string]interface{}) Logger
}

// ParseLevel maps a configured level name to zap, defaulting to info.
func ParseLevel(name string) zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(name)))); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// New builds a zap logger. Format "json" selects the production encoder,
// anything else the console one. Outputs are zap sink paths ("stdout",
// "stderr" or a file path); none means stdout.
func New(level, format string, outputs ...string) *zap.Logger {
	var cfg zap.Config
	if format == "json" {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(ParseLevel(level))

	paths := outputs[:0:0]
	for _, o := range outputs {
		if o = strings.TrimSpace(o); o != "" {
			paths = append(paths, o)
		}
	}
	if len(paths) == 0 {
		paths = []string{"stdout"}
	}
	cfg.OutputPaths = paths

	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

type adapter struct {
	l *zap.Logger
}

// NewZapAdapter wraps an existing *zap.Logger.
func NewZapAdapter(l *zap.Logger) Logger {
	return &adapter{l: l}
}

func (a *adapter) Debug(msg string, fields map[string]interface{}) { a.l.Debug(msg, toFields(fields)...) }
func (a *adapter) Info(msg string, fields map[string]interface{})  { a.l.Info(msg, toFields(fields)...) }
func (a *adapter) Warn(msg string, fields map[string]interface{})  { a.l.Warn(msg, toFields(fields)...) }
func (a *adapter) Error(msg string, fields map[string]interface{}) { a.l.Error(msg, toFields(fields)...) }

func (a *adapter) WithFields(fields map[string]interface{}) Logger {
	return &adapter{l: a.l.With(toFields(fields)...)}
}

func (a *adapter) WithError(err error) Logger {
	return &adapter{l: a.l.With(zap.Error(err))}
}

func (a *adapter) With(fields map[string]interface{}) Logger {
	return a.WithFields(fields)
}

// toFields converts in key order so repeated entries encode identically.
func toFields(fields map[string]interface{}) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		switch v := fields[k].(type) {
		case error:
			out = append(out, zap.NamedError(k, v))
		case []string:
			out = append(out, zap.Strings(k, v))
		default:
			out = append(out, zap.Any(k, v))
		}
	}
	return out
}

// ForComponent scopes l to a named engine or worker.
func ForComponent(l Logger, component string) Logger {
	if l == nil {
		l = NewNoOpLogger()
	}
	return l.WithFields(map[string]interface{}{"component": component})
}

// NewTestLogger creates a Logger that writes to t.
func NewTestLogger(t testing.TB) Logger {
	return &adapter{l: zaptest.NewLogger(t)}
}

// NewNoOpLogger creates a Logger that discards everything.
func NewNoOpLogger() Logger {
	return &adapter{l: zap.NewNop()}
}
