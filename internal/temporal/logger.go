package temporal

import (
	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
)

// Logger routes SDK log lines into zap under the "temporal" name.
type Logger struct {
	zl *zap.Logger
}

var (
	_ log.Logger     = (*Logger)(nil)
	_ log.WithLogger = (*Logger)(nil)
)

func NewLogger(logger *zap.Logger) *Logger {
	return &Logger{zl: logger.Named("temporal")}
}

func (l *Logger) Debug(msg string, keyvals ...interface{}) { l.zl.Debug(msg, fields(keyvals)...) }
func (l *Logger) Info(msg string, keyvals ...interface{})  { l.zl.Info(msg, fields(keyvals)...) }
func (l *Logger) Warn(msg string, keyvals ...interface{})  { l.zl.Warn(msg, fields(keyvals)...) }
func (l *Logger) Error(msg string, keyvals ...interface{}) { l.zl.Error(msg, fields(keyvals)...) }

// With returns a logger carrying keyvals on every line.
func (l *Logger) With(keyvals ...interface{}) log.Logger {
	return &Logger{zl: l.zl.With(fields(keyvals)...)}
}

// fields pairs up keyvals. Pairs whose key is not a string and a trailing
// odd value are dropped.
func fields(keyvals []interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		if key, ok := keyvals[i].(string); ok {
			out = append(out, zap.Any(key, keyvals[i+1]))
		}
	}
	return out
}
