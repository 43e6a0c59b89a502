package kafka

import (
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// kgoLogger adapts a zap.Logger to the kgo.Logger interface.
type kgoLogger struct {
	*zap.Logger
}

// Level maps the zap core's minimum enabled level to a kgo.LogLevel.
func (l *kgoLogger) Level() kgo.LogLevel {
	switch {
	case l.Logger.Core().Enabled(zapcore.DebugLevel):
		return kgo.LogLevelDebug
	case l.Logger.Core().Enabled(zapcore.InfoLevel):
		return kgo.LogLevelInfo
	case l.Logger.Core().Enabled(zapcore.WarnLevel):
		return kgo.LogLevelWarn
	case l.Logger.Core().Enabled(zapcore.ErrorLevel):
		return kgo.LogLevelError
	default:
		return kgo.LogLevelNone
	}
}

// Log forwards a kgo log line to zap, converting keyvals to fields.
func (l *kgoLogger) Log(level kgo.LogLevel, msg string, keyvals ...interface{}) {
	zapFields := make([]zap.Field, 0, len(keyvals)/2)
	for i := 0; i < len(keyvals); i += 2 {
		if i+1 < len(keyvals) {
			zapFields = append(zapFields, zap.Any(fmt.Sprintf("%v", keyvals[i]), keyvals[i+1]))
		} else {
			zapFields = append(zapFields, zap.Any(fmt.Sprintf("%v", keyvals[i]), "MISSING_VALUE"))
		}
	}

	switch level {
	case kgo.LogLevelDebug:
		l.Logger.Debug(msg, zapFields...)
	case kgo.LogLevelInfo:
		l.Logger.Info(msg, zapFields...)
	case kgo.LogLevelWarn:
		l.Logger.Warn(msg, zapFields...)
	case kgo.LogLevelError:
		l.Logger.Error(msg, zapFields...)
	case kgo.LogLevelNone:
	default:
		l.Logger.Info(msg, zapFields...)
	}
}
