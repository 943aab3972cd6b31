package accounts

import "go.uber.org/zap"

// ZapLogger adapts a zap sugared logger to Logger
type ZapLogger struct {
	l *zap.SugaredLogger
}

// NewZapLogger wraps l. A nil logger falls back to zap.NewNop.
func NewZapLogger(l *zap.SugaredLogger) *ZapLogger {
	if l == nil {
		l = zap.NewNop().Sugar()
	}
	return &ZapLogger{l: l}
}

func (z *ZapLogger) Debug(format string, args ...any) { z.l.Debugf(format, args...) }
func (z *ZapLogger) Info(format string, args ...any)  { z.l.Infof(format, args...) }
func (z *ZapLogger) Warn(format string, args ...any)  { z.l.Warnf(format, args...) }
func (z *ZapLogger) Error(format string, args ...any) { z.l.Errorf(format, args...) }

// With returns a logger carrying the given key/value pairs
func (z *ZapLogger) With(args ...any) *ZapLogger {
	return &ZapLogger{l: z.l.With(args...)}
}
