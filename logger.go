package metricpipe

import "go.uber.org/zap"

// Logger is the structured-logging contract New uses to report send
// failures and collector exceptions. Its method set matches
// *zap.SugaredLogger so callers can pass one directly without an
// adapter.
type Logger interface {
	Debugw(msg string, keysAndValues ...any)
	Infow(msg string, keysAndValues ...any)
	Warnw(msg string, keysAndValues ...any)
	Errorw(msg string, keysAndValues ...any)
}

type nopLogger struct{}

func (nopLogger) Debugw(string, ...any) {}
func (nopLogger) Infow(string, ...any)  {}
func (nopLogger) Warnw(string, ...any)  {}
func (nopLogger) Errorw(string, ...any) {}

// NewNopLogger returns a Logger that discards everything, for callers
// that don't want to wire one. Passing a nil Logger to New degrades
// to the same behavior rather than panicking.
func NewNopLogger() Logger { return nopLogger{} }

// NewZapLogger adapts a *zap.SugaredLogger to the Logger interface.
// Since *zap.SugaredLogger already implements every method above, this
// is an identity conversion kept as a named entry point for callers
// who prefer not to rely on structural typing.
func NewZapLogger(l *zap.SugaredLogger) Logger { return l }
