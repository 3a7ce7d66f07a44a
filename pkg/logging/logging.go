// Package logging bridges the worker's go-logr facade onto pion/logging's LeveledLogger
// interface, so pion/ice and pion/dtls emit through the same sink as the rest of the
// worker instead of opening their own stderr writer.
package logging

import (
	"fmt"

	"github.com/go-logr/logr"
	pionlog "github.com/pion/logging"
)

// Factory adapts a logr.Logger into a pion/logging.LoggerFactory, handing out one
// LeveledLogger per pion scope (e.g. "ice", "dtls") that all funnel into the same
// underlying sink with the scope attached as a field.
type Factory struct {
	Base logr.Logger
}

// NewFactory returns a Factory backed by base. A discarded base yields discarded pion logs.
func NewFactory(base logr.Logger) *Factory {
	return &Factory{Base: base}
}

// NewLogger implements pion/logging.LoggerFactory.
func (f *Factory) NewLogger(scope string) pionlog.LeveledLogger {
	return &leveledLogger{log: f.Base.WithName(scope)}
}

type leveledLogger struct {
	log logr.Logger
}

func (l *leveledLogger) Trace(msg string) { l.log.V(2).Info(msg) }
func (l *leveledLogger) Tracef(format string, args ...interface{}) {
	l.log.V(2).Info(fmt.Sprintf(format, args...))
}
func (l *leveledLogger) Debug(msg string) { l.log.V(1).Info(msg) }
func (l *leveledLogger) Debugf(format string, args ...interface{}) {
	l.log.V(1).Info(fmt.Sprintf(format, args...))
}
func (l *leveledLogger) Info(msg string) { l.log.V(0).Info(msg) }
func (l *leveledLogger) Infof(format string, args ...interface{}) {
	l.log.V(0).Info(fmt.Sprintf(format, args...))
}
func (l *leveledLogger) Warn(msg string) { l.log.Info("warn: " + msg) }
func (l *leveledLogger) Warnf(format string, args ...interface{}) {
	l.log.Info("warn: " + fmt.Sprintf(format, args...))
}
func (l *leveledLogger) Error(msg string) { l.log.Error(nil, msg) }
func (l *leveledLogger) Errorf(format string, args ...interface{}) {
	l.log.Error(nil, fmt.Sprintf(format, args...))
}
