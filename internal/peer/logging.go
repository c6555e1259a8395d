package peer

import (
	"fmt"
	"log/slog"

	"github.com/pion/logging"
)

// NewLoggerFactory adapts slog to pion's LoggerFactory so the media stack
// logs through the process logger.
func NewLoggerFactory(base *slog.Logger) logging.LoggerFactory {
	if base == nil {
		base = slog.Default()
	}
	return &slogLoggerFactory{base: base}
}

type slogLoggerFactory struct {
	base *slog.Logger
}

func (f *slogLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &slogLeveledLogger{log: f.base.With("scope", scope)}
}

type slogLeveledLogger struct {
	log *slog.Logger
}

// Trace has no slog level; it maps to Debug, which dev mode enables anyway.
func (l *slogLeveledLogger) Trace(msg string)                  { l.log.Debug(msg) }
func (l *slogLeveledLogger) Tracef(format string, args ...any) { l.log.Debug(fmt.Sprintf(format, args...)) }

func (l *slogLeveledLogger) Debug(msg string)                  { l.log.Debug(msg) }
func (l *slogLeveledLogger) Debugf(format string, args ...any) { l.log.Debug(fmt.Sprintf(format, args...)) }

func (l *slogLeveledLogger) Info(msg string)                  { l.log.Info(msg) }
func (l *slogLeveledLogger) Infof(format string, args ...any) { l.log.Info(fmt.Sprintf(format, args...)) }

func (l *slogLeveledLogger) Warn(msg string)                  { l.log.Warn(msg) }
func (l *slogLeveledLogger) Warnf(format string, args ...any) { l.log.Warn(fmt.Sprintf(format, args...)) }

func (l *slogLeveledLogger) Error(msg string)                  { l.log.Error(msg) }
func (l *slogLeveledLogger) Errorf(format string, args ...any) { l.log.Error(fmt.Sprintf(format, args...)) }
