package logger

import (
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Fields aliases logrus.Fields so callers don't import logrus directly.
type Fields map[string]interface{}

// Log wraps logrus.Logger.
type Log struct {
	*logrus.Logger
}

// Entry wraps logrus.Entry.
type Entry struct {
	*logrus.Entry
}

var globalLogger *Log

func init() {
	globalLogger = newLogger()
}

func newLogger() *Log {
	l := logrus.New()

	levelStr := os.Getenv("LOG_LEVEL")
	if levelStr == "" {
		levelStr = "info"
	}
	if lvl, err := logrus.ParseLevel(strings.ToLower(levelStr)); err == nil {
		l.SetLevel(lvl)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}

	l.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	return &Log{Logger: l}
}

// GetLogger returns the process-wide logger.
func GetLogger() *Log {
	return globalLogger
}

// EnableFileRotation mirrors log output to a rotating file. Stdout logging
// continues unchanged; the rotating sink is for post-run inspection.
func EnableFileRotation(path string) {
	if path == "" {
		return
	}
	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    50, // MB
		MaxBackups: 5,
		MaxAge:     14, // days
		Compress:   true,
	}
	globalLogger.AddHook(&fileHook{w: rotator, formatter: globalLogger.Formatter})
}

// WithComponent tags entries from one subsystem on the global logger.
func WithComponent(component string) *Entry {
	return globalLogger.WithComponent(component)
}

func (l *Log) WithComponent(component string) *Entry {
	return &Entry{Entry: l.Logger.WithField("component", component)}
}

func (l *Log) WithFields(fields Fields) *Entry {
	return &Entry{Entry: l.Logger.WithFields(logrus.Fields(fields))}
}

func (l *Log) WithError(err error) *Entry {
	return &Entry{Entry: l.Logger.WithError(err)}
}

func (e *Entry) WithComponent(component string) *Entry {
	return &Entry{Entry: e.Entry.WithField("component", component)}
}

func (e *Entry) WithFields(fields Fields) *Entry {
	return &Entry{Entry: e.Entry.WithFields(logrus.Fields(fields))}
}

func (e *Entry) WithError(err error) *Entry {
	return &Entry{Entry: e.Entry.WithError(err)}
}
