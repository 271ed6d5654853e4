package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	log  *Logger
	once sync.Once
)

// Fields is a set of structured key/value pairs attached to a log line.
type Fields map[string]interface{}

type Logger struct {
	*logrus.Logger
}

// Entry is a log line under construction. Its Warn and Error methods honour
// SECURECHAT_WARNFAIL the same way the Logger's do.
type Entry struct {
	*logrus.Entry
}

func (l *Logger) Warn(args ...interface{}) {
	warnFatal(args...)
	l.Logger.Warn(args...)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	warnFatalf(format, args...)
	l.Logger.Warnf(format, args...)
}

func (l *Logger) Error(args ...interface{}) {
	warnFatal(args...)
	l.Logger.Error(args...)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	warnFatalf(format, args...)
	l.Logger.Errorf(format, args...)
}

func (l *Logger) WithField(key string, value interface{}) *Entry {
	return &Entry{l.Logger.WithField(key, value)}
}

func (l *Logger) WithFields(fields Fields) *Entry {
	return &Entry{l.Logger.WithFields(logrus.Fields(fields))}
}

func (l *Logger) WithError(err error) *Entry {
	return &Entry{l.Logger.WithError(err)}
}

func (e *Entry) WithField(key string, value interface{}) *Entry {
	return &Entry{e.Entry.WithField(key, value)}
}

func (e *Entry) WithFields(fields Fields) *Entry {
	return &Entry{e.Entry.WithFields(logrus.Fields(fields))}
}

func (e *Entry) WithError(err error) *Entry {
	return &Entry{e.Entry.WithError(err)}
}

func (e *Entry) Warn(args ...interface{}) {
	warnFatal(args...)
	e.Entry.Warn(args...)
}

func (e *Entry) Error(args ...interface{}) {
	warnFatal(args...)
	e.Entry.Error(args...)
}

func warnFatal(args ...interface{}) {
	if failFast != "" {
		log.Fatal(args...)
	}
}

func warnFatalf(format string, args ...interface{}) {
	if failFast != "" {
		log.Fatalf(format, args...)
	}
}

var failFast string

// Options controls where and how much the process logs. The zero value keeps
// whatever the environment selected at startup.
type Options struct {
	Level  string
	Format string // "text" or "json"

	// File enables rotated file output in addition to stdout.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Configure applies opts to the shared logger. It is called once by the
// command line entry points after configuration has been loaded.
func Configure(opts Options) {
	l := GetChatLogger()
	if opts.Level != "" {
		l.SetLevel(parseLevel(opts.Level))
	}
	switch strings.ToLower(opts.Format) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	var out io.Writer = os.Stdout
	if opts.File != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		})
	}
	l.SetOutput(out)
	l.WithFields(Fields{"level": l.GetLevel().String(), "file": opts.File}).Debug("logging_configured")
}

// SetLevel changes the level at runtime, e.g. on SIGHUP.
func SetLevel(level string) {
	GetChatLogger().SetLevel(parseLevel(level))
}

func parseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.DebugLevel
	}
}

func InitializeChatLogger() {
	once.Do(func() {
		log = &Logger{}
		log.Logger = logrus.New()
		// We do not want to log by default
		log.SetOutput(io.Discard)
		log.SetLevel(logrus.PanicLevel)
		if logLevel := os.Getenv("SECURECHAT_DEBUG"); logLevel != "" {
			failFast = os.Getenv("SECURECHAT_WARNFAIL")
			if failFast != "" {
				logLevel = "debug"
			}
			log.SetOutput(os.Stdout)
			log.SetLevel(parseLevel(logLevel))
			log.WithField("level", log.GetLevel()).Debug("Logging enabled.")
		}
	})
}

// GetChatLogger returns the initialized Logger
func GetChatLogger() *Logger {
	if log == nil {
		InitializeChatLogger()
	}
	return log
}

func init() {
	InitializeChatLogger()
}
