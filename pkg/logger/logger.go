package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls log level, format and optional file rotation.
type Config struct {
	Level      string
	Format     string // "json" or "text"
	Output     string // "stdout" or a file path
	MaxSize    int    // MB per rotated file
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// Logger wraps logrus with field helpers used across the bot. The
// With* methods return a derived Logger so scoped fields can be kept
// on long-lived components.
type Logger struct {
	log logrus.FieldLogger
}

func New(cfg Config) *Logger {
	log := logrus.New()

	switch strings.ToLower(cfg.Format) {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	switch strings.ToLower(cfg.Level) {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}

	var writer io.Writer
	if cfg.Output != "" && cfg.Output != "stdout" {
		writer = &lumberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
			LocalTime:  true,
		}
	} else {
		writer = os.Stdout
	}
	log.SetOutput(writer)

	return &Logger{log: log}
}

// Discard returns a logger that writes nowhere; used in tests.
func Discard() *Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return &Logger{log: log}
}

func (l *Logger) Debug(msg string) { l.log.Debug(msg) }
func (l *Logger) Info(msg string)  { l.log.Info(msg) }
func (l *Logger) Warn(msg string)  { l.log.Warn(msg) }
func (l *Logger) Error(msg string) { l.log.Error(msg) }
func (l *Logger) Fatal(msg string) { l.log.Fatal(msg) }

func (l *Logger) Debugf(format string, args ...any) { l.log.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.log.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.log.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.log.Errorf(format, args...) }
func (l *Logger) Fatalf(format string, args ...any) { l.log.Fatalf(format, args...) }

func (l *Logger) WithFields(fields logrus.Fields) *Logger {
	return &Logger{log: l.log.WithFields(fields)}
}

func (l *Logger) WithError(err error) *Logger {
	return &Logger{log: l.log.WithError(err)}
}

func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{log: l.log.WithField("component", component)}
}

func (l *Logger) WithSymbol(symbol string) *Logger {
	return &Logger{log: l.log.WithField("symbol", symbol)}
}

func (l *Logger) WithOrderID(orderID int64) *Logger {
	return &Logger{log: l.log.WithField("order_id", orderID)}
}
