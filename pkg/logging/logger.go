// Package logging provides the structured logrus logger shared by every
// fleetwatch component. JSON output is the default; a file output is rotated
// with lumberjack.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const defaultMaxSizeMB = 100

// Fields is the structured field set accepted by the logger
type Fields = logrus.Fields

// Logger is a logrus logger that stamps every entry with the service name and
// version
type Logger struct {
	*logrus.Logger
	base logrus.Fields
}

// Config holds logging configuration
type Config struct {
	Level       string `json:"level"`
	Format      string `json:"format"`
	Output      string `json:"output"`
	ServiceName string `json:"service_name"`
	Version     string `json:"version"`

	// Rotation settings, only used when Output is a file path
	MaxSizeMB  int  `json:"max_size_mb"`
	MaxBackups int  `json:"max_backups"`
	MaxAgeDays int  `json:"max_age_days"`
	Compress   bool `json:"compress"`
}

func defaultConfig() *Config {
	return &Config{
		Level:       "info",
		Format:      "json",
		Output:      "stdout",
		ServiceName: "fleetwatch",
		Version:     "unknown",
	}
}

// NewLogger builds a logger from config; nil means JSON at info on stdout
func NewLogger(config *Config) (*Logger, error) {
	if config == nil {
		config = defaultConfig()
	}

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	formatter, err := formatterFor(config.Format)
	if err != nil {
		return nil, err
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(formatter)
	logger.SetOutput(outputFor(config))
	logger.SetReportCaller(true)

	return &Logger{
		Logger: logger,
		base: logrus.Fields{
			"service": config.ServiceName,
			"version": config.Version,
		},
	}, nil
}

func formatterFor(format string) (logrus.Formatter, error) {
	switch strings.ToLower(format) {
	case "json":
		return &logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "timestamp",
				logrus.FieldKeyMsg:  "message",
				logrus.FieldKeyFunc: "function",
			},
		}, nil
	case "text":
		return &logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		}, nil
	}
	return nil, fmt.Errorf("unsupported log format: %s", format)
}

// outputFor treats anything other than stdout or stderr as a file path
func outputFor(config *Config) io.Writer {
	switch strings.ToLower(config.Output) {
	case "", "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	}

	maxSize := config.MaxSizeMB
	if maxSize <= 0 {
		maxSize = defaultMaxSizeMB
	}
	return &lumberjack.Logger{
		Filename:   config.Output,
		MaxSize:    maxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAgeDays,
		Compress:   config.Compress,
	}
}

// WithFields returns an entry carrying the base fields plus fields
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	merged := make(logrus.Fields, len(l.base)+len(fields))
	for k, v := range l.base {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return l.Logger.WithFields(merged)
}

func (l *Logger) WithError(err error) *logrus.Entry {
	return l.WithFields(errorFields(err))
}

func (l *Logger) WithComponent(component string) *logrus.Entry {
	return l.WithFields(logrus.Fields{"component": component})
}

// SetOutput redirects the logger, mostly for tests
func (l *Logger) SetOutput(output io.Writer) {
	l.Logger.SetOutput(output)
}

// Info, Warn, Error and Debug take alternating keys and values. A trailing
// key without a value is dropped and error values are logged as strings.

func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.WithFields(kvFields(keysAndValues)).Info(msg)
}

func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.WithFields(kvFields(keysAndValues)).Warn(msg)
}

func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.WithFields(kvFields(keysAndValues)).Error(msg)
}

func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.WithFields(kvFields(keysAndValues)).Debug(msg)
}

func kvFields(keysAndValues []interface{}) logrus.Fields {
	fields := make(logrus.Fields, len(keysAndValues)/2)
	for i := 1; i < len(keysAndValues); i += 2 {
		value := keysAndValues[i]
		if err, ok := value.(error); ok && err != nil {
			value = err.Error()
		}
		fields[fmt.Sprint(keysAndValues[i-1])] = value
	}
	return fields
}

func errorFields(err error) logrus.Fields {
	return logrus.Fields{
		"error":      err.Error(),
		"error_type": fmt.Sprintf("%T", err),
	}
}

var globalLogger *Logger

func init() {
	logger, err := NewLogger(nil)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize global logger: %v", err))
	}
	globalLogger = logger
}

// GetLogger returns the process-wide logger
func GetLogger() *Logger {
	return globalLogger
}

// SetGlobalLogger replaces the process-wide logger
func SetGlobalLogger(logger *Logger) {
	globalLogger = logger
}
