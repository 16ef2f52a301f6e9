package common

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var logger = newLogger(os.Stderr)

func newLogger(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05.000000"})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// Logger exposes the shared logger for callers that want structured fields.
func Logger() *logrus.Logger { return logger }

func Logf(format string, args ...interface{}) {
	logger.Infof(format, args...)
}

func Debugf(format string, args ...interface{}) {
	logger.Debugf(format, args...)
}

func Warnf(format string, args ...interface{}) {
	logger.Warnf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	logger.Errorf(format, args...)
}

func Fatalf(format string, args ...interface{}) {
	logger.Fatalf(format, args...)
}

// LogOptions configures SetupLogging. An empty Directory logs to stderr only.
type LogOptions struct {
	Directory  string `yaml:"directory"`
	FileName   string `yaml:"fileName"`
	Level      string `yaml:"level"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	MaxBackups int    `yaml:"maxBackups"`
	Compress   bool   `yaml:"compress"`
}

// SetupLogging points the shared logger at stdout plus a rotating file.
func SetupLogging(opts LogOptions) error {
	if opts.Level != "" {
		lvl, err := logrus.ParseLevel(strings.TrimSpace(opts.Level))
		if err != nil {
			return fmt.Errorf("log level: %w", err)
		}
		logger.SetLevel(lvl)
	}
	if opts.Directory == "" {
		logger.SetOutput(os.Stderr)
		return nil
	}
	if err := os.MkdirAll(opts.Directory, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	name := opts.FileName
	if name == "" {
		name = "radarwire.log"
	}
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(opts.Directory, name),
		MaxSize:    opts.MaxSizeMB,
		MaxAge:     opts.MaxAgeDays,
		MaxBackups: opts.MaxBackups,
		Compress:   opts.Compress,
	}
	logger.SetOutput(io.MultiWriter(os.Stdout, rotator))
	return nil
}

// SetLogOutput redirects the shared logger, mainly for tests.
func SetLogOutput(w io.Writer) { logger.SetOutput(w) }
