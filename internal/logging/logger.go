// File: internal/logging/logger.go
// ============================================
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

const megabyte = 1024 * 1024

var base = newLogger()

// Options configures the process-wide logger.
type Options struct {
	Level      string
	File       string
	MaxBytes   int
	MaxBackups int
}

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return l
}

// Setup applies level and sinks. With a file configured the output goes to
// both stdout and a size-rotated file.
func Setup(opts Options) error {
	level := strings.ToLower(strings.TrimSpace(opts.Level))
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	base.SetLevel(lvl)

	if opts.File == "" {
		base.SetOutput(os.Stdout)
		return nil
	}
	if dir := filepath.Dir(opts.File); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	maxSize := opts.MaxBytes / megabyte
	if maxSize < 1 {
		maxSize = 1
	}
	sink := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    maxSize,
		MaxBackups: opts.MaxBackups,
		Compress:   true,
	}
	base.SetOutput(io.MultiWriter(os.Stdout, sink))
	return nil
}

// For returns an entry tagged with the component name.
func For(component string) *logrus.Entry {
	return base.WithField("component", component)
}

func Logger() *logrus.Logger {
	return base
}
