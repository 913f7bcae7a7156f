// Package logger builds the process-wide logrus logger. Output goes to
// stdout and, when a file is configured, to a size-rotated log file so
// long-running deployments keep bounded history.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls the log level and the optional rotating file sink.
type Config struct {
	Level      string // debug, info, warn, error
	File       string // rotating file path; empty = stdout only
	MaxSizeMB  int    // rotate after this many megabytes (0 = lumberjack default)
	MaxBackups int    // rotated files to keep
	MaxAgeDays int    // prune rotated files older than this
}

// New builds a logger writing to stdout plus the configured rotating file.
// Unparseable levels fall back to info.
func New(cfg Config) (*logrus.Logger, error) {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})

	out := io.Writer(os.Stdout)
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		})
	}
	log.SetOutput(out)

	return log, nil
}
