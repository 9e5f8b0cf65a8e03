// Package logging builds the daemon's logrus logger from configuration.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/denwilliams/go-mqtt-homelink/pkg/config"
	"github.com/sirupsen/logrus"
)

// New returns a logger for cfg. Output goes to stderr unless cfg.File is set,
// in which case the file is opened for appending and returned as a closer.
func New(cfg config.LoggingConfig) (*logrus.Logger, io.Closer, error) {
	logger := logrus.New()
	logger.SetLevel(parseLevel(cfg.Level))

	switch strings.ToLower(cfg.Format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if cfg.File == "" {
		logger.SetOutput(os.Stderr)
		return logger, io.NopCloser(nil), nil
	}

	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	logger.SetOutput(f)
	return logger, f, nil
}

// parseLevel defaults to info for anything unrecognised.
func parseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
