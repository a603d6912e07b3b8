// Package logging sets up the structured logger shared by every
// component in the coordinator and worker processes.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// New returns a logrus.Logger configured with the text formatter used
// across the daemon, writing to w (os.Stderr in production, a buffer in
// tests). level is parsed with logrus.ParseLevel; an unrecognised level
// falls back to info.
func New(w io.Writer, level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
	return logger
}

// Default returns the standard logger writing to stderr at info level,
// used by cmd/ entrypoints before flags are parsed.
func Default() *logrus.Logger {
	return New(os.Stderr, "info")
}
