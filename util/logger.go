package util

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// NewLogger builds the root logger. Components derive their own with
// WithPrefix. Unknown levels fall back to info.
func NewLogger(level string, w io.Writer) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	logger := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		Prefix:          Name,
	})
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}

// DiscardLogger returns a logger that writes nowhere, for tests.
func DiscardLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{})
}
