// Package logging provides flowsentinel's structured logging: a
// stream-splitting output writer (errors to stderr, everything else to
// stdout) wrapped around logrus, plus a contextual field helper used by the
// engine, stores and session manager to log structured events rather than
// free text.
package logging

import (
	"bytes"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

// OutputSplitter routes formatted log records to stderr when they carry
// "level=error" and to stdout otherwise, so container log collectors can
// apply different handling per stream.
type OutputSplitter struct{}

// Write implements io.Writer.
func (s *OutputSplitter) Write(p []byte) (int, error) {
	if bytes.Contains(p, []byte("level=error")) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Logger is the package-global logger. Components default to it when no
// logger is explicitly configured; it is always safe to use, never nil.
var Logger = logrus.New()

func init() {
	Logger.SetOutput(&OutputSplitter{})
}

// Config configures a logger built with New.
type Config struct {
	Level     string // debug|info|warn|error; default info
	Format    string // "json" or "text"; default text
	AddCaller bool
}

// New builds a logger configured per cfg, output routed through
// OutputSplitter.
func New(cfg Config) *logrus.Logger {
	logger := logrus.New()

	switch cfg.Level {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "warn":
		logger.SetLevel(logrus.WarnLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	logger.SetReportCaller(cfg.AddCaller)
	logger.SetOutput(&OutputSplitter{})
	return logger
}

// Fields is a thin alias over logrus.Fields for callers that don't want to
// import logrus directly.
type Fields = logrus.Fields

// Or returns logger if non-nil, else the package global. Used by components
// that accept an optional *logrus.Logger.
func Or(logger *logrus.Logger) *logrus.Logger {
	if logger != nil {
		return logger
	}
	return Logger
}

// Age renders t in human-readable relative form ("3 minutes ago", "2 hours
// from now"), for
// operator-facing diagnostics describing store entry expiry.
func Age(t time.Time) string {
	return humanize.Time(t)
}

// RelTTL renders the duration remaining until deadline, relative to now, in
// human-readable form.
func RelTTL(now, deadline time.Time) string {
	return humanize.RelTime(now, deadline, "", "ago")
}
