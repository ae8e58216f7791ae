// Package logging builds the logrus logger shared by the CLI and the
// reconciler.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

const timestampFormat = "2006-01-02T15:04:05Z07:00"

// Options controls logger construction.
type Options struct {
	// Level is a logrus level name. Unknown values fall back to info.
	Level string
	// Format is "text" or "json".
	Format string
	// Output defaults to stderr so stdout stays reserved for results.
	Output io.Writer
}

// New returns a configured logger.
func New(opts Options) *logrus.Logger {
	log := logrus.New()

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	log.SetOutput(out)

	if opts.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
		})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: timestampFormat,
		})
	}

	lvl, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)

	return log
}

// Discard returns a logger that drops everything. Used where a caller has
// no logger to hand in.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// WithComponent tags entries with the emitting component.
func WithComponent(log logrus.FieldLogger, component string) logrus.FieldLogger {
	if log == nil {
		log = Discard()
	}
	return log.WithField("component", component)
}
