// Package logging wires the process's single pion/logging factory and
// hands out scope-tagged loggers to every other package. There is no
// package-level logger singleton here — callers are handed a logger
// explicitly, per SPEC_FULL.md's "no implicit module-level state" note.
package logging

import (
	"os"

	"github.com/pion/logging"
)

// NewFactory builds the shared logger factory. level controls the
// default log level for every scope that isn't overridden.
func NewFactory(level logging.LogLevel) logging.LoggerFactory {
	f := logging.NewDefaultLoggerFactory()
	f.Writer = os.Stderr
	f.DefaultLogLevel = level
	return f
}
