// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package build

import (
	"os"

	"github.com/btcsuite/btclog"
)

// LogType selects where package loggers write when they are created before
// the daemon hands them a backend.  It is chosen with build tags.
type LogType byte

const (
	// LogTypeNone discards all output.
	LogTypeNone LogType = iota

	// LogTypeStdOut writes straight to stdout.  Tests build with stdlog
	// to see package output without a daemon.
	LogTypeStdOut

	// LogTypeDefault defers to the daemon's backend.
	LogTypeDefault
)

// String returns the build tag style name of the log type.
func (t LogType) String() string {
	switch t {
	case LogTypeNone:
		return "none"
	case LogTypeStdOut:
		return "stdout"
	case LogTypeDefault:
		return "default"
	default:
		return "unknown"
	}
}

// NewSubLogger returns the logger a package starts with.  When genSubLogger
// is nil the package stays silent unless this is a development build with
// stdout logging, in which case it writes to stdout at LogLevel.
func NewSubLogger(subsystem string,
	genSubLogger func(string) btclog.Logger) btclog.Logger {

	if LoggingType == LogTypeNone {
		return btclog.Disabled
	}

	if genSubLogger != nil {
		return genSubLogger(subsystem)
	}

	if Deployment == Development && LoggingType == LogTypeStdOut {
		return stdoutLogger(subsystem, LogLevel)
	}

	return btclog.Disabled
}

// stdoutLogger creates a logger on its own stdout backend.
func stdoutLogger(subsystem, level string) btclog.Logger {
	logger := btclog.NewBackend(os.Stdout).Logger(subsystem)

	// Unknown levels fall back to info.
	lvl, _ := btclog.LevelFromString(level)
	logger.SetLevel(lvl)

	return logger
}
