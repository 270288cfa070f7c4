//go:build !stdlog && !nolog
// +build !stdlog,!nolog

package build

// LoggingType is a log type that writes to the primary log backend.
const LoggingType = LogTypeDefault
