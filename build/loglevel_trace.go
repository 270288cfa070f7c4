//go:build trace && !nolog
// +build trace,!nolog

package build

// LogLevel specifies the trace log level.
var LogLevel = "trace"
