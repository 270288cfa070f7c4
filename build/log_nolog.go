//go:build nolog
// +build nolog

package build

// LogLevel is unused since nothing is logged.
var LogLevel = "none"

// LoggingType discards every package log.
const LoggingType = LogTypeNone
