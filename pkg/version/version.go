// Package version exposes build identification for the weft binary.
package version

import (
	"fmt"
	"runtime"
)

// Populated at build time via -ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
	GoVersion = runtime.Version()
)

// String returns a single-line version summary.
func String() string {
	return fmt.Sprintf("weft %s (commit %s, built %s, %s)", Version, GitCommit, BuildTime, GoVersion)
}

// Info returns version information keyed for structured output.
func Info() map[string]string {
	return map[string]string{
		"version":   Version,
		"buildTime": BuildTime,
		"gitCommit": GitCommit,
		"goVersion": GoVersion,
	}
}
