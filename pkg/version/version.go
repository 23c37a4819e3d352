// Package version holds build-time identifiers, normally set via
// -ldflags at build time.
package version

// Version is the build version, overridden via -ldflags at build time.
var Version = "devel"

// GitCommit is the commit hash this binary was built from, overridden via
// -ldflags at build time.
var GitCommit = "unknown"
