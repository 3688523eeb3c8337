// Package version carries build metadata for dispatchd.
package version

// Overridden via -ldflags at release build time, e.g.
// -X github.com/opsdeck/dispatch/internal/version.Version=v1.2.0
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)
