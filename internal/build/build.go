// Package build holds build-time metadata injected through ldflags.
package build

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)
