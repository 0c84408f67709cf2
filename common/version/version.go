// Package version provides build-time version information
package version

import "runtime"

var (
	// Version is the semantic version (set via ldflags)
	Version = "v0.0.0-dev"

	// GitCommit is the git commit hash (set via ldflags)
	GitCommit = "unknown"

	// BuildTime is the build timestamp (set via ldflags)
	BuildTime = "unknown"
)

// Name is the assistant's product name.
const Name = "aren"

// Info returns a formatted version string
func Info() string {
	return Name + " " + Version + " (" + GitCommit + ") built at " + BuildTime + " " + runtime.GOOS + "/" + runtime.GOARCH
}

// Fields returns the version details as a flat map, used by the /status
// endpoint.
func Fields() map[string]string {
	return map[string]string{
		"name":       Name,
		"version":    Version,
		"commit":     GitCommit,
		"build_time": BuildTime,
		"go":         runtime.Version(),
	}
}
