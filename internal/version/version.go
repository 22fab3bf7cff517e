// Package version carries build stamps injected with -ldflags.
package version

import "fmt"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String formats the build stamps for the -version flag.
func String() string {
	return fmt.Sprintf("localba %s (%s, built %s)", Version, GitSHA, BuildTime)
}
