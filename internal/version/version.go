// Package version identifies the client library in handshakes and
// recording headers.
package version

import "fmt"

var (
	// Version is the library version, set with -ldflags at build time.
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// Language is reported to devices as the client implementation language.
const Language = "go"

// String formats the version for --version output.
func String() string {
	return fmt.Sprintf("%s (%s, built %s)", Version, GitSHA, BuildTime)
}
