// Package version carries build metadata stamped in at link time:
//
//	go build -ldflags "-X .../internal/version.Version=v1.2.0 ..."
package version

var (
	// Version is the release tag, or "dev" for local builds.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is when the binary was built.
	BuildTime = "unknown"
)
