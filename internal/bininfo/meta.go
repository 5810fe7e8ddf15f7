// Values in this file are injected at build time with -ldflags "-X".
// Renaming the variables breaks the release build.

package bininfo

var (
	// Version is the SemVer version of the binary.
	Version = "v0.0.0"

	// BuildTime is the time at which the binary was built.
	BuildTime = "1970-01-01T00:00:00Z"
)
