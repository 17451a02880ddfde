// Package version exposes a build-stamped version string.
package version

// Version is overridden at build time via -ldflags
// "-X github.com/m-lab/iperf3-go/internal/version.Version=...".
var Version = "devel"
