// Package version carries the build-time version string for the daemon.
package version

// V is the version string printed at startup and in the help text.
// Overridden at build time via -ldflags "-X twine.dev/pkg/version.V=...".
var V = "v0.1.0-dev"
