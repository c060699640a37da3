// Package version exposes build metadata for the flag-arbiter binaries.
//
// Version, Commit and BuildTime are set with -ldflags "-X" and keep their
// defaults in local builds.
package version
