// Package version exposes build metadata for the door monitor binaries.
//
// Variables Version, Commit, and BuildTime are injected at build time via
// Go ldflags. Short, Full and UserAgent render them for CLI output, logs
// and outbound notification requests.
package version
