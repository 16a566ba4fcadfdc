// Package version exposes build metadata for ij-latest.
//
// Version, Commit and BuildTime are injected with -ldflags at build time.
package version
