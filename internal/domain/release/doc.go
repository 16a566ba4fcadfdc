// Package release contains the domain types describing an ImageJ release.
//
// It turns the first line of the remote version list into the name and URL of
// the versioned release archive, and defines the Manifest written next to a
// published archive.
package release
