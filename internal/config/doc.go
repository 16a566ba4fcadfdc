// Package config defines the settings used by ij-latest and provides
// helpers to load, validate and save them in YAML format.
//
// The Config type holds the remote locations of the version list, the release
// archives and the replacement file, plus the local output layout.
package config
