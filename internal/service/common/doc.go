// Package common holds helpers shared by several services.
//
// It provides a lightweight HTTP client wrapper with per-request timeouts
// used to read the version list and download release artifacts.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
