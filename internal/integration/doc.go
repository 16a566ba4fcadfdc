// Package integration contains end-to-end tests that run the refresher
// against a local HTTP server laid out like the ImageJ download site.
package integration
