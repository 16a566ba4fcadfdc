// Package refresher builds a distributable ImageJ archive with an up-to-date
// embedded ij.jar.
//
// It reads the latest version from the remote version list, downloads the
// matching release archive and the upgrade jar to a temporary directory,
// swaps the jar into the archive (by unpacking and repacking, or by patching
// the archive directly), verifies the result and atomically publishes it.
package refresher
