package refresher

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/ij-latest/internal/logger"

	// Ensure SHA512 available for checksum calculation.
	_ "crypto/sha512"
)

const (
	// MarkerFilename marks that a refresh is running right now to avoid parallel runs
	// against the same output directory.
	MarkerFilename = ".ij-latest.marker"

	// DefaultFileMode is the permission of the published archive.
	DefaultFileMode os.FileMode = 0o644

	// DefaultChecksumFunction is used to verify the published archive and fill the manifest.
	DefaultChecksumFunction crypto.Hash = crypto.SHA512

	// directoryMode is the permission of directories created while repacking.
	directoryMode os.FileMode = 0o755

	// markerLifetime is the period after which a marker is ignored even if its owner is alive.
	markerLifetime = 6 * time.Hour

	// markerFileMode is the permission of the marker file.
	markerFileMode os.FileMode = 0o600
)

var (
	errHashUnavailable = errors.New("hash function unavailable")
	errAlreadyRunning  = errors.New("another refresh is running in this directory")
)

// GetFileChecksum returns checksum bytes for a file using DefaultChecksumFunction.
func GetFileChecksum(path string) ([]byte, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}

	return checksum(contents)
}

// checksum hashes contents with DefaultChecksumFunction.
func checksum(contents []byte) ([]byte, error) {
	if !DefaultChecksumFunction.Available() {
		return nil, fmt.Errorf("checksum calculation not possible: %w", errHashUnavailable)
	}

	hasher := DefaultChecksumFunction.New()
	if _, err := hasher.Write(contents); err != nil {
		return nil, fmt.Errorf("calculate checksum: %w", err)
	}

	return hasher.Sum(nil), nil
}

// IsRunningNow checks the marker at path. A marker is live while the process
// recorded in it exists and the marker is younger than markerLifetime; stale
// markers are removed.
func IsRunningNow(ctx context.Context, path string) bool {
	logger.Debug(ctx, "Checking for the presence of a run marker")

	fileInfo, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false
	}

	if err != nil {
		logger.Warnf(ctx, "Unable to read run marker: %v", err)
		return false
	}

	if time.Since(fileInfo.ModTime()) <= markerLifetime && markerOwnerAlive(ctx, path) {
		return true
	}

	logger.InfoKV(ctx, "The run marker is stale, removing it", "path", path)

	if err = os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return true
	}

	return false
}

// markerOwnerAlive reports whether the PID stored in the marker belongs to a running process.
func markerOwnerAlive(ctx context.Context, path string) bool {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return false
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(contents)))
	if err != nil || pid <= 0 {
		logger.Debugf(ctx, "Run marker %s holds no valid PID", path)
		return false
	}

	process, err := ps.FindProcess(pid)
	if err != nil || process == nil {
		return false
	}

	logger.DebugKV(ctx, "Run marker owner is alive", "pid", pid, "executable", process.Executable())

	return true
}

// acquireMarker creates the marker holding the current PID.
func acquireMarker(path string) error {
	marker, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_EXCL|os.O_WRONLY, markerFileMode)
	if errors.Is(err, os.ErrExist) {
		return errAlreadyRunning
	}

	if err != nil {
		return fmt.Errorf("create run marker: %w", err)
	}

	if _, err = marker.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		_ = marker.Close()
		_ = os.Remove(path)

		return fmt.Errorf("write run marker: %w", err)
	}

	return marker.Close()
}
