package release

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// manifestFileMode is the permission used for the written manifest.
const manifestFileMode os.FileMode = 0o644

var errReleaseIsNotSet = errors.New("release is not set")

// Manifest describes a published release archive.
type Manifest struct {
	// Version is the upstream version token the archive was built from.
	Version string `yaml:"version"`
	// ArchiveURL is where the upstream archive was downloaded from.
	ArchiveURL string `yaml:"archive_url"`
	// Archive is the local file name of the published archive.
	Archive string `yaml:"archive"`
	// ArchiveChecksum is the base64-encoded SHA-512 of the published archive.
	ArchiveChecksum string `yaml:"archive_checksum"`
	// Entry is the path of the replaced file inside the archive.
	Entry string `yaml:"entry"`
	// EntryURL is where the replacement file was downloaded from.
	EntryURL string `yaml:"entry_url"`
	// EntryChecksum is the base64-encoded SHA-512 of the replacement file.
	EntryChecksum string `yaml:"entry_checksum"`
	// GeneratedAt is the UTC time the archive was published.
	GeneratedAt time.Time `yaml:"generated_at"`
}

// NewManifest produces a Manifest for the release with raw checksums encoded as base64.
func NewManifest(rel *Release, archive string, archiveChecksum []byte, entry, entryURL string, entryChecksum []byte) (*Manifest, error) {
	if rel == nil {
		return nil, errReleaseIsNotSet
	}

	return &Manifest{
		Version:         rel.Version,
		ArchiveURL:      rel.ArchiveURL,
		Archive:         filepath.Base(archive),
		ArchiveChecksum: base64.StdEncoding.EncodeToString(archiveChecksum),
		Entry:           entry,
		EntryURL:        entryURL,
		EntryChecksum:   base64.StdEncoding.EncodeToString(entryChecksum),
		GeneratedAt:     time.Now().UTC(),
	}, nil
}

// Save writes the manifest as YAML.
func (m *Manifest) Save(path string) error {
	contents, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	if err = os.WriteFile(filepath.Clean(path), contents, manifestFileMode); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	return nil
}

// LoadManifest reads a manifest written by Save.
func LoadManifest(path string) (*Manifest, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err = yaml.Unmarshal(contents, &m); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}

	return &m, nil
}
