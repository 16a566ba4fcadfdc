package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestValidate checks required fields and format validations for Config.
func TestValidate(t *testing.T) {
	t.Parallel()

	require.Error(t, Validate(nil))

	// Empty settings are filled with defaults.
	settings := new(Config)
	require.NoError(t, Validate(settings))
	require.Equal(t, Default(), settings)

	// Bad URL.
	settings = &Config{VersionListURL: "not a url"}
	require.Error(t, Validate(settings))

	// Unknown mode.
	settings = &Config{Mode: "rebuild"}
	require.ErrorIs(t, Validate(settings), errUnknownMode)

	// Unknown archiver.
	settings = &Config{Archiver: "7z"}
	require.ErrorIs(t, Validate(settings), errUnknownArchiver)

	// Escaping entry.
	settings = &Config{Mode: ModePatch, Entry: "../ij.jar"}
	require.ErrorIs(t, Validate(settings), errInvalidEntry)

	// Repack needs the entry inside the extract directory.
	settings = &Config{Mode: ModeRepack, Entry: "plugins/ij.jar"}
	require.ErrorIs(t, Validate(settings), errEntryOutsideExtractDir)

	// Patch mode does not care about the extract directory.
	settings = &Config{Mode: ModePatch, Entry: "./plugins//ij.jar"}
	require.NoError(t, Validate(settings))
	require.Equal(t, "plugins/ij.jar", settings.Entry)
}

// TestValidate_KeepsArchiveBaseVerbatim leaves the archive base URL as configured.
func TestValidate_KeepsArchiveBaseVerbatim(t *testing.T) {
	t.Parallel()

	for _, base := range []string{"https://mirror.example.com/zips/", "https://mirror.example.com/zips/imagej-"} {
		settings := &Config{ArchiveBaseURL: base}
		require.NoError(t, Validate(settings))
		require.Equal(t, base, settings.ArchiveBaseURL)
	}
}

// TestSaveLoadRoundtrip ensures settings are persisted and loaded back correctly.
func TestSaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")

	settings := &Config{
		VersionListURL: "https://mirror.example.com/list.txt",
		ArchiveBaseURL: "https://mirror.example.com/zips/",
		EntryURL:       "https://mirror.example.com/ij.jar",
		Mode:           ModePatch,
		Archiver:       ArchiverNative,
		Timeout:        30 * time.Second,
	}

	require.NoError(t, Save(path, settings))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, settings, loaded)

	// File exists.
	_, err = os.Stat(path)
	require.NoError(t, err)
}

// TestLoad_Missing distinguishes a missing default file from a missing explicit one.
func TestLoad_Missing(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)

	_, err = Load("missing.yaml")
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestLoad_Partial keeps defaults for fields absent from the file.
func TestLoad_Partial(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mode: patch\ntimeout: 10s\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ModePatch, cfg.Mode)
	require.Equal(t, 10*time.Second, cfg.Timeout)
	require.Equal(t, DefaultVersionListURL, cfg.VersionListURL)
	require.Equal(t, DefaultEntry, cfg.Entry)
}

// TestSave_Nil rejects a nil configuration.
func TestSave_Nil(t *testing.T) {
	t.Parallel()

	require.Error(t, Save(filepath.Join(t.TempDir(), "x.yaml"), nil))
}
