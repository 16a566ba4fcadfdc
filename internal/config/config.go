package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the remote locations and local layout used by a refresh run.
type Config struct {
	// VersionListURL points to the text listing whose first line is the latest version.
	VersionListURL string `yaml:"version_list_url"`
	// ArchiveBaseURL is the prefix the versioned archive name is appended to verbatim.
	ArchiveBaseURL string `yaml:"archive_base_url"`
	// EntryURL is where the replacement embedded file is downloaded from.
	EntryURL string `yaml:"entry_url"`
	// NamePrefix replaces the leading "v" of the version token.
	NamePrefix string `yaml:"name_prefix"`
	// Entry is the slash-separated path of the replaced file inside the archive.
	Entry string `yaml:"entry"`
	// OutputPath is where the distributable archive is published.
	OutputPath string `yaml:"output"`
	// ExtractDir is the top-level directory the archive unpacks into (repack mode).
	ExtractDir string `yaml:"extract_dir"`
	// ManifestPath is an optional path for the release manifest; empty disables it.
	ManifestPath string `yaml:"manifest,omitempty"`
	// Mode selects how the embedded file is replaced: "repack" or "patch".
	Mode string `yaml:"mode"`
	// Archiver selects the unpack/pack implementation used in repack mode: "command" or "native".
	Archiver string `yaml:"archiver"`
	// Timeout bounds every HTTP request.
	Timeout time.Duration `yaml:"timeout"`
	// UserAgent is sent with every HTTP request.
	UserAgent string `yaml:"user_agent"`
}

const (
	// DefaultConfigFilename is the default filename for settings.
	DefaultConfigFilename = "ij-latest-settings.yaml"

	// DefaultSiteURL is the root of the ImageJ download site.
	DefaultSiteURL = "http://rsb.info.nih.gov/ij/"

	// DefaultVersionListURL lists available versions, newest first.
	DefaultVersionListURL = DefaultSiteURL + "download/jars/list.txt"

	// DefaultArchiveBaseURL is the folder holding versioned release archives.
	DefaultArchiveBaseURL = DefaultSiteURL + "download/zips/"

	// DefaultEntryURL is the upgrade build of the embedded file.
	DefaultEntryURL = DefaultSiteURL + "upgrade/ij.jar"

	// DefaultNamePrefix replaces the leading "v" of the version token.
	DefaultNamePrefix = "ij"

	// DefaultOutputPath is the published archive name.
	DefaultOutputPath = "ij-latest.zip"

	// DefaultExtractDir is the top-level directory of the release archive.
	DefaultExtractDir = "ImageJ"

	// DefaultEntry is the embedded file replaced in the archive.
	DefaultEntry = DefaultExtractDir + "/ij.jar"

	// DefaultTimeout bounds every HTTP request.
	DefaultTimeout = 5 * time.Minute

	// DefaultUserAgent is sent with every HTTP request.
	DefaultUserAgent = "ij-latest"

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600
)

const (
	// ModeRepack unpacks the archive, overwrites the entry and packs it again.
	ModeRepack = "repack"
	// ModePatch replaces the entry inside the archive without unpacking.
	ModePatch = "patch"

	// ArchiverCommand shells out to the unzip and zip tools.
	ArchiverCommand = "command"
	// ArchiverNative uses archive/zip.
	ArchiverNative = "native"
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errUnknownMode is returned for a mode other than repack or patch.
	errUnknownMode = errors.New("unknown mode")
	// errUnknownArchiver is returned for an archiver other than command or native.
	errUnknownArchiver = errors.New("unknown archiver")
	// errEntryOutsideExtractDir is returned when repack mode cannot reach the entry.
	errEntryOutsideExtractDir = errors.New("entry must be inside the extract directory")
	// errInvalidEntry is returned for empty or escaping entry paths.
	errInvalidEntry = errors.New("invalid entry path")
)

// Default returns the settings that reproduce the stock behavior.
func Default() *Config {
	return &Config{
		VersionListURL: DefaultVersionListURL,
		ArchiveBaseURL: DefaultArchiveBaseURL,
		EntryURL:       DefaultEntryURL,
		NamePrefix:     DefaultNamePrefix,
		Entry:          DefaultEntry,
		OutputPath:     DefaultOutputPath,
		ExtractDir:     DefaultExtractDir,
		Mode:           ModeRepack,
		Archiver:       ArchiverCommand,
		Timeout:        DefaultTimeout,
		UserAgent:      DefaultUserAgent,
	}
}

// Load reads configuration from the provided path and validates it.
// An empty path falls back to DefaultConfigFilename, and a missing default
// file yields the defaults.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFilename
	}

	cfg := Default()

	contents, err := os.ReadFile(filepath.Clean(path))

	switch {
	case err == nil:
		if err = yaml.Unmarshal(contents, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal settings: %w", err)
		}
	case !explicit && errors.Is(err, os.ErrNotExist):
		// Defaults only.
	default:
		return nil, fmt.Errorf("read settings: %w", err)
	}

	if err = Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes settings to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings and fills zero fields with defaults.
//
//nolint:cyclop // Sequential field checks read best in one place.
func Validate(settings *Config) error {
	if settings == nil {
		return errConfigIsNotSet
	}

	fillDefaults(settings)

	for name, value := range map[string]string{
		"version list URL": settings.VersionListURL,
		"archive base URL": settings.ArchiveBaseURL,
		"entry URL":        settings.EntryURL,
	} {
		if _, err := url.ParseRequestURI(value); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	switch settings.Mode {
	case ModeRepack, ModePatch:
	default:
		return fmt.Errorf("%w: %s", errUnknownMode, settings.Mode)
	}

	switch settings.Archiver {
	case ArchiverCommand, ArchiverNative:
	default:
		return fmt.Errorf("%w: %s", errUnknownArchiver, settings.Archiver)
	}

	entry := path.Clean(settings.Entry)
	if entry == "." || path.IsAbs(entry) || strings.HasPrefix(entry, "../") || entry == ".." {
		return fmt.Errorf("%w: %s", errInvalidEntry, settings.Entry)
	}

	settings.Entry = entry

	if settings.Mode == ModeRepack && !strings.HasPrefix(entry, path.Clean(settings.ExtractDir)+"/") {
		return fmt.Errorf("%w: %s not in %s", errEntryOutsideExtractDir, entry, settings.ExtractDir)
	}

	return nil
}

// fillDefaults sets defaults for fields left empty.
func fillDefaults(settings *Config) {
	defaults := Default()

	if settings.VersionListURL == "" {
		settings.VersionListURL = defaults.VersionListURL
	}

	if settings.ArchiveBaseURL == "" {
		settings.ArchiveBaseURL = defaults.ArchiveBaseURL
	}

	if settings.EntryURL == "" {
		settings.EntryURL = defaults.EntryURL
	}

	if settings.NamePrefix == "" {
		settings.NamePrefix = defaults.NamePrefix
	}

	if settings.Entry == "" {
		settings.Entry = defaults.Entry
	}

	if settings.OutputPath == "" {
		settings.OutputPath = defaults.OutputPath
	}

	if settings.ExtractDir == "" {
		settings.ExtractDir = defaults.ExtractDir
	}

	if settings.Mode == "" {
		settings.Mode = defaults.Mode
	}

	if settings.Archiver == "" {
		settings.Archiver = defaults.Archiver
	}

	if settings.Timeout <= 0 {
		settings.Timeout = defaults.Timeout
	}

	if settings.UserAgent == "" {
		settings.UserAgent = defaults.UserAgent
	}
}
