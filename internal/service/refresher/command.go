package refresher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	goupdate "github.com/doitdistributed/go-update"

	"github.com/oshokin/ij-latest/internal/archive"
	"github.com/oshokin/ij-latest/internal/config"
	"github.com/oshokin/ij-latest/internal/domain/release"
	"github.com/oshokin/ij-latest/internal/logger"
	"github.com/oshokin/ij-latest/internal/service/common"
)

var (
	errEntryMismatch      = errors.New("archive entry does not match the downloaded file")
	errExtractDirNotFound = errors.New("archive did not unpack into the extract directory")
	errOptionsAreNotSet   = errors.New("options are not set")
)

// stagedArchiveName is the file name of the archive built in the temporary directory.
const stagedArchiveName = "staged.zip"

// Options are inputs accepted by the refresher entry points.
// Empty fields keep the values from the configuration file.
type Options struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
	// Mode overrides the replacement mode ("repack" or "patch").
	Mode string
	// OutputPath overrides where the archive is published.
	OutputPath string
	// ManifestPath overrides where the release manifest is written.
	ManifestPath string
	// Archiver overrides the repack archiver ("command" or "native").
	Archiver string
}

// runner holds the state of a single refresh.
// It is intentionally unexported: call Run(ctx, Options) from callers.
type runner struct {
	cfg      *config.Config   // Settings with overrides applied.
	client   *common.Client   // HTTP client for every download.
	archiver archive.Archiver // Unpack/pack implementation for repack mode.

	workDirectory      string // Directory holding the output archive.
	markerPath         string // Run marker inside workDirectory.
	extractPath        string // Extraction directory inside workDirectory (repack mode).
	temporaryDirectory string // Private directory for downloads and the staged archive.

	release     *release.Release // Latest upstream release.
	archivePath string           // Downloaded upstream archive.
	entryPath   string           // Downloaded replacement file.
	stagedPath  string           // Archive with the replaced entry, ready to publish.

	stagedChecksum []byte // Checksum of the staged archive taken before verification.
}

// Run executes a refresh and is the public entry point for the CLI.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "ij-latest")

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	ctx = logger.WithKV(ctx, "mode", cfg.Mode)

	r, err := newRunner(ctx, cfg)
	if err != nil {
		return err
	}

	defer r.cleanup(ctx)

	if err = r.Run(ctx); err != nil {
		logger.ErrorKV(ctx, "Refresh failed", "error", err)
		return err
	}

	logger.InfoKV(ctx, "Refresh completed", "output", cfg.OutputPath)

	return nil
}

// Resolve reads the version list and returns the latest release without downloading it.
func Resolve(ctx context.Context, opts *Options) (*release.Release, error) {
	ctx = logger.WithName(ctx, "ij-latest")

	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	return resolveRelease(ctx, newClient(cfg), cfg)
}

// loadConfig reads the settings and applies the option overrides.
func loadConfig(opts *Options) (*config.Config, error) {
	if opts == nil {
		return nil, errOptionsAreNotSet
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	if opts.Mode != "" {
		cfg.Mode = opts.Mode
	}

	if opts.OutputPath != "" {
		cfg.OutputPath = opts.OutputPath
	}

	if opts.ManifestPath != "" {
		cfg.ManifestPath = opts.ManifestPath
	}

	if opts.Archiver != "" {
		cfg.Archiver = opts.Archiver
	}

	if err = config.Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newClient creates the HTTP client configured by cfg.
func newClient(cfg *config.Config) *common.Client {
	return common.NewClient(
		common.WithCallTimeout(cfg.Timeout),
		common.WithUserAgent(cfg.UserAgent),
	)
}

// newRunner prepares the run and writes a marker to avoid concurrent runs.
func newRunner(ctx context.Context, cfg *config.Config) (*runner, error) {
	archiver, err := archive.NewArchiver(cfg.Archiver)
	if err != nil {
		return nil, err
	}

	workDirectory := filepath.Dir(filepath.Clean(cfg.OutputPath))

	r := &runner{
		cfg:           cfg,
		client:        newClient(cfg),
		archiver:      archiver,
		workDirectory: workDirectory,
		markerPath:    filepath.Join(workDirectory, MarkerFilename),
		extractPath:   filepath.Join(workDirectory, filepath.FromSlash(cfg.ExtractDir)),
	}

	if IsRunningNow(ctx, r.markerPath) {
		return nil, errAlreadyRunning
	}

	if err = acquireMarker(r.markerPath); err != nil {
		return nil, err
	}

	return r, nil
}

// Run executes the workflow for this runner instance:
// 1) Remove a stale extraction directory.
// 2) Resolve the latest release.
// 3) Download the archive and the replacement file.
// 4) Replace the entry.
// 5) Verify the entry.
// 6) Publish the archive and the manifest.
func (r *runner) Run(ctx context.Context) error {
	if r.cfg.Mode == config.ModeRepack {
		if err := r.removeExtractDirectory(ctx); err != nil {
			return err
		}
	}

	rel, err := resolveRelease(ctx, r.client, r.cfg)
	if err != nil {
		return err
	}

	r.release = rel

	if err = r.download(ctx); err != nil {
		return err
	}

	if err = r.stage(ctx); err != nil {
		return err
	}

	if r.stagedChecksum, err = GetFileChecksum(r.stagedPath); err != nil {
		return err
	}

	logger.Info(ctx, "Verifying the replaced entry")

	if err = r.verify(); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Publishing archive", "path", r.cfg.OutputPath)

	if err = r.publish(); err != nil {
		return fmt.Errorf("publish archive: %w", err)
	}

	if r.cfg.ManifestPath == "" {
		return nil
	}

	logger.InfoKV(ctx, "Saving release manifest", "path", r.cfg.ManifestPath)

	if err = r.saveManifest(r.stagedChecksum); err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}

	return nil
}

// resolveRelease downloads the version list and derives the archive URL.
func resolveRelease(ctx context.Context, client *common.Client, cfg *config.Config) (*release.Release, error) {
	logger.InfoKV(ctx, "Downloading the version list", "url", cfg.VersionListURL)

	body, err := client.Open(ctx, cfg.VersionListURL)
	if err != nil {
		return nil, fmt.Errorf("download version list: %w", err)
	}

	line, err := release.ParseVersionList(body)

	_ = body.Close()

	if err != nil {
		return nil, fmt.Errorf("parse version list: %w", err)
	}

	rel, err := release.Resolve(cfg.ArchiveBaseURL, line, cfg.NamePrefix)
	if err != nil {
		return nil, fmt.Errorf("resolve latest release: %w", err)
	}

	logger.InfoKV(ctx, "Latest release", "version", rel.Version, "url", rel.ArchiveURL)

	return rel, nil
}

// download fetches the release archive and the replacement file into a temporary directory.
func (r *runner) download(ctx context.Context) error {
	temporaryDirectory, err := os.MkdirTemp("", "ij-latest-")
	if err != nil {
		return err
	}

	r.temporaryDirectory = temporaryDirectory
	r.archivePath = filepath.Join(temporaryDirectory, r.release.Name+release.ArchiveExtension)
	r.entryPath = filepath.Join(temporaryDirectory, path.Base(r.cfg.Entry))
	r.stagedPath = filepath.Join(temporaryDirectory, stagedArchiveName)

	size, err := r.client.Download(ctx, r.release.ArchiveURL, r.archivePath)
	if err != nil {
		return fmt.Errorf("download release archive: %w", err)
	}

	logger.InfoKV(ctx, "Downloaded release archive", "path", r.archivePath, "bytes", size)

	logger.InfoKV(ctx, "Downloading replacement file", "url", r.cfg.EntryURL)

	size, err = r.client.Download(ctx, r.cfg.EntryURL, r.entryPath)
	if err != nil {
		return fmt.Errorf("download replacement file: %w", err)
	}

	logger.InfoKV(ctx, "Downloaded replacement file", "path", r.entryPath, "bytes", size)

	return nil
}

// stage builds the archive with the replaced entry at stagedPath.
func (r *runner) stage(ctx context.Context) error {
	switch r.cfg.Mode {
	case config.ModePatch:
		return r.patch(ctx)
	default:
		return r.repack(ctx)
	}
}

// patch swaps the entry inside the downloaded archive without unpacking it.
func (r *runner) patch(ctx context.Context) error {
	logger.InfoKV(ctx, "Replacing archive entry", "entry", r.cfg.Entry)

	entry, err := os.Open(r.entryPath)
	if err != nil {
		return err
	}

	defer func() {
		_ = entry.Close()
	}()

	replaced, err := archive.ReplaceEntry(r.archivePath, r.stagedPath, r.cfg.Entry, entry)
	if err != nil {
		return fmt.Errorf("replace entry: %w", err)
	}

	if !replaced {
		logger.WarnKV(ctx, "Entry was missing from the release archive, added it", "entry", r.cfg.Entry)
	}

	return nil
}

// repack unpacks the archive next to the output, overwrites the entry and packs the tree again.
func (r *runner) repack(ctx context.Context) error {
	// Only the extraction directory may be written next to the output.
	if err := archive.CheckRoot(r.archivePath, r.cfg.ExtractDir); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Unpacking release archive", "directory", r.extractPath)

	if err := r.archiver.Unpack(ctx, r.archivePath, r.workDirectory); err != nil {
		return fmt.Errorf("unpack archive: %w", err)
	}

	if info, err := os.Stat(r.extractPath); err != nil || !info.IsDir() {
		return fmt.Errorf("%s: %w", r.extractPath, errExtractDirNotFound)
	}

	contents, err := os.ReadFile(r.entryPath)
	if err != nil {
		return err
	}

	target := filepath.Join(r.workDirectory, filepath.FromSlash(r.cfg.Entry))
	if err = os.MkdirAll(filepath.Dir(target), directoryMode); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Overwriting embedded file", "path", target)

	// A symlinked entry is replaced, not followed.
	if err = os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	if err = os.WriteFile(target, contents, DefaultFileMode); err != nil {
		return err
	}

	logger.Info(ctx, "Packing the archive")

	if err = r.archiver.Pack(ctx, r.workDirectory, r.cfg.ExtractDir, r.stagedPath); err != nil {
		return fmt.Errorf("pack archive: %w", err)
	}

	return r.removeExtractDirectory(ctx)
}

// verify checks the staged entry against the downloaded file byte for byte.
func (r *runner) verify() error {
	want, err := os.ReadFile(r.entryPath)
	if err != nil {
		return err
	}

	got, err := archive.ReadEntry(r.stagedPath, r.cfg.Entry)
	if err != nil {
		return err
	}

	if !bytes.Equal(want, got) {
		return fmt.Errorf("%s: %w", r.cfg.Entry, errEntryMismatch)
	}

	return nil
}

// publish atomically replaces the output with the staged archive using go-update.
// The staged bytes must still match the checksum taken before verification.
func (r *runner) publish() error {
	data, err := os.ReadFile(r.stagedPath)
	if err != nil {
		return err
	}

	// go-update renames the existing target aside, so one has to exist.
	placeholder := false

	if _, err = os.Stat(r.cfg.OutputPath); errors.Is(err, os.ErrNotExist) {
		var target *os.File

		if target, err = os.Create(r.cfg.OutputPath); err != nil {
			return err
		}

		_ = target.Close()
		placeholder = true
	}

	options := goupdate.Options{
		TargetPath: r.cfg.OutputPath,
		TargetMode: DefaultFileMode,
		Checksum:   r.stagedChecksum,
		Hash:       DefaultChecksumFunction,
	}

	if err = goupdate.Apply(bytes.NewReader(data), options); err != nil {
		if placeholder {
			_ = os.Remove(r.cfg.OutputPath)
		}

		return err
	}

	return nil
}

// saveManifest writes the release manifest describing the published archive.
func (r *runner) saveManifest(archiveChecksum []byte) error {
	entryChecksum, err := GetFileChecksum(r.entryPath)
	if err != nil {
		return err
	}

	manifest, err := release.NewManifest(r.release, r.cfg.OutputPath, archiveChecksum,
		r.cfg.Entry, r.cfg.EntryURL, entryChecksum)
	if err != nil {
		return err
	}

	return manifest.Save(r.cfg.ManifestPath)
}

// removeExtractDirectory deletes the extraction directory if present.
func (r *runner) removeExtractDirectory(ctx context.Context) error {
	if _, err := os.Stat(r.extractPath); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	logger.InfoKV(ctx, "Removing extraction directory", "path", r.extractPath)

	if err := os.RemoveAll(r.extractPath); err != nil {
		return fmt.Errorf("remove extraction directory: %w", err)
	}

	return nil
}

// cleanup removes temporary artifacts, the extraction directory and the run marker.
func (r *runner) cleanup(ctx context.Context) {
	if r.temporaryDirectory != "" {
		_ = os.RemoveAll(r.temporaryDirectory)
	}

	if r.cfg.Mode == config.ModeRepack {
		_ = r.removeExtractDirectory(ctx)
	}

	if err := os.Remove(r.markerPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.WarnKV(ctx, "Unable to remove run marker", "path", r.markerPath, "error", err)
	}

	logger.Debug(ctx, "The refresher has been stopped")
}
