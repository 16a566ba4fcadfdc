package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const (
	unzipTool = "unzip"
	zipTool   = "zip"
)

var errToolFailed = errors.New("archive tool failed")

// CommandArchiver implements Archiver with the unzip and zip command-line tools.
type CommandArchiver struct {
	unzip string
	zip   string
}

// NewCommandArchiver creates a CommandArchiver using the tools found on PATH.
func NewCommandArchiver() *CommandArchiver {
	return &CommandArchiver{
		unzip: unzipTool,
		zip:   zipTool,
	}
}

// Unpack runs `unzip -q -o archive` inside dir.
func (a *CommandArchiver) Unpack(ctx context.Context, archive, dir string) error {
	archive, err := filepath.Abs(archive)
	if err != nil {
		return err
	}

	return run(ctx, dir, a.unzip, "-q", "-o", archive)
}

// Pack runs `zip -qr archive root` inside dir. zip appends to existing
// archives, so any previous archive is removed first.
func (a *CommandArchiver) Pack(ctx context.Context, dir, root, archive string) error {
	archive, err := filepath.Abs(archive)
	if err != nil {
		return err
	}

	if err = os.Remove(archive); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove previous archive: %w", err)
	}

	return run(ctx, dir, a.zip, "-qr", archive, root)
}

// run executes tool in dir and folds its output into the returned error.
func run(ctx context.Context, dir, tool string, args ...string) error {
	path, err := exec.LookPath(tool)
	if err != nil {
		return fmt.Errorf("find %s: %w", tool, err)
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Dir = dir

	var output bytes.Buffer

	cmd.Stdout = &output
	cmd.Stderr = &output

	if err = cmd.Run(); err != nil {
		return fmt.Errorf("%s %s: %w: %w (%s)",
			tool, strings.Join(args, " "), errToolFailed, err, strings.TrimSpace(output.String()))
	}

	return nil
}
