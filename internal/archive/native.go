package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// directoryMode is the permission of directories created while unpacking.
const directoryMode os.FileMode = 0o755

var errUnsafePath = errors.New("entry escapes target directory")

// NativeArchiver implements Archiver with archive/zip.
type NativeArchiver struct{}

// NewNativeArchiver creates a NativeArchiver.
func NewNativeArchiver() *NativeArchiver {
	return &NativeArchiver{}
}

// Unpack extracts archive below dir. Symbolic links are skipped.
func (a *NativeArchiver) Unpack(ctx context.Context, archive, dir string) error {
	reader, err := zip.OpenReader(filepath.Clean(archive))
	if err != nil {
		return fmt.Errorf("open archive %s: %w", archive, err)
	}

	defer func() {
		_ = reader.Close()
	}()

	for _, file := range reader.File {
		if err = ctx.Err(); err != nil {
			return err
		}

		if err = extractFile(file, dir); err != nil {
			return err
		}
	}

	return nil
}

// extractFile writes a single archive entry below dir.
func extractFile(file *zip.File, dir string) error {
	rel := filepath.Clean(filepath.FromSlash(file.Name))
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("%s: %w", file.Name, errUnsafePath)
	}

	target := filepath.Join(dir, rel)
	mode := file.Mode()

	switch {
	case mode.IsDir():
		return os.MkdirAll(target, directoryMode)
	case mode&fs.ModeSymlink != 0:
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(target), directoryMode); err != nil {
		return err
	}

	perm := mode.Perm()
	if perm == 0 {
		perm = archiveFileMode
	}

	entryReader, err := file.Open()
	if err != nil {
		return fmt.Errorf("open entry %s: %w", file.Name, err)
	}

	defer func() {
		_ = entryReader.Close()
	}()

	output, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}

	if _, err = io.Copy(output, entryReader); err != nil {
		_ = output.Close()

		return fmt.Errorf("extract %s: %w", file.Name, err)
	}

	return output.Close()
}

// Pack writes the tree at dir/root into archive.
func (a *NativeArchiver) Pack(ctx context.Context, dir, root, archive string) error {
	output, err := os.OpenFile(filepath.Clean(archive), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, archiveFileMode)
	if err != nil {
		return fmt.Errorf("create archive %s: %w", archive, err)
	}

	writer := zip.NewWriter(output)

	err = filepath.WalkDir(filepath.Join(dir, root), func(current string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		return addToArchive(writer, dir, current, entry)
	})
	if err == nil {
		err = writer.Close()
	}

	if closeErr := output.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(archive)

		return fmt.Errorf("pack %s: %w", archive, err)
	}

	return nil
}

// addToArchive writes one directory or regular file to writer, named relative to dir.
func addToArchive(writer *zip.Writer, dir, current string, entry fs.DirEntry) error {
	info, err := entry.Info()
	if err != nil {
		return err
	}

	if !info.IsDir() && !info.Mode().IsRegular() {
		return nil
	}

	rel, err := filepath.Rel(dir, current)
	if err != nil {
		return err
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}

	header.Name = filepath.ToSlash(rel)
	if info.IsDir() {
		header.Name += "/"
		_, err = writer.CreateHeader(header)

		return err
	}

	header.Method = zip.Deflate

	entryWriter, err := writer.CreateHeader(header)
	if err != nil {
		return err
	}

	input, err := os.Open(current)
	if err != nil {
		return err
	}

	defer func() {
		_ = input.Close()
	}()

	_, err = io.Copy(entryWriter, input)

	return err
}
