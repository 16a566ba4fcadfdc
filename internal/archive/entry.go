package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// archiveFileMode is the permission of archives written by this package.
const archiveFileMode os.FileMode = 0o644

var (
	// ErrEntryNotFound is returned when an archive has no entry with the requested name.
	ErrEntryNotFound = errors.New("entry not found in archive")
	// ErrEntryOutsideRoot is returned when an archive holds entries outside the expected top-level directory.
	ErrEntryOutsideRoot = errors.New("archive entry outside root directory")
)

// ReplaceEntry writes a copy of the src archive to dst in which every entry
// named entry is dropped and a single entry with the given content is appended.
// Other entries are copied without recompression. It reports whether the
// entry existed in src.
func ReplaceEntry(src, dst, entry string, content io.Reader) (bool, error) {
	entry = path.Clean(entry)

	reader, err := zip.OpenReader(filepath.Clean(src))
	if err != nil {
		return false, fmt.Errorf("open archive %s: %w", src, err)
	}

	defer func() {
		_ = reader.Close()
	}()

	output, err := os.OpenFile(filepath.Clean(dst), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, archiveFileMode)
	if err != nil {
		return false, fmt.Errorf("create archive %s: %w", dst, err)
	}

	replaced, err := replaceEntry(&reader.Reader, output, entry, content)
	if err != nil {
		_ = output.Close()
		_ = os.Remove(dst)

		return false, err
	}

	if err = output.Close(); err != nil {
		return false, fmt.Errorf("close archive %s: %w", dst, err)
	}

	return replaced, nil
}

// replaceEntry streams reader into output, substituting entry.
func replaceEntry(reader *zip.Reader, output io.Writer, entry string, content io.Reader) (bool, error) {
	writer := zip.NewWriter(output)

	var previous *zip.FileHeader

	for _, file := range reader.File {
		if path.Clean(file.Name) == entry {
			if previous == nil {
				header := file.FileHeader
				previous = &header
			}

			continue
		}

		if err := writer.Copy(file); err != nil {
			return false, fmt.Errorf("copy entry %s: %w", file.Name, err)
		}
	}

	entryWriter, err := writer.CreateHeader(entryHeader(entry, previous))
	if err != nil {
		return false, fmt.Errorf("create entry %s: %w", entry, err)
	}

	if _, err = io.Copy(entryWriter, content); err != nil {
		return false, fmt.Errorf("write entry %s: %w", entry, err)
	}

	if err = writer.SetComment(reader.Comment); err != nil {
		return false, fmt.Errorf("set archive comment: %w", err)
	}

	if err = writer.Close(); err != nil {
		return false, fmt.Errorf("finish archive: %w", err)
	}

	return previous != nil, nil
}

// entryHeader builds the header of the replacement entry, keeping the name,
// mode and comment of the entry it replaces.
func entryHeader(entry string, previous *zip.FileHeader) *zip.FileHeader {
	header := &zip.FileHeader{
		Name:     entry,
		Method:   zip.Deflate,
		Modified: time.Now(),
	}

	if previous == nil {
		header.SetMode(archiveFileMode)

		return header
	}

	header.Name = previous.Name
	header.Comment = previous.Comment
	header.CreatorVersion = previous.CreatorVersion
	header.ExternalAttrs = previous.ExternalAttrs

	return header
}

// ReadEntry returns the contents of entry in the archive at path.
func ReadEntry(archivePath, entry string) ([]byte, error) {
	entry = path.Clean(entry)

	reader, err := zip.OpenReader(filepath.Clean(archivePath))
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", archivePath, err)
	}

	defer func() {
		_ = reader.Close()
	}()

	for _, file := range reader.File {
		if path.Clean(file.Name) != entry {
			continue
		}

		entryReader, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("open entry %s: %w", entry, err)
		}

		contents, err := io.ReadAll(entryReader)

		_ = entryReader.Close()

		if err != nil {
			return nil, fmt.Errorf("read entry %s: %w", entry, err)
		}

		return contents, nil
	}

	return nil, fmt.Errorf("%s in %s: %w", entry, archivePath, ErrEntryNotFound)
}

// CheckRoot ensures every entry of the archive at archivePath lies inside the root directory.
func CheckRoot(archivePath, root string) error {
	root = path.Clean(root)

	reader, err := zip.OpenReader(filepath.Clean(archivePath))
	if err != nil {
		return fmt.Errorf("open archive %s: %w", archivePath, err)
	}

	defer func() {
		_ = reader.Close()
	}()

	for _, file := range reader.File {
		name := path.Clean(file.Name)
		if name == root || strings.HasPrefix(name, root+"/") {
			continue
		}

		return fmt.Errorf("%s in %s: %w", file.Name, archivePath, ErrEntryOutsideRoot)
	}

	return nil
}
