package release

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// DefaultNamePrefix replaces the leading "v" of a version token.
	DefaultNamePrefix = "ij"

	// ArchiveExtension is appended to the derived archive name.
	ArchiveExtension = ".zip"

	// versionPrefix is the marker that starts every version token.
	versionPrefix = "v"

	// lowercaseLetters are trimmed from the end of a version token ("v1.46r" -> "v1.46").
	lowercaseLetters = "abcdefghijklmnopqrstuvwxyz"
)

var (
	// ErrEmptyVersionList is returned when the version list has no first line.
	ErrEmptyVersionList = errors.New("version list is empty")
	// ErrInvalidVersion is returned when a version token yields no usable archive name.
	ErrInvalidVersion = errors.New("invalid version token")
)

// Release describes the latest published ImageJ distribution.
type Release struct {
	// Version is the raw version token, e.g. "v1.46r".
	Version string
	// Name is the archive base name derived from Version, e.g. "ij146".
	Name string
	// ArchiveURL is the absolute URL of the versioned archive.
	ArchiveURL string
}

// ParseVersionList returns the first line of a version list with surrounding whitespace removed.
func ParseVersionList(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read version list: %w", err)
	}

	line = strings.TrimSpace(line)
	if line == "" {
		return "", ErrEmptyVersionList
	}

	return line, nil
}

// ArchiveName derives the archive base name from a version token:
// trailing lowercase letters are trimmed, dots removed, and the leading "v"
// is replaced with prefix.
func ArchiveName(version, prefix string) (string, error) {
	name := strings.TrimSpace(version)
	name = strings.TrimRight(name, lowercaseLetters)
	name = strings.ReplaceAll(name, ".", "")

	if rest, found := strings.CutPrefix(name, versionPrefix); found {
		name = prefix + rest
	}

	if !strings.ContainsAny(name, "0123456789") {
		return "", fmt.Errorf("%q: %w", version, ErrInvalidVersion)
	}

	return name, nil
}

// ArchiveURL joins the archive base URL with the name derived from version.
func ArchiveURL(base, version, prefix string) (string, error) {
	name, err := ArchiveName(version, prefix)
	if err != nil {
		return "", err
	}

	return base + name + ArchiveExtension, nil
}

// Resolve builds a Release from the first line of the version list.
func Resolve(base, firstLine, prefix string) (*Release, error) {
	version := strings.TrimSpace(firstLine)
	if version == "" {
		return nil, ErrEmptyVersionList
	}

	name, err := ArchiveName(version, prefix)
	if err != nil {
		return nil, err
	}

	archiveURL, err := ArchiveURL(base, version, prefix)
	if err != nil {
		return nil, err
	}

	return &Release{
		Version:    version,
		Name:       name,
		ArchiveURL: archiveURL,
	}, nil
}
