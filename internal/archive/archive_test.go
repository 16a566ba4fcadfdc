package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const testEntry = "ImageJ/ij.jar"

// testFile is a single entry of a generated archive.
type testFile struct {
	name string
	body string
}

// writeTestArchive creates a zip at path with the given entries, in order.
func writeTestArchive(t *testing.T, path, comment string, files ...testFile) {
	t.Helper()

	var buf bytes.Buffer

	writer := zip.NewWriter(&buf)

	for _, file := range files {
		w, err := writer.Create(file.name)
		require.NoError(t, err)

		_, err = w.Write([]byte(file.body))
		require.NoError(t, err)
	}

	require.NoError(t, writer.SetComment(comment))
	require.NoError(t, writer.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
}

// entryNames lists the entry names of the archive at path.
func entryNames(t *testing.T, path string) []string {
	t.Helper()

	reader, err := zip.OpenReader(path)
	require.NoError(t, err)

	defer func() {
		_ = reader.Close()
	}()

	names := make([]string, 0, len(reader.File))
	for _, file := range reader.File {
		names = append(names, file.Name)
	}

	return names
}

// releaseArchive writes a small ImageJ-like archive and returns its path.
func releaseArchive(t *testing.T, dir string) string {
	t.Helper()

	path := filepath.Join(dir, "ij146.zip")
	writeTestArchive(t, path, "ImageJ 1.46",
		testFile{name: "ImageJ/"},
		testFile{name: "ImageJ/ij.jar", body: "old-jar"},
		testFile{name: "ImageJ/macros/StartupMacros.txt", body: "macro"},
		testFile{name: "ImageJ/IJ_Prefs.txt", body: "prefs"},
	)

	return path
}

// TestReplaceEntry swaps the embedded file and keeps everything else.
func TestReplaceEntry(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := releaseArchive(t, dir)
	dst := filepath.Join(dir, "out.zip")

	replaced, err := ReplaceEntry(src, dst, testEntry, bytes.NewReader([]byte("new-jar")))
	require.NoError(t, err)
	require.True(t, replaced)

	got, err := ReadEntry(dst, testEntry)
	require.NoError(t, err)
	require.Equal(t, []byte("new-jar"), got)

	got, err = ReadEntry(dst, "ImageJ/macros/StartupMacros.txt")
	require.NoError(t, err)
	require.Equal(t, []byte("macro"), got)

	require.Equal(t, []string{
		"ImageJ/",
		"ImageJ/macros/StartupMacros.txt",
		"ImageJ/IJ_Prefs.txt",
		"ImageJ/ij.jar",
	}, entryNames(t, dst))

	reader, err := zip.OpenReader(dst)
	require.NoError(t, err)
	require.Equal(t, "ImageJ 1.46", reader.Comment)
	require.NoError(t, reader.Close())
}

// TestReplaceEntry_Idempotent replaces the entry of an already patched archive.
func TestReplaceEntry_Idempotent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := releaseArchive(t, dir)
	first := filepath.Join(dir, "first.zip")
	second := filepath.Join(dir, "second.zip")

	_, err := ReplaceEntry(src, first, testEntry, bytes.NewReader([]byte("new-jar")))
	require.NoError(t, err)

	_, err = ReplaceEntry(first, second, "./"+testEntry, bytes.NewReader([]byte("new-jar")))
	require.NoError(t, err)

	firstEntry, err := ReadEntry(first, testEntry)
	require.NoError(t, err)

	secondEntry, err := ReadEntry(second, testEntry)
	require.NoError(t, err)

	require.Equal(t, firstEntry, secondEntry)
	require.Equal(t, entryNames(t, first), entryNames(t, second))
}

// TestReplaceEntry_Missing appends the entry when the source archive lacks it.
func TestReplaceEntry_Missing(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "src.zip")
	dst := filepath.Join(dir, "dst.zip")
	writeTestArchive(t, src, "", testFile{name: "ImageJ/readme.txt", body: "hi"})

	replaced, err := ReplaceEntry(src, dst, testEntry, bytes.NewReader([]byte("jar")))
	require.NoError(t, err)
	require.False(t, replaced)
	require.Equal(t, []string{"ImageJ/readme.txt", testEntry}, entryNames(t, dst))
}

// TestReplaceEntry_BadSource leaves no destination behind.
func TestReplaceEntry_BadSource(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "broken.zip")
	dst := filepath.Join(dir, "dst.zip")
	require.NoError(t, os.WriteFile(src, []byte("not a zip"), 0o600))

	_, err := ReplaceEntry(src, dst, testEntry, bytes.NewReader(nil))
	require.Error(t, err)

	_, err = os.Stat(dst)
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestReadEntry_NotFound reports a missing entry.
func TestReadEntry_NotFound(t *testing.T) {
	t.Parallel()

	path := releaseArchive(t, t.TempDir())

	_, err := ReadEntry(path, "ImageJ/missing.jar")
	require.ErrorIs(t, err, ErrEntryNotFound)
}

// TestNewArchiver maps kinds to implementations.
func TestNewArchiver(t *testing.T) {
	t.Parallel()

	a, err := NewArchiver(KindNative)
	require.NoError(t, err)
	require.IsType(t, &NativeArchiver{}, a)

	a, err = NewArchiver(KindCommand)
	require.NoError(t, err)
	require.IsType(t, &CommandArchiver{}, a)

	_, err = NewArchiver("7z")
	require.ErrorIs(t, err, errUnknownKind)
}

// TestNativeArchiver_RoundTrip unpacks, overwrites the entry and packs again.
func TestNativeArchiver_RoundTrip(t *testing.T) {
	t.Parallel()

	testArchiverRoundTrip(t, NewNativeArchiver())
}

// TestCommandArchiver_RoundTrip runs the same cycle through unzip and zip.
func TestCommandArchiver_RoundTrip(t *testing.T) {
	t.Parallel()

	for _, tool := range []string{unzipTool, zipTool} {
		if _, err := exec.LookPath(tool); err != nil {
			t.Skipf("%s is not installed", tool)
		}
	}

	testArchiverRoundTrip(t, NewCommandArchiver())
}

// testArchiverRoundTrip exercises an Archiver the way the repack mode does.
func testArchiverRoundTrip(t *testing.T, archiver Archiver) {
	t.Helper()

	ctx := context.Background()
	dir := t.TempDir()
	src := releaseArchive(t, dir)

	work := filepath.Join(dir, "work")
	require.NoError(t, os.Mkdir(work, 0o755))
	require.NoError(t, archiver.Unpack(ctx, src, work))

	got, err := os.ReadFile(filepath.Join(work, "ImageJ", "macros", "StartupMacros.txt"))
	require.NoError(t, err)
	require.Equal(t, []byte("macro"), got)

	require.NoError(t, os.WriteFile(filepath.Join(work, "ImageJ", "ij.jar"), []byte("new-jar"), 0o600))

	dst := filepath.Join(dir, "out.zip")
	require.NoError(t, os.WriteFile(dst, []byte("stale"), 0o600))
	require.NoError(t, archiver.Pack(ctx, work, "ImageJ", dst))

	jar, err := ReadEntry(dst, testEntry)
	require.NoError(t, err)
	require.Equal(t, []byte("new-jar"), jar)

	prefs, err := ReadEntry(dst, "ImageJ/IJ_Prefs.txt")
	require.NoError(t, err)
	require.Equal(t, []byte("prefs"), prefs)
	require.Contains(t, entryNames(t, dst), "ImageJ/macros/")
}

// TestNativeArchiver_RejectsTraversal refuses entries escaping the target directory.
func TestNativeArchiver_RejectsTraversal(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "evil.zip")
	writeTestArchive(t, src, "", testFile{name: "../evil.txt", body: "x"})

	work := filepath.Join(dir, "work")
	require.NoError(t, os.Mkdir(work, 0o755))

	err := NewNativeArchiver().Unpack(context.Background(), src, work)
	require.Error(t, err)

	_, err = os.Stat(filepath.Join(dir, "evil.txt"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestNativeArchiver_Canceled stops on a canceled context.
func TestNativeArchiver_Canceled(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := releaseArchive(t, dir)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, NewNativeArchiver().Unpack(ctx, src, dir), context.Canceled)
}

// TestCheckRoot accepts archives confined to one directory and rejects anything else.
func TestCheckRoot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, CheckRoot(releaseArchive(t, dir), "ImageJ"))

	for name, outside := range map[string]string{
		"top-level file": "ij-latest.zip",
		"sibling dir":    "ImageJ2/ij.jar",
		"parent":         "ImageJ/../.ij-latest.marker",
	} {
		path := filepath.Join(dir, "outside.zip")
		writeTestArchive(t, path, "",
			testFile{name: "ImageJ/ij.jar", body: "old-jar"},
			testFile{name: outside, body: "x"},
		)

		require.ErrorIs(t, CheckRoot(path, "ImageJ/"), ErrEntryOutsideRoot, name)
	}
}
