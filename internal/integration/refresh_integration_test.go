package integration

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/ij-latest/internal/archive"
	"github.com/oshokin/ij-latest/internal/config"
	"github.com/oshokin/ij-latest/internal/service/refresher"
)

// serveRelease starts an HTTP server laid out like the ImageJ download site and
// returns its URL and the served upgrade jar.
func serveRelease(t *testing.T) (string, []byte) {
	t.Helper()

	jar := []byte("upgraded ij.jar")

	var archiveBody bytes.Buffer

	writer := zip.NewWriter(&archiveBody)

	for _, name := range []string{"ImageJ/", "ImageJ/ij.jar", "ImageJ/plugins/README.txt"} {
		w, err := writer.Create(name)
		require.NoError(t, err)

		if name != "ImageJ/" {
			_, err = w.Write([]byte("original " + name))
			require.NoError(t, err)
		}
	}

	require.NoError(t, writer.Close())

	mux := http.NewServeMux()
	mux.HandleFunc("/ij/download/jars/list.txt", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("v1.46r\nv1.46q\n"))
	})
	mux.HandleFunc("/ij/download/zips/ij146.zip", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(archiveBody.Bytes())
	})
	mux.HandleFunc("/ij/upgrade/ij.jar", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(jar)
	})

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	return ts.URL, jar
}

// TestRefresh_DefaultLayout runs both modes from a working directory holding
// only the default settings file, and checks the default output layout.
func TestRefresh_DefaultLayout(t *testing.T) {
	// Setup test directory and change working directory.
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	siteURL, jar := serveRelease(t)

	// Only the remote locations are set; everything else keeps its default.
	require.NoError(t, config.Save(config.DefaultConfigFilename, &config.Config{
		VersionListURL: siteURL + "/ij/download/jars/list.txt",
		ArchiveBaseURL: siteURL + "/ij/download/zips/",
		EntryURL:       siteURL + "/ij/upgrade/ij.jar",
		Archiver:       config.ArchiverNative,
	}))

	for _, mode := range []string{config.ModeRepack, config.ModePatch} {
		err := refresher.Run(context.Background(), &refresher.Options{Mode: mode})
		require.NoError(t, err, mode)

		got, err := archive.ReadEntry(config.DefaultOutputPath, config.DefaultEntry)
		require.NoError(t, err, mode)
		require.Equal(t, jar, got, mode)

		readme, err := archive.ReadEntry(config.DefaultOutputPath, "ImageJ/plugins/README.txt")
		require.NoError(t, err, mode)
		require.Equal(t, []byte("original ImageJ/plugins/README.txt"), readme, mode)

		// Neither the extraction directory nor the marker survive the run.
		_, err = os.Stat(config.DefaultExtractDir)
		require.ErrorIs(t, err, os.ErrNotExist, mode)

		_, err = os.Stat(refresher.MarkerFilename)
		require.ErrorIs(t, err, os.ErrNotExist, mode)
	}
}
