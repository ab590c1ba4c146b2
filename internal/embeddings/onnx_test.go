package embeddings

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestONNXArchive(t *testing.T) {
	tests := []struct {
		goos, goarch, want string
	}{
		{"linux", "amd64", "linux-x64"},
		{"linux", "arm64", "linux-aarch64"},
		{"darwin", "amd64", "osx-x86_64"},
		{"darwin", "arm64", "osx-arm64"},
	}
	for _, tt := range tests {
		t.Run(tt.goos+"/"+tt.goarch, func(t *testing.T) {
			got, err := onnxArchive(tt.goos, tt.goarch)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := onnxArchive("windows", "amd64")
	assert.ErrorIs(t, err, ErrUnsupportedPlatform)
	assert.Equal(t, "libonnxruntime.dylib", onnxLibraryName("darwin"))
	assert.Equal(t, "libonnxruntime.so", onnxLibraryName("linux"))
}

type tarEntry struct {
	name, link, body string
}

func onnxTarball(t *testing.T, entries ...tarEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0o644, Typeflag: tar.TypeReg, Size: int64(len(e.body))}
		if e.link != "" {
			hdr = &tar.Header{Name: e.name, Linkname: e.link, Typeflag: tar.TypeSymlink}
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if e.link == "" {
			_, err := tw.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func testRuntime(t *testing.T, handler http.HandlerFunc) *ONNXRuntime {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	rt := NewONNXRuntime(filepath.Join(t.TempDir(), "lib"))
	rt.baseURL = srv.URL
	rt.Client = srv.Client()
	rt.goos, rt.goarch = "linux", "amd64"
	return rt
}

func TestONNXRuntime_Install(t *testing.T) {
	archive := onnxTarball(t,
		tarEntry{name: "onnxruntime-linux-x64-1.23.0/include/onnxruntime_c_api.h", body: "header"},
		tarEntry{name: "onnxruntime-linux-x64-1.23.0/lib/libonnxruntime.so.1.23.0", body: "elf"},
		tarEntry{name: "onnxruntime-linux-x64-1.23.0/lib/libonnxruntime.so", link: "libonnxruntime.so.1.23.0"},
		tarEntry{name: "onnxruntime-linux-x64-1.23.0/lib/escape.so", link: "../../etc/passwd"},
	)
	var gotPath string
	rt := testRuntime(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write(archive)
	})
	t.Setenv(onnxPathEnv, "")

	assert.Empty(t, rt.LibraryPath())
	path, err := rt.Install(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "/v1.23.0/onnxruntime-linux-x64-1.23.0.tgz", gotPath)
	assert.Equal(t, filepath.Join(rt.Dir, "libonnxruntime.so"), path)
	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "elf", string(body), "the symlink resolves to the versioned library")
	assert.NoFileExists(t, filepath.Join(rt.Dir, "onnxruntime_c_api.h"))
	_, err = os.Lstat(filepath.Join(rt.Dir, "escape.so"))
	assert.True(t, os.IsNotExist(err), "links outside the lib directory are skipped")
	assert.Equal(t, path, rt.LibraryPath())
}

func TestONNXRuntime_InstallFailures(t *testing.T) {
	t.Run("http error", func(t *testing.T) {
		rt := testRuntime(t, func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		})
		_, err := rt.Install(context.Background())
		assert.ErrorContains(t, err, "returned 404")
	})

	t.Run("library missing from archive", func(t *testing.T) {
		archive := onnxTarball(t, tarEntry{name: "onnxruntime-linux-x64-1.23.0/lib/README", body: "x"})
		rt := testRuntime(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write(archive)
		})
		_, err := rt.Install(context.Background())
		assert.ErrorContains(t, err, "libonnxruntime.so not found in archive")
	})

	t.Run("unsupported platform", func(t *testing.T) {
		rt := NewONNXRuntime(t.TempDir())
		rt.goos = "plan9"
		_, err := rt.Install(context.Background())
		assert.ErrorIs(t, err, ErrUnsupportedPlatform)
	})
}

func TestResolveONNXRuntime(t *testing.T) {
	lib := filepath.Join(t.TempDir(), "libonnxruntime.so")
	require.NoError(t, os.WriteFile(lib, []byte("elf"), 0o644))

	t.Run("missing", func(t *testing.T) {
		t.Setenv(onnxPathEnv, "")
		_, err := ResolveONNXRuntime(context.Background(), ONNXConfig{Dir: t.TempDir()})
		assert.ErrorIs(t, err, ErrONNXRuntimeMissing)
	})

	t.Run("explicit path is exported", func(t *testing.T) {
		t.Setenv(onnxPathEnv, "")
		path, err := ResolveONNXRuntime(context.Background(), ONNXConfig{Path: lib})
		require.NoError(t, err)
		assert.Equal(t, lib, path)
		assert.Equal(t, lib, os.Getenv(onnxPathEnv))
	})

	t.Run("environment", func(t *testing.T) {
		t.Setenv(onnxPathEnv, lib)
		path, err := ResolveONNXRuntime(context.Background(), ONNXConfig{Dir: t.TempDir()})
		require.NoError(t, err)
		assert.Equal(t, lib, path)
	})

	t.Run("stale path", func(t *testing.T) {
		t.Setenv(onnxPathEnv, "")
		_, err := ResolveONNXRuntime(context.Background(), ONNXConfig{Path: lib + ".gone"})
		assert.ErrorIs(t, err, ErrONNXRuntimeMissing)
	})
}
