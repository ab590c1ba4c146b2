package embeddings

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// DefaultONNXRuntimeVersion is the ONNX runtime release fastembed-go is
// built against.
const DefaultONNXRuntimeVersion = "1.23.0"

// onnxPathEnv is read by fastembed-go to locate the shared library.
const onnxPathEnv = "ONNX_PATH"

const onnxReleaseURL = "https://github.com/microsoft/onnxruntime/releases/download"

var (
	// ErrUnsupportedPlatform indicates no ONNX runtime release exists for
	// the current OS/arch.
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	// ErrONNXRuntimeMissing is returned when the fastembed provider is used
	// and no ONNX runtime library can be found.
	ErrONNXRuntimeMissing = errors.New("onnx runtime not found (run 'docqa init' or set ONNX_PATH)")
)

var onnxArchives = map[string]map[string]string{
	"linux": {
		"amd64": "linux-x64",
		"arm64": "linux-aarch64",
	},
	"darwin": {
		"amd64": "osx-x86_64",
		"arm64": "osx-arm64",
	},
}

func onnxArchive(goos, goarch string) (string, error) {
	if arch, ok := onnxArchives[goos][goarch]; ok {
		return arch, nil
	}
	return "", fmt.Errorf("%w: %s/%s", ErrUnsupportedPlatform, goos, goarch)
}

func onnxLibraryName(goos string) string {
	if goos == "darwin" {
		return "libonnxruntime.dylib"
	}
	return "libonnxruntime.so"
}

// DefaultONNXDir is where docqa installs the runtime: ~/.config/docqa/lib.
func DefaultONNXDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".config", "docqa", "lib")
}

// ONNXConfig locates the ONNX runtime used by the fastembed provider.
type ONNXConfig struct {
	// Path is an explicit library path. It wins over ONNX_PATH.
	Path string
	// Dir is the managed install directory, DefaultONNXDir when empty.
	Dir string
	// AutoInstall downloads the runtime into Dir when it is missing.
	AutoInstall bool
}

// ONNXRuntime installs and finds the ONNX runtime shared library.
type ONNXRuntime struct {
	Version string
	Dir     string
	Client  *http.Client

	baseURL      string
	goos, goarch string
}

// NewONNXRuntime returns an installer for dir (DefaultONNXDir when empty)
// at DefaultONNXRuntimeVersion.
func NewONNXRuntime(dir string) *ONNXRuntime {
	if dir == "" {
		dir = DefaultONNXDir()
	}
	return &ONNXRuntime{
		Version: DefaultONNXRuntimeVersion,
		Dir:     dir,
		Client:  http.DefaultClient,
		baseURL: onnxReleaseURL,
		goos:    runtime.GOOS,
		goarch:  runtime.GOARCH,
	}
}

// LibraryPath returns ONNX_PATH when set, else the managed library if it
// exists, else "".
func (r *ONNXRuntime) LibraryPath() string {
	if p := os.Getenv(onnxPathEnv); p != "" {
		return p
	}
	return r.installedPath()
}

func (r *ONNXRuntime) installedPath() string {
	p := filepath.Join(r.Dir, onnxLibraryName(r.goos))
	if _, err := os.Stat(p); err == nil {
		return p
	}
	return ""
}

// DownloadURL is the release archive for the configured platform.
func (r *ONNXRuntime) DownloadURL() (string, error) {
	platform, err := onnxArchive(r.goos, r.goarch)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/v%s/onnxruntime-%s-%s.tgz", r.baseURL, r.Version, platform, r.Version), nil
}

// Install downloads the release archive and unpacks its lib/ directory
// into Dir. It returns the library path.
func (r *ONNXRuntime) Install(ctx context.Context) (string, error) {
	url, err := r.DownloadURL()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(r.Dir, 0o700); err != nil {
		return "", fmt.Errorf("creating %s: %w", r.Dir, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("downloading onnx runtime: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("downloading onnx runtime: %s returned %d", url, resp.StatusCode)
	}

	if err := r.unpack(resp.Body); err != nil {
		return "", fmt.Errorf("unpacking onnx runtime: %w", err)
	}
	path := r.installedPath()
	if path == "" {
		return "", fmt.Errorf("%w: %s missing after install", ErrONNXRuntimeMissing, onnxLibraryName(r.goos))
	}
	return path, nil
}

// unpack copies the files and symlinks under lib/ into Dir, flattened.
func (r *ONNXRuntime) unpack(body io.Reader) error {
	gz, err := gzip.NewReader(body)
	if err != nil {
		return err
	}
	defer gz.Close()

	platform, err := onnxArchive(r.goos, r.goarch)
	if err != nil {
		return err
	}
	prefix := fmt.Sprintf("onnxruntime-%s-%s/lib/", platform, r.Version)
	libName := onnxLibraryName(r.goos)
	found := false

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		name := strings.TrimPrefix(hdr.Name, "./")
		if !strings.HasPrefix(name, prefix) || hdr.Typeflag == tar.TypeDir {
			continue
		}
		base := filepath.Base(name)
		dest := filepath.Join(r.Dir, base)

		switch hdr.Typeflag {
		case tar.TypeSymlink:
			if strings.Contains(hdr.Linkname, "/") {
				continue
			}
			_ = os.Remove(dest)
			if err := os.Symlink(hdr.Linkname, dest); err != nil {
				return fmt.Errorf("linking %s: %w", base, err)
			}
		case tar.TypeReg:
			if err := writeFile(dest, tr); err != nil {
				return err
			}
		default:
			continue
		}
		if base == libName || strings.HasPrefix(base, libName+".") {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("%s not found in archive", libName)
	}
	return nil
}

func writeFile(dest string, r io.Reader) error {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", dest, err)
	}
	return f.Close()
}

// ResolveONNXRuntime finds the runtime library, installing it when allowed,
// and exports its path in ONNX_PATH for fastembed-go.
func ResolveONNXRuntime(ctx context.Context, cfg ONNXConfig) (string, error) {
	path := cfg.Path
	if path == "" {
		rt := NewONNXRuntime(cfg.Dir)
		path = rt.LibraryPath()
		if path == "" {
			if !cfg.AutoInstall {
				return "", ErrONNXRuntimeMissing
			}
			var err error
			if path, err = rt.Install(ctx); err != nil {
				return "", err
			}
		}
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrONNXRuntimeMissing, path, err)
	}
	if err := os.Setenv(onnxPathEnv, path); err != nil {
		return "", fmt.Errorf("setting %s: %w", onnxPathEnv, err)
	}
	return path, nil
}
