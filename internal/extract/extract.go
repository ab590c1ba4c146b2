// Package extract pulls plain text out of uploaded files.
//
// PDFs are parsed page by page and DOCX is read directly from its zip
// container. Images go through the tesseract binary, run via a
// CommandRunner. Anything else is treated as UTF-8 text.
package extract

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

var (
	// ErrToolUnavailable indicates the external binary for a file type is
	// not installed. Other file types are unaffected.
	ErrToolUnavailable = errors.New("extraction tool not available")
	// ErrUnsupportedType indicates no extractor handles the extension.
	ErrUnsupportedType = errors.New("unsupported file type")
	// ErrInvalidDocument indicates a corrupt or unreadable file.
	ErrInvalidDocument = errors.New("invalid document")
)

// Result is extracted text. Pages is set only for paginated formats and
// Text is then the pages joined by blank lines.
type Result struct {
	Text  string
	Pages []string
}

// Extractor extracts text from the file at path.
type Extractor interface {
	Extract(ctx context.Context, path string) (Result, error)
}

// CommandRunner runs an external command and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrToolUnavailable, name)
	}
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("%s failed: %w: %s", name, err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("%s failed: %w", name, err)
	}
	return out, nil
}

// ImageExtensions are the extensions sent to OCR.
var ImageExtensions = []string{"png", "jpg", "jpeg", "webp", "bmp", "tif", "tiff"}

// Ext returns the lower-cased extension of filename without the dot.
func Ext(filename string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
}

// Config configures a Registry.
type Config struct {
	TesseractPath string
	// Runner defaults to ExecRunner.
	Runner CommandRunner
}

// Registry dispatches on file extension. Unknown extensions fall back to
// plain text.
type Registry struct {
	byExt    map[string]Extractor
	fallback Extractor
}

// NewRegistry registers the pdf, docx, image and plain text extractors.
func NewRegistry(cfg Config) *Registry {
	runner := cfg.Runner
	if runner == nil {
		runner = ExecRunner{}
	}
	tesseract := cfg.TesseractPath
	if tesseract == "" {
		tesseract = "tesseract"
	}

	r := &Registry{byExt: make(map[string]Extractor), fallback: Plain{}}
	r.Register("pdf", PDF{})
	r.Register("docx", Docx{})
	img := Image{Tool: tesseract, Runner: runner}
	for _, ext := range ImageExtensions {
		r.Register(ext, img)
	}
	return r
}

// Register sets the extractor for ext, replacing any existing one.
func (r *Registry) Register(ext string, e Extractor) {
	r.byExt[strings.ToLower(ext)] = e
}

// SetFallback sets the extractor for unregistered extensions. nil makes
// them ErrUnsupportedType.
func (r *Registry) SetFallback(e Extractor) {
	r.fallback = e
}

// Extract extracts the file at path using the extractor for ext.
func (r *Registry) Extract(ctx context.Context, path, ext string) (Result, error) {
	e, ok := r.byExt[strings.ToLower(ext)]
	if !ok {
		e = r.fallback
	}
	if e == nil {
		return Result{}, fmt.Errorf("%w: %q", ErrUnsupportedType, ext)
	}
	return e.Extract(ctx, path)
}
