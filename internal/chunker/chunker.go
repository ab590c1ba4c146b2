// Package chunker splits extracted document text into overlapping windows.
//
// Token counts are approximated as characters / 4, so a 900 token window is
// 3600 characters. Windows are measured in runes so every window is valid
// UTF-8 regardless of where it is cut.
package chunker

import (
	"errors"
	"fmt"
	"iter"
	"strings"
)

const (
	// DefaultMaxTokens is the nominal window size in tokens.
	DefaultMaxTokens = 900
	// DefaultOverlapTokens is the overlap between consecutive windows in tokens.
	DefaultOverlapTokens = 120
	// CharsPerToken is the characters-per-token approximation.
	CharsPerToken = 4

	// Placeholder replaces text with no extractable content so that a
	// document always produces at least one chunk.
	Placeholder = "(No extractable text found)"
)

// ErrInvalidConfig indicates an unusable chunking configuration.
var ErrInvalidConfig = errors.New("invalid chunker configuration")

// Config controls window size and overlap.
type Config struct {
	MaxTokens     int `koanf:"max_tokens"`
	OverlapTokens int `koanf:"overlap_tokens"`
}

// DefaultConfig returns the 900/120 token configuration.
func DefaultConfig() Config {
	return Config{
		MaxTokens:     DefaultMaxTokens,
		OverlapTokens: DefaultOverlapTokens,
	}
}

// Validate checks that the window can be built.
func (c Config) Validate() error {
	if c.MaxTokens <= 0 {
		return fmt.Errorf("%w: max_tokens must be positive, got %d", ErrInvalidConfig, c.MaxTokens)
	}
	if c.OverlapTokens < 0 {
		return fmt.Errorf("%w: overlap_tokens must be >= 0, got %d", ErrInvalidConfig, c.OverlapTokens)
	}
	return nil
}

// Size returns the window length in characters.
func (c Config) Size() int {
	return c.MaxTokens * CharsPerToken
}

// Step returns the distance between window starts. It is never below 1,
// even when the overlap is as large as the window.
func (c Config) Step() int {
	return max(c.Size()-c.OverlapTokens*CharsPerToken, 1)
}

// Normalize returns Placeholder when text is empty or whitespace only.
func Normalize(text string) string {
	if strings.TrimSpace(text) == "" {
		return Placeholder
	}
	return text
}

// Windows returns a lazy sequence of overlapping windows over text.
//
// The sequence can be ranged over more than once. The last window may be
// shorter than Config.Size. Empty text yields nothing; callers that need a
// chunk for every document run Normalize first.
func Windows(text string, cfg Config) iter.Seq[string] {
	return func(yield func(string) bool) {
		if cfg.MaxTokens <= 0 {
			return
		}
		runes := []rune(text)
		size, step := cfg.Size(), cfg.Step()
		for start := 0; start < len(runes); start += step {
			end := min(start+size, len(runes))
			if !yield(string(runes[start:end])) {
				return
			}
		}
	}
}

// Split materializes Windows into a slice.
func Split(text string, cfg Config) []string {
	var out []string
	for w := range Windows(text, cfg) {
		out = append(out, w)
	}
	return out
}

// PageMap assigns a 1-based page number to each chunk of a paginated
// document.
//
// The pages are assumed to have been joined with a blank line ("\n\n")
// before chunking. Chunk i starts at character offset i*step; it gets the
// page whose span contains that offset, or nil when the offset falls in a
// separator. A nil or empty pages slice yields nil for every chunk.
func PageMap(pages []string, chunkCount int, cfg Config) []*int {
	out := make([]*int, chunkCount)
	if len(pages) == 0 {
		return out
	}

	type span struct{ page, start, end int }
	spans := make([]span, 0, len(pages))
	offset := 0
	for i, p := range pages {
		n := len([]rune(p))
		spans = append(spans, span{page: i + 1, start: offset, end: offset + n})
		offset += n + 2
	}

	step := cfg.Step()
	for i := range out {
		at := i * step
		for _, s := range spans {
			if s.start <= at && at < s.end {
				page := s.page
				out[i] = &page
				break
			}
		}
	}
	return out
}
