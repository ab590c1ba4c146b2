// Package llm builds grounded chat prompts and sends them to an
// OpenAI-compatible chat model through langchaingo or openai-go.
package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/docqa/internal/config"
)

var (
	// ErrInvalidConfig indicates invalid provider configuration.
	ErrInvalidConfig = errors.New("invalid llm configuration")
	// ErrEmptyResponse indicates the model returned no choices.
	ErrEmptyResponse = errors.New("llm returned no choices")
)

// Provider answers prompts. Calls are never retried.
type Provider interface {
	// Complete returns the whole answer, trimmed.
	Complete(ctx context.Context, p Prompt) (string, error)
	// CompleteStream calls fn with each non-empty fragment in arrival
	// order. An error from fn aborts the stream and is returned.
	CompleteStream(ctx context.Context, p Prompt, fn func(fragment string) error) error
}

// Config configures a chat backend.
type Config struct {
	// Provider is "langchain" or "openai".
	Provider    string
	Model       string
	BaseURL     string
	APIKey      string
	Temperature float64
	// Timeout bounds a whole call, streaming included. Zero disables it.
	Timeout time.Duration
}

// FromAppConfig converts the llm section of the application config.
func FromAppConfig(cfg config.LLMConfig) Config {
	return Config{
		Provider:    cfg.Provider,
		Model:       cfg.Model,
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey.Value(),
		Temperature: cfg.Temperature,
		Timeout:     cfg.Timeout,
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.APIKey == "" {
		return fmt.Errorf("%w: API key required (set llm.api_key or GROQ_API_KEY)", ErrInvalidConfig)
	}
	return nil
}

// NewProvider creates the configured backend.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "langchain", "":
		p, err := NewLangChain(cfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "openai":
		p, err := NewOpenAI(cfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// Lazy builds its provider on first use so a missing API key only fails
// requests that reach the model.
type Lazy struct {
	factory func() (Provider, error)

	once     sync.Once
	provider Provider
	err      error
}

var _ Provider = (*Lazy)(nil)

// NewLazy wraps factory.
func NewLazy(factory func() (Provider, error)) *Lazy {
	return &Lazy{factory: factory}
}

func (l *Lazy) load() (Provider, error) {
	l.once.Do(func() {
		l.provider, l.err = l.factory()
	})
	return l.provider, l.err
}

func (l *Lazy) Complete(ctx context.Context, p Prompt) (string, error) {
	provider, err := l.load()
	if err != nil {
		return "", err
	}
	return provider.Complete(ctx, p)
}

func (l *Lazy) CompleteStream(ctx context.Context, p Prompt, fn func(string) error) error {
	provider, err := l.load()
	if err != nil {
		return err
	}
	return provider.CompleteStream(ctx, p, fn)
}
