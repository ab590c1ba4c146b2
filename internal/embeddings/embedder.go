package embeddings

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"
)

// Embedder is the adapter the rest of docqa embeds through. The provider is
// built on first use; a failed build is remembered and returned on every
// later call. All returned vectors have unit length.
type Embedder struct {
	model   string
	factory func() (Provider, error)
	metrics *Metrics

	once     sync.Once
	provider Provider
	err      error
}

var _ Provider = (*Embedder)(nil)

// ErrClosed is returned by an Embedder closed before its first use.
var ErrClosed = errors.New("embedder closed")

// NewEmbedder wraps factory. model labels metrics; metrics may be nil.
func NewEmbedder(model string, factory func() (Provider, error), metrics *Metrics) *Embedder {
	return &Embedder{model: model, factory: factory, metrics: metrics}
}

// NewEmbedderFromConfig builds an Embedder around NewProvider(cfg).
func NewEmbedderFromConfig(cfg ProviderConfig, metrics *Metrics) *Embedder {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return NewEmbedder(model, func() (Provider, error) { return NewProvider(cfg) }, metrics)
}

func (e *Embedder) load() (Provider, error) {
	e.once.Do(func() {
		e.provider, e.err = e.factory()
	})
	return e.provider, e.err
}

// EmbedDocuments embeds passages and normalizes each vector.
func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	vectors, err := e.embedDocuments(ctx, texts)
	e.metrics.RecordGeneration(ctx, e.model, "passages", time.Since(start), len(texts), err)
	return vectors, err
}

func (e *Embedder) embedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	p, err := e.load()
	if err != nil {
		return nil, err
	}
	vectors, err := p.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, err
	}
	for _, v := range vectors {
		Normalize(v)
	}
	return vectors, nil
}

// EmbedQuery embeds one query and normalizes it.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	v, err := e.embedQuery(ctx, text)
	e.metrics.RecordGeneration(ctx, e.model, "query", time.Since(start), 1, err)
	return v, err
}

func (e *Embedder) embedQuery(ctx context.Context, text string) ([]float32, error) {
	p, err := e.load()
	if err != nil {
		return nil, err
	}
	v, err := p.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	return Normalize(v), nil
}

// Dimension loads the provider if needed and returns its dimension, or 0
// when it cannot be built.
func (e *Embedder) Dimension() int {
	p, err := e.load()
	if err != nil {
		return 0
	}
	return p.Dimension()
}

// Close closes the provider if it was ever built.
func (e *Embedder) Close() error {
	e.once.Do(func() { e.err = ErrClosed })
	p := e.provider
	if p == nil {
		return nil
	}
	return p.Close()
}

// Normalize scales v to unit L2 length in place and returns it. Zero
// vectors are returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}
