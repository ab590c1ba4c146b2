package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fyrsmithlabs/docqa/internal/config"
	"github.com/fyrsmithlabs/docqa/internal/telemetry"
)

type fakeProvider struct {
	docs   [][]float32
	query  []float32
	err    error
	closed bool
}

func (f *fakeProvider) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.docs[:len(texts)], nil
}

func (f *fakeProvider) EmbedQuery(context.Context, string) ([]float32, error) {
	return f.query, f.err
}

func (f *fakeProvider) Dimension() int { return len(f.query) }
func (f *fakeProvider) Close() error   { f.closed = true; return nil }

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   []float32
		want []float32
	}{
		{name: "3-4-5", in: []float32{3, 4}, want: []float32{0.6, 0.8}},
		{name: "already unit", in: []float32{0, 1, 0}, want: []float32{0, 1, 0}},
		{name: "zero vector", in: []float32{0, 0}, want: []float32{0, 0}},
		{name: "empty", in: []float32{}, want: []float32{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.in)
			require.Len(t, got, len(tt.want))
			for i := range got {
				assert.InDelta(t, tt.want[i], got[i], 1e-6)
			}
		})
	}
}

func TestEmbedder_LazyAndNormalized(t *testing.T) {
	var builds atomic.Int32
	fake := &fakeProvider{
		docs:  [][]float32{{2, 0}, {1, 1}},
		query: []float32{0, 5},
	}
	e := NewEmbedder("fake", func() (Provider, error) {
		builds.Add(1)
		return fake, nil
	}, nil)
	assert.Zero(t, builds.Load(), "provider is built on first use")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = e.EmbedQuery(context.Background(), "q")
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), builds.Load())

	q, err := e.EmbedQuery(context.Background(), "q")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, norm(q), 1e-6)

	docs, err := e.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	for _, v := range docs {
		assert.InDelta(t, 1.0, norm(v), 1e-6)
	}
	assert.Equal(t, 2, e.Dimension())

	require.NoError(t, e.Close())
	assert.True(t, fake.closed)
}

func TestEmbedder_FactoryErrorIsSticky(t *testing.T) {
	boom := errors.New("model download failed")
	var builds int
	e := NewEmbedder("fake", func() (Provider, error) {
		builds++
		return nil, boom
	}, nil)

	_, err := e.EmbedQuery(context.Background(), "q")
	assert.ErrorIs(t, err, boom)
	_, err = e.EmbedDocuments(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, builds)
	assert.Zero(t, e.Dimension())
	assert.NoError(t, e.Close())
}

func TestEmbedder_CloseBeforeUse(t *testing.T) {
	e := NewEmbedder("fake", func() (Provider, error) {
		t.Fatal("factory must not run after Close")
		return nil, nil
	}, nil)
	require.NoError(t, e.Close())

	_, err := e.EmbedQuery(context.Background(), "q")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestEmbedder_Metrics(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	metrics := NewMetricsWithMeter(tel.Meter(instrumentationName), nil)

	fake := &fakeProvider{docs: [][]float32{{1}, {1}, {1}}, query: []float32{1}}
	e := NewEmbedder("mini", func() (Provider, error) { return fake, nil }, metrics)

	ctx := context.Background()
	_, err := e.EmbedDocuments(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)

	fake.err = errors.New("provider down")
	_, err = e.EmbedQuery(ctx, "q")
	require.Error(t, err)

	m, ok := tel.Metric(ctx, "docqa.embedding.errors_total")
	require.True(t, ok)
	sum := m.Data.(metricdata.Sum[int64])
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(1), sum.DataPoints[0].Value)

	m, ok = tel.Metric(ctx, "docqa.embedding.batch_size")
	require.True(t, ok)
	hist := m.Data.(metricdata.Histogram[int64])
	var total int64
	for _, dp := range hist.DataPoints {
		total += dp.Sum
	}
	assert.Equal(t, int64(4), total, "3 passages plus 1 query")
}

func TestNewProvider_Unknown(t *testing.T) {
	_, err := NewProvider(ProviderConfig{Provider: "word2vec"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestFromAppConfig(t *testing.T) {
	cfg := FromAppConfig(config.EmbeddingsConfig{
		Provider: "openai",
		Model:    "text-embedding-3-small",
		BaseURL:  "http://localhost:8080/v1",
		APIKey:   config.Secret("sk-test"),
		ONNXDir:  "/opt/docqa/lib",
	})
	assert.Equal(t, "openai", cfg.Provider)
	assert.Equal(t, "sk-test", cfg.APIKey)
	assert.Equal(t, ONNXConfig{Dir: "/opt/docqa/lib"}, cfg.ONNX)
}

func TestDetectDimensionFromModel(t *testing.T) {
	tests := []struct {
		model string
		want  int
	}{
		{DefaultModel, 384},
		{"BAAI/bge-base-en-v1.5", 768},
		{"text-embedding-3-small", 1536},
		{"text-embedding-3-large", 3072},
		{"text-embedding-ada-002", 1536},
		{"intfloat/e5-large", 1024},
		{"mystery", 384},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.want, detectDimensionFromModel(tt.model))
		})
	}
}

func TestOpenAIConfig_Validate(t *testing.T) {
	assert.ErrorIs(t, OpenAIConfig{Model: "m"}.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, OpenAIConfig{BaseURL: "http://x"}.Validate(), ErrInvalidConfig)
	assert.NoError(t, OpenAIConfig{BaseURL: "http://x", Model: "m"}.Validate())
}

// embeddingServer answers OpenAI-style /embeddings requests with one
// vector per input, [len(input), 1].
func embeddingServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		type item struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]item, len(req.Input))
		for i, in := range req.Input {
			data[i] = item{Object: "embedding", Embedding: []float32{float32(len(in)), 1}, Index: i}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIProvider(t *testing.T) {
	srv := embeddingServer(t)

	p, err := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL, Model: "text-embedding-3-small"})
	require.NoError(t, err)
	assert.Equal(t, 1536, p.Dimension())

	e := NewEmbedder("text-embedding-3-small", func() (Provider, error) { return p, nil }, nil)
	docs, err := e.EmbedDocuments(context.Background(), []string{"abc", "abcdefg"})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.InDelta(t, 1.0, norm(docs[1]), 1e-6)
	assert.Greater(t, docs[1][0], docs[0][0])

	_, err = p.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
	_, err = p.EmbedQuery(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
}
