package documents

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/docqa/internal/chunker"
	"github.com/fyrsmithlabs/docqa/internal/config"
	"github.com/fyrsmithlabs/docqa/internal/extract"
	"github.com/fyrsmithlabs/docqa/internal/jobs"
	"github.com/fyrsmithlabs/docqa/internal/store"
	"github.com/fyrsmithlabs/docqa/internal/store/memory"
	"github.com/fyrsmithlabs/docqa/internal/telemetry"
)

// fileExtractor returns the file contents, split into pages on form feeds
// for .pdf files.
type fileExtractor struct {
	err error
}

func (f fileExtractor) Extract(_ context.Context, path, ext string) (extract.Result, error) {
	if f.err != nil {
		return extract.Result{}, f.err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return extract.Result{}, err
	}
	if ext == "pdf" {
		pages := strings.Split(string(data), "\f")
		return extract.Result{Text: strings.Join(pages, "\n\n"), Pages: pages}, nil
	}
	return extract.Result{Text: string(data)}, nil
}

type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

type purgeSpy struct {
	mu    sync.Mutex
	users []int64
}

func (p *purgeSpy) PurgeUser(userID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users = append(p.users, userID)
}

type fixture struct {
	svc   *Service
	store *memory.Store
	emb   *fakeEmbedder
	spy   *purgeSpy
	jobs  *jobs.Registry
	tel   *telemetry.TestTelemetry
	user  int64
	dir   string
}

func newFixture(t *testing.T, ex Extractor, mutate func(*Config)) *fixture {
	t.Helper()
	st := memory.New()
	u, err := st.CreateUser(context.Background(), "docs@example.com", "hash")
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "uploads")
	cfg := Config{
		FilesDir:    dir,
		Concurrency: 2,
		Chunking:    chunker.Config{MaxTokens: 10, OverlapTokens: 2},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f := &fixture{
		store: st,
		emb:   &fakeEmbedder{},
		spy:   &purgeSpy{},
		jobs:  jobs.NewRegistry(nil, "docqa.jobs", nil),
		tel:   telemetry.NewTestTelemetry(),
		user:  u.ID,
		dir:   dir,
	}
	f.svc, err = NewService(st, ex, f.emb, cfg,
		WithJobs(f.jobs),
		WithInvalidator(f.spy),
		WithTracer(f.tel.Tracer("documents-test")),
	)
	require.NoError(t, err)
	return f
}

func TestUpload(t *testing.T) {
	f := newFixture(t, fileExtractor{}, nil)
	ctx := context.Background()
	body := strings.Repeat("2024-04-01 revenue $1,000.00 ", 5)

	up, err := f.svc.Upload(ctx, f.user, Upload{Filename: "../../ledger.txt", Body: strings.NewReader(body)})
	require.NoError(t, err)
	assert.Equal(t, "ledger.txt", up.Filename)
	assert.Equal(t, int64(len(body)), up.Size)
	assert.Equal(t, len(chunker.Split(body, chunker.Config{MaxTokens: 10, OverlapTokens: 2})), up.Chunks)

	doc, err := f.svc.Get(ctx, f.user, up.ID)
	require.NoError(t, err)
	assert.Equal(t, f.dir, filepath.Dir(doc.Path))
	assert.True(t, strings.HasSuffix(doc.Path, "_ledger.txt"))
	data, err := os.ReadFile(doc.Path)
	require.NoError(t, err)
	assert.Equal(t, body, string(data))

	chunks, err := f.store.ListChunks(ctx, f.user)
	require.NoError(t, err)
	require.Len(t, chunks, up.Chunks)
	for i, c := range chunks {
		assert.Equal(t, i, c.Position)
		assert.Nil(t, c.Page)
	}

	job, err := f.jobs.Get(f.user, up.JobID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, job.Status)
	assert.Equal(t, up.ID, job.DocumentID)

	assert.Equal(t, []int64{f.user}, f.spy.users)
	f.tel.AssertSpanExists(t, "documents.Ingest")
	f.tel.AssertSpanAttribute(t, "documents.Ingest", "document.chunks", int64(up.Chunks))
}

func TestUpload_PageMapping(t *testing.T) {
	f := newFixture(t, fileExtractor{}, nil)
	ctx := context.Background()
	// 40 character windows with a 32 character step over two 60 character pages.
	pages := strings.Repeat("a", 60) + "\f" + strings.Repeat("b", 60)

	up, err := f.svc.Upload(ctx, f.user, Upload{Filename: "report.pdf", Body: strings.NewReader(pages)})
	require.NoError(t, err)

	chunks, err := f.store.ListChunks(ctx, f.user)
	require.NoError(t, err)
	require.Len(t, chunks, up.Chunks)
	want := []int{1, 1, 2, 2}
	for i, w := range want {
		require.NotNil(t, chunks[i].Page, "chunk %d", i)
		assert.Equal(t, w, *chunks[i].Page, "chunk %d", i)
	}
}

func TestUpload_EmptyTextGetsPlaceholder(t *testing.T) {
	f := newFixture(t, fileExtractor{}, nil)
	ctx := context.Background()

	up, err := f.svc.Upload(ctx, f.user, Upload{Filename: "blank.pdf", Body: strings.NewReader("  \n\t")})
	require.NoError(t, err)
	assert.Equal(t, 1, up.Chunks)

	chunks, err := f.store.ListChunks(ctx, f.user)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, chunker.Placeholder, chunks[0].Text)
	assert.Nil(t, chunks[0].Page, "placeholder text has no page")
}

func TestUpload_Failures(t *testing.T) {
	tests := []struct {
		name     string
		ex       Extractor
		embedErr error
		maxBytes int64
		filename string
		wantErr  error
	}{
		{name: "extraction", ex: fileExtractor{err: extract.ErrToolUnavailable}, filename: "scan.png", wantErr: ErrExtraction},
		{name: "embedding", ex: fileExtractor{}, embedErr: errors.New("model down"), filename: "a.txt"},
		{name: "too large", ex: fileExtractor{}, maxBytes: 4, filename: "a.txt", wantErr: ErrTooLarge},
		{name: "bad filename", ex: fileExtractor{}, filename: "..", wantErr: ErrInvalidFilename},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.ex, func(c *Config) { c.MaxFileBytes = tt.maxBytes })
			f.emb.err = tt.embedErr
			ctx := context.Background()

			_, err := f.svc.Upload(ctx, f.user, Upload{Filename: tt.filename, Body: strings.NewReader("some text")})
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.embedErr != nil {
				assert.ErrorIs(t, err, tt.embedErr)
			}

			entries, err := os.ReadDir(f.dir)
			require.NoError(t, err)
			assert.Empty(t, entries, "failed uploads leave no files behind")
			docs, err := f.svc.List(ctx, f.user)
			require.NoError(t, err)
			assert.Empty(t, docs)
			assert.Empty(t, f.spy.users)
		})
	}
}

func TestUpload_ExtractionErrorFailsJob(t *testing.T) {
	f := newFixture(t, fileExtractor{err: errors.New("tesseract crashed")}, nil)
	_, err := f.svc.Upload(context.Background(), f.user, Upload{Filename: "scan.png", Body: strings.NewReader("x")})
	require.ErrorIs(t, err, ErrExtraction)
	assert.Contains(t, err.Error(), "tesseract crashed")
}

func TestUploadBatch(t *testing.T) {
	f := newFixture(t, fileExtractor{}, nil)
	ctx := context.Background()

	var uploads []Upload
	for i := range 5 {
		uploads = append(uploads, Upload{
			Filename: fmt.Sprintf("file-%d.txt", i),
			Body:     strings.NewReader(fmt.Sprintf("contents of file %d", i)),
		})
	}
	got, err := f.svc.UploadBatch(ctx, f.user, uploads)
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i, up := range got {
		assert.Equal(t, fmt.Sprintf("file-%d.txt", i), up.Filename, "results keep request order")
	}

	docs, err := f.svc.List(ctx, f.user)
	require.NoError(t, err)
	assert.Len(t, docs, 5)

	_, err = f.svc.UploadBatch(ctx, f.user, nil)
	assert.ErrorIs(t, err, ErrNoFiles)
}

func TestUploadBatch_FailureAborts(t *testing.T) {
	f := newFixture(t, fileExtractor{}, func(c *Config) { c.MaxFileBytes = 8 })
	_, err := f.svc.UploadBatch(context.Background(), f.user, []Upload{
		{Filename: "ok.txt", Body: strings.NewReader("small")},
		{Filename: "big.txt", Body: strings.NewReader("far too large")},
	})
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestOpenAndDelete(t *testing.T) {
	f := newFixture(t, fileExtractor{}, nil)
	ctx := context.Background()

	up, err := f.svc.Upload(ctx, f.user, Upload{Filename: "notes.txt", Body: strings.NewReader("hello")})
	require.NoError(t, err)

	doc, file, err := f.svc.Open(ctx, f.user, up.ID)
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", doc.Filename)
	require.NoError(t, file.Close())

	_, _, err = f.svc.Open(ctx, f.user+1, up.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, f.svc.Delete(ctx, f.user+1, up.ID), ErrNotFound)

	require.NoError(t, f.svc.Delete(ctx, f.user, up.ID))
	_, err = os.Stat(doc.Path)
	assert.True(t, os.IsNotExist(err))
	_, err = f.svc.Get(ctx, f.user, up.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, f.svc.Delete(ctx, f.user, up.ID), ErrNotFound)
	assert.Equal(t, []int64{f.user, f.user}, f.spy.users, "upload and delete both purge")
}

func TestOpen_MissingFile(t *testing.T) {
	f := newFixture(t, fileExtractor{}, nil)
	ctx := context.Background()
	up, err := f.svc.Upload(ctx, f.user, Upload{Filename: "notes.txt", Body: strings.NewReader("hello")})
	require.NoError(t, err)

	doc, err := f.svc.Get(ctx, f.user, up.ID)
	require.NoError(t, err)
	require.NoError(t, os.Remove(doc.Path))

	_, _, err = f.svc.Open(ctx, f.user, up.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteAll(t *testing.T) {
	f := newFixture(t, fileExtractor{}, nil)
	ctx := context.Background()
	for _, name := range []string{"a.txt", "b.txt"} {
		_, err := f.svc.Upload(ctx, f.user, Upload{Filename: name, Body: strings.NewReader(name)})
		require.NoError(t, err)
	}

	require.NoError(t, f.svc.DeleteAll(ctx, f.user))

	docs, err := f.svc.List(ctx, f.user)
	require.NoError(t, err)
	assert.Empty(t, docs)
	entries, err := os.ReadDir(f.dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestNewService_Validation(t *testing.T) {
	_, err := NewService(nil, fileExtractor{}, &fakeEmbedder{}, Config{FilesDir: t.TempDir()})
	assert.Error(t, err)
	_, err = NewService(memory.New(), fileExtractor{}, &fakeEmbedder{}, Config{})
	assert.Error(t, err)
	_, err = NewService(memory.New(), fileExtractor{}, &fakeEmbedder{}, Config{
		FilesDir: t.TempDir(),
		Chunking: chunker.Config{MaxTokens: -1},
	})
	assert.ErrorIs(t, err, chunker.ErrInvalidConfig)
}

func TestConfigFromApp(t *testing.T) {
	cfg := ConfigFromApp(config.Default())
	assert.Equal(t, "data/uploads", cfg.FilesDir)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, int64(25<<20), cfg.MaxFileBytes)
	assert.Equal(t, chunker.DefaultConfig(), cfg.Chunking)
}

var _ store.Documents = (*memory.Store)(nil)
