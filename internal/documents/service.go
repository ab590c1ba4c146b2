// Package documents ingests uploaded files and manages a user's documents.
//
// An upload is saved under the files directory with a UUID prefix, its
// text is extracted and split into overlapping windows, each window is
// embedded, and the document is stored together with its chunks in one
// transaction. Every upload is tracked as an ingest job.
package documents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/docqa/internal/chunker"
	"github.com/fyrsmithlabs/docqa/internal/config"
	"github.com/fyrsmithlabs/docqa/internal/extract"
	"github.com/fyrsmithlabs/docqa/internal/jobs"
	"github.com/fyrsmithlabs/docqa/internal/logging"
	"github.com/fyrsmithlabs/docqa/internal/store"
)

var (
	// ErrNotFound indicates the document does not exist or belongs to someone else.
	ErrNotFound = errors.New("document not found")
	// ErrNoFiles is returned by UploadBatch for an empty batch.
	ErrNoFiles = errors.New("no files provided")
	// ErrInvalidFilename indicates a filename with nothing usable left after cleaning.
	ErrInvalidFilename = errors.New("invalid filename")
	// ErrTooLarge indicates an upload above the configured size limit.
	ErrTooLarge = errors.New("file too large")
	// ErrExtraction wraps text extraction failures.
	ErrExtraction = errors.New("text extraction failed")
)

// Extractor turns a stored file into text.
type Extractor interface {
	Extract(ctx context.Context, path, ext string) (extract.Result, error)
}

// Embedder embeds passages. Vectors must be L2-normalized.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// CacheInvalidator drops cached answers for a user whose corpus changed.
type CacheInvalidator interface {
	PurgeUser(userID int64)
}

// Config controls ingestion.
type Config struct {
	FilesDir string
	// Concurrency bounds parallel ingestion within one batch.
	Concurrency int
	// MaxFileBytes rejects larger uploads; 0 means unlimited.
	MaxFileBytes int64
	Chunking     chunker.Config
}

// ConfigFromApp maps the application configuration.
func ConfigFromApp(cfg *config.Config) Config {
	return Config{
		FilesDir:     cfg.Storage.FilesDir,
		Concurrency:  cfg.Ingest.Concurrency,
		MaxFileBytes: int64(cfg.Ingest.MaxFileMB) << 20,
		Chunking: chunker.Config{
			MaxTokens:     cfg.Ingest.ChunkTokens,
			OverlapTokens: cfg.Ingest.OverlapTokens,
		},
	}
}

// Upload is one file to ingest.
type Upload struct {
	Filename string
	Body     io.Reader
}

// Uploaded describes an ingested document.
type Uploaded struct {
	ID        int64     `json:"id"`
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	Chunks    int       `json:"chunks"`
	JobID     string    `json:"job_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Option configures a Service.
type Option func(*Service)

// WithJobs tracks uploads in r.
func WithJobs(r *jobs.Registry) Option {
	return func(s *Service) { s.jobs = r }
}

// WithInvalidator purges cached answers whenever a user's documents change.
func WithInvalidator(inv CacheInvalidator) Option {
	return func(s *Service) { s.invalidator = inv }
}

// WithTracer sets the tracer for ingest spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// Service ingests and manages documents.
type Service struct {
	store     store.Documents
	extractor Extractor
	embedder  Embedder
	cfg       Config

	jobs        *jobs.Registry
	invalidator CacheInvalidator
	tracer      trace.Tracer
	logger      *logging.Logger
	metrics     *Metrics
}

// NewService creates a Service and ensures the files directory exists.
func NewService(st store.Documents, extractor Extractor, embedder Embedder, cfg Config, opts ...Option) (*Service, error) {
	if st == nil || extractor == nil || embedder == nil {
		return nil, errors.New("documents: store, extractor and embedder are required")
	}
	if cfg.FilesDir == "" {
		return nil, errors.New("documents: files directory is required")
	}
	if cfg.Chunking == (chunker.Config{}) {
		cfg.Chunking = chunker.DefaultConfig()
	}
	if err := cfg.Chunking.Validate(); err != nil {
		return nil, err
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if err := os.MkdirAll(cfg.FilesDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating files directory: %w", err)
	}

	s := &Service{
		store:     st,
		extractor: extractor,
		embedder:  embedder,
		cfg:       cfg,
		tracer:    otel.Tracer("github.com/fyrsmithlabs/docqa/internal/documents"),
		logger:    logging.NewNop(),
		metrics:   NewMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.jobs == nil {
		s.jobs = jobs.NewRegistry(nil, "", s.logger)
	}
	return s, nil
}

// Jobs returns the ingest job registry.
func (s *Service) Jobs() *jobs.Registry {
	return s.jobs
}

// cleanFilename keeps the base name and drops path separators.
func cleanFilename(name string) (string, error) {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || name == "/" {
		return "", ErrInvalidFilename
	}
	return name, nil
}

// Upload ingests a single file for userID.
func (s *Service) Upload(ctx context.Context, userID int64, up Upload) (*Uploaded, error) {
	name, err := cleanFilename(up.Filename)
	if err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "documents.Ingest", trace.WithAttributes(
		attribute.Int64("user.id", userID),
		attribute.String("document.filename", name),
	))
	defer span.End()

	job := s.jobs.Create(ctx, userID, name)
	if err := s.jobs.Started(job.ID); err != nil {
		s.logger.Warn(ctx, "publishing job start failed", zap.String("job.id", job.ID), zap.Error(err))
	}

	start := time.Now()
	out, err := s.ingest(ctx, userID, name, up.Body)
	s.metrics.IngestDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		s.metrics.UploadsTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if perr := s.jobs.Fail(job.ID, err); perr != nil {
			s.logger.Warn(ctx, "publishing job failure failed", zap.String("job.id", job.ID), zap.Error(perr))
		}
		s.logger.Error(ctx, "document ingest failed",
			zap.String("filename", name), zap.String("job.id", job.ID), zap.Error(err))
		return nil, err
	}

	out.JobID = job.ID
	s.metrics.UploadsTotal.WithLabelValues("ok").Inc()
	s.metrics.ChunksTotal.Add(float64(out.Chunks))
	s.metrics.BytesTotal.Add(float64(out.Size))
	span.SetAttributes(
		attribute.Int64("document.id", out.ID),
		attribute.Int("document.chunks", out.Chunks),
	)
	if perr := s.jobs.Complete(job.ID, out.ID); perr != nil {
		s.logger.Warn(ctx, "publishing job completion failed", zap.String("job.id", job.ID), zap.Error(perr))
	}
	if s.invalidator != nil {
		s.invalidator.PurgeUser(userID)
	}
	s.logger.Info(ctx, "document ingested",
		zap.Int64("document.id", out.ID),
		zap.String("filename", name),
		zap.Int64("size", out.Size),
		zap.Int("chunks", out.Chunks),
		zap.Duration("duration", time.Since(start)))
	return out, nil
}

func (s *Service) ingest(ctx context.Context, userID int64, name string, body io.Reader) (*Uploaded, error) {
	path := filepath.Join(s.cfg.FilesDir, uuid.NewString()+"_"+name)
	size, err := s.save(path, body)
	if err != nil {
		return nil, err
	}

	keep := false
	defer func() {
		if !keep {
			_ = os.Remove(path)
		}
	}()

	res, err := s.extractor.Extract(ctx, path, extract.Ext(name))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrExtraction, name, err)
	}

	text := chunker.Normalize(res.Text)
	pieces := chunker.Split(text, s.cfg.Chunking)
	vectors, err := s.embedder.EmbedDocuments(ctx, pieces)
	if err != nil {
		return nil, fmt.Errorf("embedding %s: %w", name, err)
	}
	if len(vectors) != len(pieces) {
		return nil, fmt.Errorf("embedding %s: got %d vectors for %d chunks", name, len(vectors), len(pieces))
	}

	var pages []*int
	if text == res.Text {
		pages = chunker.PageMap(res.Pages, len(pieces), s.cfg.Chunking)
	}
	chunks := make([]store.Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = store.Chunk{Position: i, Text: piece, Embedding: vectors[i]}
		if pages != nil {
			chunks[i].Page = pages[i]
		}
	}

	doc := &store.Document{UserID: userID, Filename: name, Path: path, Size: size}
	if err := s.store.CreateDocument(ctx, doc, chunks); err != nil {
		return nil, fmt.Errorf("storing %s: %w", name, err)
	}
	keep = true
	return &Uploaded{
		ID:        doc.ID,
		Filename:  doc.Filename,
		Size:      doc.Size,
		Chunks:    len(chunks),
		CreatedAt: doc.CreatedAt,
	}, nil
}

func (s *Service) save(path string, body io.Reader) (int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return 0, fmt.Errorf("creating upload file: %w", err)
	}
	src := body
	if s.cfg.MaxFileBytes > 0 {
		src = io.LimitReader(body, s.cfg.MaxFileBytes+1)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && s.cfg.MaxFileBytes > 0 && n > s.cfg.MaxFileBytes {
		err = fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, s.cfg.MaxFileBytes)
	}
	if err != nil {
		_ = os.Remove(path)
		return 0, fmt.Errorf("saving upload: %w", err)
	}
	return n, nil
}

// UploadBatch ingests files concurrently and returns results in request
// order. The first failure cancels the files not yet started and is
// returned; files already ingested are kept.
func (s *Service) UploadBatch(ctx context.Context, userID int64, uploads []Upload) ([]*Uploaded, error) {
	if len(uploads) == 0 {
		return nil, ErrNoFiles
	}
	out := make([]*Uploaded, len(uploads))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, up := range uploads {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := s.Upload(gctx, userID, up)
			if err != nil {
				return err
			}
			out[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// List returns the user's documents, newest first.
func (s *Service) List(ctx context.Context, userID int64) ([]store.Document, error) {
	docs, err := s.store.ListDocuments(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	return docs, nil
}

// Get returns the document if userID owns it.
func (s *Service) Get(ctx context.Context, userID, documentID int64) (*store.Document, error) {
	doc, err := s.store.GetDocument(ctx, userID, documentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, documentID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading document: %w", err)
	}
	return doc, nil
}

// Open returns the document with its stored file opened for reading. The
// caller closes the file.
func (s *Service) Open(ctx context.Context, userID, documentID int64) (*store.Document, *os.File, error) {
	doc, err := s.Get(ctx, userID, documentID)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(doc.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, fmt.Errorf("%w: file for %d is missing", ErrNotFound, documentID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("opening document file: %w", err)
	}
	return doc, f, nil
}

// Delete removes the document and its chunks. The stored file is removed
// best-effort.
func (s *Service) Delete(ctx context.Context, userID, documentID int64) error {
	doc, err := s.Get(ctx, userID, documentID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteDocument(ctx, userID, documentID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %d", ErrNotFound, documentID)
		}
		return fmt.Errorf("deleting document: %w", err)
	}
	s.removeFile(ctx, doc.Path)
	s.metrics.DeletesTotal.Inc()
	if s.invalidator != nil {
		s.invalidator.PurgeUser(userID)
	}
	s.logger.Info(ctx, "document deleted", zap.Int64("document.id", documentID))
	return nil
}

// DeleteAll removes every document the user owns together with the stored
// files. It implements auth.AccountCleaner.
func (s *Service) DeleteAll(ctx context.Context, userID int64) error {
	docs, err := s.store.ListDocuments(ctx, userID)
	if err != nil {
		return fmt.Errorf("listing documents: %w", err)
	}
	for _, doc := range docs {
		if err := s.store.DeleteDocument(ctx, userID, doc.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("deleting document %d: %w", doc.ID, err)
		}
		s.removeFile(ctx, doc.Path)
	}
	if s.invalidator != nil {
		s.invalidator.PurgeUser(userID)
	}
	s.logger.Info(ctx, "all documents deleted", zap.Int("count", len(docs)))
	return nil
}

func (s *Service) removeFile(ctx context.Context, path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn(ctx, "removing document file failed", zap.String("path", path), zap.Error(err))
	}
}
