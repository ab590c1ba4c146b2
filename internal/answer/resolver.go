// Package answer resolves a user's question against their documents.
//
// Every question takes one of three paths. Weekly sales questions over
// tabular revenue rows are answered deterministically: rows are extracted
// from the retrieved text, the week is resolved from the question and the
// matching days are totaled and cited. When retrieval is weak and nothing
// deterministic could be computed the answer is a fixed "not enough
// information" reply. Everything else goes to the language model with the
// retrieved chunks as context, either buffered or streamed.
package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docqa/internal/chunker"
	"github.com/fyrsmithlabs/docqa/internal/config"
	"github.com/fyrsmithlabs/docqa/internal/llm"
	"github.com/fyrsmithlabs/docqa/internal/logging"
	"github.com/fyrsmithlabs/docqa/internal/retrieval"
	"github.com/fyrsmithlabs/docqa/internal/revenue"
	"github.com/fyrsmithlabs/docqa/internal/store"
)

var (
	// ErrNoDocuments means the user has nothing ingested to search.
	ErrNoDocuments = errors.New("no documents ingested")
	// ErrEmptyQuestion is returned for a blank question.
	ErrEmptyQuestion = errors.New("question is empty")
)

// NoInformation is the reply when the documents cannot answer the question.
const NoInformation = "I don't have enough information in your documents to answer that."

const (
	// salesQuerySuffix biases the query embedding toward revenue tables.
	salesQuerySuffix = " monthly revenue record total revenue transactions table"

	// minWeekRecords is the record count below which sources are widened
	// again by month.
	minWeekRecords = 7

	// maxPrevContext is how many trailing characters of prior context are
	// passed to the model.
	maxPrevContext = 4000

	// dedupePrefix is how much chunk text identifies a source when
	// merging widened sources.
	dedupePrefix = 64

	// defaultChunkStep is the window step of the default chunker
	// configuration.
	defaultChunkStep = (chunker.DefaultMaxTokens - chunker.DefaultOverlapTokens) * chunker.CharsPerToken

	previousContextName = "previous-context"
)

// Path is the branch that produced an answer.
type Path string

const (
	PathDeterministic Path = "deterministic"
	PathNoInformation Path = "no_information"
	PathLLM           Path = "llm"
)

// Source is a cited passage.
type Source struct {
	DocumentID int64  `json:"document_id"`
	Filename   string `json:"filename"`
	Page       *int   `json:"page"`
	Text       string `json:"text"`
	URL        string `json:"url,omitempty"`

	position int
}

// Request is one question.
type Request struct {
	UserID   int64
	Question string
	// TopK is the number of ranked chunks used; <= 0 uses the configured default.
	TopK int
	// PrevContext is prior conversation text shown to the model as an
	// extra source.
	PrevContext string
	// History must already be normalized with llm.NormalizeHistory.
	History []llm.ConversationTurn
}

// Result is a complete answer.
type Result struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
	Path    Path     `json:"-"`
}

// ChunkStore is the read side of the document store.
type ChunkStore interface {
	ListChunks(ctx context.Context, userID int64) ([]store.ChunkRecord, error)
	FindChunksContaining(ctx context.Context, userID int64, substr string, limit int) ([]store.ChunkRecord, error)
}

// QueryEmbedder embeds questions. Vectors must be L2-normalized.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Dependencies supplies the collaborators a Resolver calls. Implementations
// may construct providers lazily on first use.
type Dependencies interface {
	Chunks() ChunkStore
	Embedder() QueryEmbedder
	Model() llm.Provider
}

// Deps is a fixed set of Dependencies.
type Deps struct {
	Store ChunkStore
	Embed QueryEmbedder
	LLM   llm.Provider
}

func (d Deps) Chunks() ChunkStore      { return d.Store }
func (d Deps) Embedder() QueryEmbedder { return d.Embed }
func (d Deps) Model() llm.Provider     { return d.LLM }

// Options tunes retrieval.
type Options struct {
	TopK       int
	MMR        bool
	MMRLambda  float64
	MMRFetchK  int
	WidenLimit int
	// ChunkStep is the distance in characters between the starts of
	// consecutive chunks of a document. Revenue rows repeated in the
	// overlap of adjacent chunks are counted once.
	ChunkStep int
}

// OptionsFromConfig maps the retrieval and ingest configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	chunking := chunker.Config{MaxTokens: cfg.Ingest.ChunkTokens, OverlapTokens: cfg.Ingest.OverlapTokens}
	return Options{
		TopK:       cfg.Retrieval.TopK,
		MMR:        cfg.Retrieval.MMREnabled,
		MMRLambda:  cfg.Retrieval.MMRLambda,
		MMRFetchK:  cfg.Retrieval.MMRFetchK,
		WidenLimit: cfg.Retrieval.WidenLimit,
		ChunkStep:  chunking.Step(),
	}
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCache enables answer caching.
func WithCache(c *Cache) Option {
	return func(r *Resolver) { r.cache = c }
}

// WithExtractor replaces the revenue row parser.
func WithExtractor(e revenue.RecordExtractor) Option {
	return func(r *Resolver) { r.extractor = e }
}

// WithWeekResolver replaces the week resolver, typically to pin the clock.
func WithWeekResolver(w *revenue.WeekResolver) Option {
	return func(r *Resolver) { r.weeks = w }
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(r *Resolver) { r.tracer = t }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// Resolver answers questions. It holds no per-request state and is safe
// for concurrent use.
type Resolver struct {
	deps      Dependencies
	opts      Options
	extractor revenue.RecordExtractor
	weeks     *revenue.WeekResolver
	cache     *Cache
	tracer    trace.Tracer
	logger    *logging.Logger
	metrics   *Metrics
}

// NewResolver creates a Resolver.
func NewResolver(deps Dependencies, opts Options, options ...Option) *Resolver {
	if opts.TopK <= 0 {
		opts.TopK = retrieval.DefaultTopK
	}
	if opts.MMRLambda <= 0 || opts.MMRLambda > 1 {
		opts.MMRLambda = retrieval.DefaultLambda
	}
	if opts.WidenLimit <= 0 {
		opts.WidenLimit = 300
	}
	if opts.ChunkStep <= 0 {
		opts.ChunkStep = defaultChunkStep
	}
	r := &Resolver{
		deps:      deps,
		opts:      opts,
		extractor: revenue.NewRegexExtractor(),
		weeks:     revenue.NewWeekResolver(),
		tracer:    otel.Tracer("github.com/fyrsmithlabs/docqa/internal/answer"),
		logger:    logging.NewNop(),
		metrics:   NewMetrics(),
	}
	for _, o := range options {
		o(r)
	}
	return r
}

// PurgeUser drops the user's cached answers. It is a no-op without a cache.
func (r *Resolver) PurgeUser(userID int64) {
	if r.cache != nil {
		r.cache.PurgeUser(userID)
	}
}

// plan is a resolved question. Deterministic and no-information plans
// carry their final text; LLM plans carry the prompt to send.
type plan struct {
	path     Path
	text     string
	sources  []Source
	prompt   llm.Prompt
	best     float64
	widened  bool
	sales    bool
	cacheKey *cacheKey
}

func (r *Resolver) topK(req Request) int {
	if req.TopK > 0 {
		return req.TopK
	}
	return r.opts.TopK
}

func (r *Resolver) cacheKeyFor(req Request) *cacheKey {
	if r.cache == nil || len(req.History) > 0 || strings.TrimSpace(req.PrevContext) != "" {
		return nil
	}
	key := r.cache.key(req.UserID, r.topK(req), req.Question)
	return &key
}

// isSalesWeek reports whether the question asks about weekly sales.
func isSalesWeek(lower string) bool {
	return (strings.Contains(lower, "sales") || strings.Contains(lower, "revenue")) &&
		strings.Contains(lower, "week")
}

func (r *Resolver) resolve(ctx context.Context, req Request) (*plan, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	sales := isSalesWeek(strings.ToLower(question))
	month, hasMonth := revenue.MonthFromQuestion(question)

	query := question
	if sales {
		query += salesQuerySuffix
	}
	qvec, err := r.deps.Embedder().EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding question: %w", err)
	}

	chunks, err := r.deps.Chunks().ListChunks(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("listing chunks: %w", err)
	}
	if len(chunks) == 0 {
		return nil, ErrNoDocuments
	}

	topK := r.topK(req)
	fetch := topK
	if r.opts.MMR {
		fetch = max(topK, r.opts.MMRFetchK)
	}
	ranked := retrieval.Rank(qvec, chunks, func(c store.ChunkRecord) []float32 { return c.Embedding }, fetch)
	weak := retrieval.Weak(ranked)
	best, _ := retrieval.Best(ranked)

	top := retrieval.Items(ranked[:min(topK, len(ranked))])
	p := &plan{sources: toSources(top), best: best, sales: sales}

	pattern := fmt.Sprintf("-%02d-", int(month))
	if weak && sales && hasMonth {
		extra, err := r.widen(ctx, req.UserID, pattern, "weak_retrieval")
		if err != nil {
			return nil, err
		}
		before := len(p.sources)
		p.sources = mergeSources(p.sources, toSources(extra))
		p.widened = len(p.sources) > before
	}

	if sales {
		records := r.records(p.sources)
		if hasMonth && len(records) < minWeekRecords {
			extra, err := r.widen(ctx, req.UserID, pattern, "few_records")
			if err != nil {
				return nil, err
			}
			before := len(p.sources)
			p.sources = mergeSources(p.sources, toSources(extra))
			p.widened = p.widened || len(p.sources) > before
			records = r.records(p.sources)
		}
		r.metrics.RecordsExtracted.Observe(float64(len(records)))

		if week, ok := r.weeks.Resolve(question, records); ok {
			summary := revenue.Aggregate(records, week.Start, week.End)
			if len(summary.Days) > 0 {
				p.path = PathDeterministic
				p.text = composeWeekly(week, summary, p.sources)
				return p, nil
			}
		}
	}

	if weak {
		p.path = PathNoInformation
		p.text = NoInformation
		p.sources = []Source{}
		return p, nil
	}

	if r.opts.MMR && !p.widened {
		candidates := retrieval.Items(ranked)
		vectors := make([][]float32, len(candidates))
		for i, c := range candidates {
			vectors[i] = c.Embedding
		}
		p.sources = toSources(retrieval.SelectMMR(qvec, candidates, vectors, topK, r.opts.MMRLambda))
	}

	if carry := trimPrevContext(req.PrevContext); carry != "" {
		p.sources = append([]Source{{Filename: previousContextName, Text: carry}}, p.sources...)
	}

	blocks := make([]llm.ContextBlock, len(p.sources))
	for i, s := range p.sources {
		blocks[i] = llm.ContextBlock{DocumentID: s.DocumentID, Page: s.Page, Text: s.Text}
	}
	p.path = PathLLM
	p.prompt = llm.Prompt{Question: question, Context: blocks, History: req.History}
	return p, nil
}

func (r *Resolver) widen(ctx context.Context, userID int64, pattern, stage string) ([]store.ChunkRecord, error) {
	extra, err := r.deps.Chunks().FindChunksContaining(ctx, userID, pattern, r.opts.WidenLimit)
	if err != nil {
		return nil, fmt.Errorf("widening sources by %q: %w", pattern, err)
	}
	r.metrics.WideningsTotal.WithLabelValues(stage).Inc()
	r.logger.Debug(ctx, "widened sources by month",
		zap.String("pattern", pattern), zap.String("stage", stage), zap.Int("chunks", len(extra)))
	return extra, nil
}

// Answer resolves req to a complete answer.
func (r *Resolver) Answer(ctx context.Context, req Request) (*Result, error) {
	ctx, span := r.tracer.Start(ctx, "answer.Answer", trace.WithAttributes(
		attribute.Int64("user.id", req.UserID),
	))
	defer span.End()
	start := time.Now()

	key := r.cacheKeyFor(req)
	if key != nil {
		if res, ok := r.cache.get(*key); ok {
			r.metrics.CacheHitsTotal.Inc()
			span.SetAttributes(attribute.Bool("answer.cached", true), attribute.String("answer.path", string(res.Path)))
			return &res, nil
		}
		r.metrics.CacheMissesTotal.Inc()
	}

	p, err := r.resolve(ctx, req)
	if err != nil {
		return nil, r.fail(span, err)
	}

	text := p.text
	if p.path == PathLLM {
		text, err = r.deps.Model().Complete(ctx, p.prompt)
		if err != nil {
			return nil, r.fail(span, fmt.Errorf("generating answer: %w", err))
		}
	}

	res := &Result{Answer: text, Sources: p.sources, Path: p.path}
	if key != nil {
		r.cache.add(*key, *res)
	}
	r.finish(ctx, span, p, start)
	return res, nil
}

func (r *Resolver) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func (r *Resolver) finish(ctx context.Context, span trace.Span, p *plan, start time.Time) {
	elapsed := time.Since(start)
	r.metrics.AnswersTotal.WithLabelValues(string(p.path)).Inc()
	r.metrics.AnswerDuration.WithLabelValues(string(p.path)).Observe(elapsed.Seconds())
	span.SetAttributes(
		attribute.String("answer.path", string(p.path)),
		attribute.Int("answer.sources", len(p.sources)),
		attribute.Bool("answer.widened", p.widened),
		attribute.Bool("answer.sales", p.sales),
		attribute.Float64("retrieval.best_score", p.best),
	)
	r.logger.Info(ctx, "question answered",
		zap.String("path", string(p.path)),
		zap.Int("sources", len(p.sources)),
		zap.Bool("widened", p.widened),
		zap.Float64("best_score", p.best),
		zap.Duration("duration", elapsed))
}

func toSources(chunks []store.ChunkRecord) []Source {
	out := make([]Source, len(chunks))
	for i, c := range chunks {
		out[i] = Source{
			DocumentID: c.DocumentID,
			Filename:   c.Filename,
			Page:       c.Page,
			Text:       c.Text,
			URL:        downloadURL(c.DocumentID),
			position:   c.Position,
		}
	}
	return out
}

func downloadURL(documentID int64) string {
	if documentID <= 0 {
		return ""
	}
	return fmt.Sprintf("/api/documents/%d/download", documentID)
}

func joinTexts(sources []Source) string {
	texts := make([]string, len(sources))
	for i, s := range sources {
		texts[i] = s.Text
	}
	return strings.Join(texts, "\n\n")
}

type sourceKey struct {
	documentID int64
	page       int
	hasPage    bool
	prefix     string
}

func keyOf(s Source) sourceKey {
	k := sourceKey{documentID: s.DocumentID, prefix: s.Text}
	if s.Page != nil {
		k.page, k.hasPage = *s.Page, true
	}
	if runes := []rune(s.Text); len(runes) > dedupePrefix {
		k.prefix = string(runes[:dedupePrefix])
	}
	return k
}

// mergeSources appends the extra sources not already present by document,
// page and leading text.
func mergeSources(sources, extra []Source) []Source {
	seen := make(map[sourceKey]struct{}, len(sources)+len(extra))
	for _, s := range sources {
		seen[keyOf(s)] = struct{}{}
	}
	for _, e := range extra {
		k := keyOf(e)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		sources = append(sources, e)
	}
	return sources
}

// rowKey is where a revenue row starts within its document's text.
type rowKey struct {
	documentID int64
	offset     int
}

// records extracts every revenue row from sources. Adjacent chunks of one
// document share their overlap, so a row found at the same document offset
// through two chunks is one row. Rows with equal dates and amounts at
// different offsets are separate sales and are all kept.
func (r *Resolver) records(sources []Source) []revenue.Record {
	locator, ok := r.extractor.(revenue.RecordLocator)
	if !ok {
		return r.extractor.Extract(joinTexts(sources))
	}
	var out []revenue.Record
	seen := make(map[rowKey]struct{})
	for _, s := range sources {
		for _, m := range locator.Locate(s.Text) {
			if s.DocumentID > 0 {
				k := rowKey{
					documentID: s.DocumentID,
					offset:     s.position*r.opts.ChunkStep + utf8.RuneCountInString(s.Text[:m.Offset]),
				}
				if _, dup := seen[k]; dup {
					continue
				}
				seen[k] = struct{}{}
			}
			out = append(out, m.Record)
		}
	}
	return out
}

func trimPrevContext(s string) string {
	s = strings.TrimSpace(s)
	if runes := []rune(s); len(runes) > maxPrevContext {
		s = string(runes[len(runes)-maxPrevContext:])
	}
	return s
}

// composeWeekly renders the weekly total with one cited bullet per day. A
// day cites the first source whose text contains its date.
func composeWeekly(week revenue.WeekRange, summary revenue.Summary, sources []Source) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sales in %s %d–%d, %d: **$%s** (avg **$%s**/day).\n",
		week.Start.Month(), week.Start.Day(), week.End.Day(), week.Start.Year(),
		revenue.FormatAmount(summary.Total), revenue.FormatAmount(summary.Average))

	for i, day := range summary.Days {
		date := day.Date.Format(time.DateOnly)
		fmt.Fprintf(&b, "- %s: $%s", date, revenue.FormatAmount(day.Amount))
		for idx, s := range sources {
			if strings.Contains(s.Text, date) {
				fmt.Fprintf(&b, " [%d]", idx+1)
				break
			}
		}
		if i < len(summary.Days)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}
