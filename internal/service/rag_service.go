package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"transcriptrag/internal/domain"
	"transcriptrag/internal/embedding"
	"transcriptrag/internal/loader"
	"transcriptrag/internal/logger"
)

const (
	// DefaultBatchSize is the number of chunks embedded and inserted per call.
	DefaultBatchSize = 100
	// NoContext is returned by AnswerContext when retrieval finds nothing.
	NoContext = "No relevant context found."
)

// Config wires the orchestrator. Loader, Chunker, Embedder and Store are
// required; Generator is only needed by Chat.
type Config struct {
	Loader    *loader.Loader
	Chunker   domain.Chunker
	Embedder  domain.Embedder
	Store     domain.VectorStore
	Generator domain.Generator

	BatchSize int
	// Parallelism bounds how many batches are embedded at once.
	Parallelism    int
	QueryCacheSize int
	Log            logrus.FieldLogger
}

// RAGServiceImpl is the retrieval orchestrator. It owns no chunk data; the
// store is the only holder of indexed entries.
type RAGServiceImpl struct {
	loader      *loader.Loader
	chunker     domain.Chunker
	embedder    domain.Embedder
	queries     *embedding.Cached
	store       domain.VectorStore
	generator   domain.Generator
	batchSize   int
	parallelism int
	log         logrus.FieldLogger
}

var _ domain.RAGService = (*RAGServiceImpl)(nil)

// NewRAGService validates cfg and applies defaults.
func NewRAGService(cfg Config) (*RAGServiceImpl, error) {
	switch {
	case cfg.Loader == nil:
		return nil, fmt.Errorf("%w: loader is required", domain.ErrInvalidInput)
	case cfg.Chunker == nil:
		return nil, fmt.Errorf("%w: chunker is required", domain.ErrInvalidInput)
	case cfg.Embedder == nil:
		return nil, fmt.Errorf("%w: embedder is required", domain.ErrInvalidInput)
	case cfg.Store == nil:
		return nil, fmt.Errorf("%w: store is required", domain.ErrInvalidInput)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	return &RAGServiceImpl{
		loader:      cfg.Loader,
		chunker:     cfg.Chunker,
		embedder:    cfg.Embedder,
		queries:     embedding.NewCached(cfg.Embedder, cfg.QueryCacheSize),
		store:       cfg.Store,
		generator:   cfg.Generator,
		batchSize:   cfg.BatchSize,
		parallelism: cfg.Parallelism,
		log:         logger.OrDiscard(cfg.Log),
	}, nil
}

// BuildCorpus indexes the corpus once. A non-empty index is left alone
// unless force is set, in which case it is cleared and rebuilt. Source
// changes since the last build are not detected.
func (s *RAGServiceImpl) BuildCorpus(ctx context.Context, force bool) (domain.BuildReport, error) {
	var report domain.BuildReport
	if force {
		if err := s.store.Clear(ctx); err != nil {
			return report, err
		}
		s.log.Info("index cleared for rebuild")
	} else {
		n, err := s.store.Count(ctx)
		if err != nil {
			return report, err
		}
		if n > 0 {
			s.log.WithField("chunks", n).Info("index already built, skipping")
			report.Skipped = true
			report.ExistingChunks = n
			return report, nil
		}
	}

	docs, err := s.loader.LoadAll()
	if err != nil {
		return report, err
	}
	report.Documents = len(docs)
	if len(docs) == 0 {
		s.log.WithField("root", s.loader.Root()).Warn("no documents to index")
		return report, nil
	}

	var chunks []domain.Chunk
	for _, d := range docs {
		cs, err := s.chunker.Chunk(d)
		if err != nil {
			return report, fmt.Errorf("chunk %s: %w", d.Title, err)
		}
		chunks = append(chunks, cs...)
	}
	report.Chunks = len(chunks)

	batches := embedding.Batches(len(chunks), s.batchSize)
	// Embed up to parallelism batches concurrently, then insert them in order.
	for group := 0; group < len(batches); group += s.parallelism {
		window := batches[group:min(group+s.parallelism, len(batches))]
		vectors := make([][][]float32, len(window))
		g, gctx := errgroup.WithContext(ctx)
		for i, b := range window {
			g.Go(func() error {
				vecs, err := s.embedBatch(gctx, chunks[b.Start:b.End])
				vectors[i] = vecs
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return report, err
		}
		for i, b := range window {
			if err := s.store.Insert(ctx, toEntries(chunks[b.Start:b.End], vectors[i])); err != nil {
				return report, err
			}
			report.Batches++
			s.log.WithFields(logrus.Fields{
				"batch": report.Batches,
				"of":    len(batches),
				"size":  b.End - b.Start,
			}).Debug("batch indexed")
		}
	}
	s.log.WithFields(logrus.Fields{
		"documents": report.Documents,
		"chunks":    report.Chunks,
		"batches":   report.Batches,
	}).Info("corpus indexed")
	return report, nil
}

func (s *RAGServiceImpl) embedBatch(ctx context.Context, chunks []domain.Chunk) ([][]float32, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, domain.NewProviderError(s.embedder.Name(), err)
	}
	if len(vecs) != len(texts) {
		return nil, domain.NewProviderError(s.embedder.Name(),
			fmt.Errorf("expected %d vectors, got %d", len(texts), len(vecs)))
	}
	return vecs, nil
}

func toEntries(chunks []domain.Chunk, vectors [][]float32) []domain.IndexEntry {
	entries := make([]domain.IndexEntry, len(chunks))
	for i, c := range chunks {
		entries[i] = domain.IndexEntry{Vector: vectors[i], Content: c.Text, Metadata: c.Metadata()}
	}
	return entries
}

// Search embeds the query and returns the store's top-k results. Scores
// keep the store's ranking direction.
func (s *RAGServiceImpl) Search(ctx context.Context, query string, topK int) ([]domain.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is empty", domain.ErrInvalidInput)
	}
	if topK < 1 {
		return nil, fmt.Errorf("%w: k must be at least 1, got %d", domain.ErrInvalidInput, topK)
	}
	vec, err := s.queries.EmbedQuery(ctx, query)
	if err != nil {
		return nil, domain.NewProviderError(s.embedder.Name(), err)
	}
	return s.store.Search(ctx, vec, topK)
}

// AnswerContext formats the top-k chunks as numbered sources in ranked
// order, or returns NoContext when nothing was retrieved. Store and
// provider failures are returned, never folded into the text.
func (s *RAGServiceImpl) AnswerContext(ctx context.Context, query string, topK int) (string, error) {
	results, err := s.Search(ctx, query, topK)
	if err != nil {
		return "", err
	}
	return FormatContext(results), nil
}

// FormatContext renders results the way AnswerContext does.
func FormatContext(results []domain.SearchResult) string {
	if len(results) == 0 {
		return NoContext
	}
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = fmt.Sprintf("Source %d (from '%s'):\n%s\n", i+1, r.Metadata.Title, r.Content)
	}
	return strings.Join(parts, "\n")
}

// Chat retrieves context and asks the generator for an answer.
func (s *RAGServiceImpl) Chat(ctx context.Context, query string, topK int) (domain.ChatResponse, error) {
	resp := domain.ChatResponse{Query: query}
	if s.generator == nil {
		return resp, domain.ErrGeneratorUnavailable
	}
	results, err := s.Search(ctx, query, topK)
	if err != nil {
		return resp, err
	}
	resp.Context = FormatContext(results)
	resp.ContextChunks = len(results)
	resp.Sources = results

	answer, err := s.generator.Generate(ctx, query, resp.Context)
	if err != nil {
		var ge *domain.GenerationError
		if !errors.As(err, &ge) {
			err = &domain.GenerationError{Err: err}
		}
		return resp, err
	}
	resp.Answer = answer
	return resp, nil
}

// CorpusSummary reloads the corpus and reports its statistics.
func (s *RAGServiceImpl) CorpusSummary() (domain.CorpusSummary, error) {
	docs, err := s.loader.LoadAll()
	if err != nil {
		return domain.CorpusSummary{}, err
	}
	summary, err := loader.Summarize(docs)
	if err != nil {
		var empty *domain.EmptyCorpusError
		if errors.As(err, &empty) && empty.Root == "" {
			empty.Root = s.loader.Root()
		}
		return domain.CorpusSummary{}, err
	}
	return summary, nil
}

// IndexInfo reports the store's statistics.
func (s *RAGServiceImpl) IndexInfo(ctx context.Context) (domain.IndexInfo, error) {
	return s.store.Info(ctx)
}
