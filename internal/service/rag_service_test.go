package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transcriptrag/internal/chunker"
	"transcriptrag/internal/domain"
	"transcriptrag/internal/embedding/hashing"
	"transcriptrag/internal/loader"
	"transcriptrag/internal/vectorstore/memory"
)

type countingStore struct {
	*memory.Storage
	inserts int
	clears  int
}

func (c *countingStore) Insert(ctx context.Context, entries []domain.IndexEntry) error {
	c.inserts++
	return c.Storage.Insert(ctx, entries)
}

func (c *countingStore) Clear(ctx context.Context) error {
	c.clears++
	return c.Storage.Clear(ctx)
}

// countingEmbedder is called from parallel embedding goroutines.
type countingEmbedder struct {
	domain.Embedder
	calls atomic.Int32
	err   error
}

func (c *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.Embedder.Embed(ctx, texts)
}

func (c *countingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

type generatorFunc func(ctx context.Context, query, context string) (string, error)

func (f generatorFunc) Generate(ctx context.Context, query, context string) (string, error) {
	return f(ctx, query, context)
}

type fixture struct {
	svc      *RAGServiceImpl
	store    *countingStore
	embedder *countingEmbedder
	root     string
}

func writeCorpus(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0o644))
	}
	return root
}

func newFixture(t *testing.T, files map[string]string, modify func(*Config)) *fixture {
	t.Helper()
	root := writeCorpus(t, files)
	ch, err := chunker.NewSlidingChunker(20, 5)
	require.NoError(t, err)
	f := &fixture{
		store:    &countingStore{Storage: memory.NewStorage()},
		embedder: &countingEmbedder{Embedder: hashing.NewEmbedder(128)},
		root:     root,
	}
	cfg := Config{
		Loader:   loader.New(root, "", nil),
		Chunker:  ch,
		Embedder: f.embedder,
		Store:    f.store,
	}
	if modify != nil {
		modify(&cfg)
	}
	f.svc, err = NewRAGService(cfg)
	require.NoError(t, err)
	return f
}

var catsCorpus = map[string]string{"A.txt": "Cats are mammals. Dogs are mammals too."}

func TestBuildCorpus_EndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, catsCorpus, nil)

	report, err := f.svc.BuildCorpus(ctx, false)
	require.NoError(t, err)

	assert.False(t, report.Skipped)
	assert.Equal(t, 1, report.Documents)
	assert.Equal(t, 3, report.Chunks)
	assert.Equal(t, 1, report.Batches)

	results, err := f.svc.Search(ctx, "mammals", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "A", results[0].Metadata.Title)
	assert.Contains(t, results[0].Content, "mammals")
	assert.Equal(t, 3, results[0].Metadata.TotalChunks)
}

func TestBuildCorpus_SecondCallPerformsNoInserts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, catsCorpus, nil)

	_, err := f.svc.BuildCorpus(ctx, false)
	require.NoError(t, err)
	inserts := f.store.inserts

	report, err := f.svc.BuildCorpus(ctx, false)
	require.NoError(t, err)

	assert.True(t, report.Skipped)
	assert.Equal(t, 3, report.ExistingChunks)
	assert.Equal(t, inserts, f.store.inserts)
}

func TestBuildCorpus_ForceRebuildsWithSameCount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, catsCorpus, nil)

	_, err := f.svc.BuildCorpus(ctx, false)
	require.NoError(t, err)
	report, err := f.svc.BuildCorpus(ctx, true)
	require.NoError(t, err)

	assert.False(t, report.Skipped)
	assert.Equal(t, 1, f.store.clears)
	n, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestBuildCorpus_BatchesAndParallelEmbedding(t *testing.T) {
	ctx := context.Background()
	files := map[string]string{
		"long.txt": strings.Repeat("Whales are mammals of the sea. ", 30),
	}
	f := newFixture(t, files, func(c *Config) {
		c.BatchSize = 4
		c.Parallelism = 3
	})

	report, err := f.svc.BuildCorpus(ctx, false)
	require.NoError(t, err)

	wantBatches := (report.Chunks + 3) / 4
	assert.Equal(t, wantBatches, report.Batches)
	assert.Equal(t, wantBatches, f.store.inserts)
	assert.Equal(t, int32(wantBatches), f.embedder.calls.Load())
	n, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, report.Chunks, n)
}

func TestBuildCorpus_ProviderFailurePropagates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, catsCorpus, nil)
	f.embedder.err = errors.New("rate limited")

	_, err := f.svc.BuildCorpus(ctx, false)

	var pe *domain.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 0, f.store.inserts)
}

func TestBuildCorpus_EmptyDirectory(t *testing.T) {
	f := newFixture(t, nil, nil)

	report, err := f.svc.BuildCorpus(context.Background(), false)

	require.NoError(t, err)
	assert.Zero(t, report.Documents)
	assert.Zero(t, f.store.inserts)
}

func TestAnswerContext_FormatsRankedSources(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]string{
		"zoo.txt":    "Cats are mammals.",
		"rocket.txt": "Rockets reach orbit.",
	}, nil)
	_, err := f.svc.BuildCorpus(ctx, false)
	require.NoError(t, err)

	got, err := f.svc.AnswerContext(ctx, "mammals", 2)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(got, "Source 1 (from 'zoo'):\nCats are mammals.\n"), got)
	assert.Contains(t, got, "\n\nSource 2 (from 'rocket'):\nRockets reach orbit.\n")
}

func TestAnswerContext_EmptyIndexReturnsSentinel(t *testing.T) {
	f := newFixture(t, catsCorpus, nil)

	got, err := f.svc.AnswerContext(context.Background(), "mammals", 3)

	require.NoError(t, err)
	assert.Equal(t, NoContext, got)
}

func TestSearch_InvalidArguments(t *testing.T) {
	f := newFixture(t, catsCorpus, nil)

	_, err := f.svc.Search(context.Background(), "  ", 1)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = f.svc.Search(context.Background(), "cats", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSearch_RepeatedQueryUsesCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, catsCorpus, nil)
	_, err := f.svc.BuildCorpus(ctx, false)
	require.NoError(t, err)
	before := f.embedder.calls.Load()

	for i := 0; i < 3; i++ {
		_, err := f.svc.Search(ctx, "dogs", 1)
		require.NoError(t, err)
	}

	assert.Equal(t, before+1, f.embedder.calls.Load())
}

func TestSearch_ProviderFailurePropagates(t *testing.T) {
	f := newFixture(t, catsCorpus, nil)
	f.embedder.err = errors.New("offline")

	_, err := f.svc.AnswerContext(context.Background(), "cats", 1)

	var pe *domain.ProviderError
	assert.ErrorAs(t, err, &pe)
}

func TestChat(t *testing.T) {
	ctx := context.Background()

	t.Run("without generator", func(t *testing.T) {
		f := newFixture(t, catsCorpus, nil)
		_, err := f.svc.Chat(ctx, "cats", 1)
		assert.ErrorIs(t, err, domain.ErrGeneratorUnavailable)
	})

	t.Run("answer grounded on context", func(t *testing.T) {
		var seen string
		f := newFixture(t, catsCorpus, func(c *Config) {
			c.Generator = generatorFunc(func(_ context.Context, query, context string) (string, error) {
				seen = context
				return "Yes, cats are mammals.", nil
			})
		})
		_, err := f.svc.BuildCorpus(ctx, false)
		require.NoError(t, err)

		resp, err := f.svc.Chat(ctx, "Are cats mammals?", 2)
		require.NoError(t, err)

		assert.Equal(t, "Are cats mammals?", resp.Query)
		assert.Equal(t, "Yes, cats are mammals.", resp.Answer)
		assert.Equal(t, 2, resp.ContextChunks)
		assert.Equal(t, seen, resp.Context)
		require.Len(t, resp.Sources, 2)
		assert.Equal(t, FormatContext(resp.Sources), resp.Context)
	})

	t.Run("generator failure is typed", func(t *testing.T) {
		f := newFixture(t, catsCorpus, func(c *Config) {
			c.Generator = generatorFunc(func(context.Context, string, string) (string, error) {
				return "", errors.New("quota exceeded")
			})
		})
		resp, err := f.svc.Chat(ctx, "cats", 1)

		var ge *domain.GenerationError
		require.ErrorAs(t, err, &ge)
		assert.Empty(t, resp.Answer)
		assert.Equal(t, NoContext, resp.Context)
	})
}

func TestCorpusSummary(t *testing.T) {
	f := newFixture(t, map[string]string{
		"one.txt": "alpha beta gamma",
		"two.txt": "delta",
	}, nil)

	summary, err := f.svc.CorpusSummary()
	require.NoError(t, err)

	assert.Equal(t, 2, summary.TotalDocuments)
	assert.Equal(t, 4, summary.TotalWords)
	assert.InDelta(t, 2.0, summary.AverageWords, 1e-9)
	assert.ElementsMatch(t, []string{"one", "two"}, summary.Titles)
}

func TestCorpusSummary_EmptyCorpus(t *testing.T) {
	f := newFixture(t, nil, nil)

	_, err := f.svc.CorpusSummary()

	var empty *domain.EmptyCorpusError
	require.ErrorAs(t, err, &empty)
	assert.ErrorIs(t, err, domain.ErrEmptyCorpus)
	assert.Equal(t, f.root, empty.Root)
}

func TestIndexInfo(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, catsCorpus, nil)
	_, err := f.svc.BuildCorpus(ctx, false)
	require.NoError(t, err)

	info, err := f.svc.IndexInfo(ctx)
	require.NoError(t, err)

	assert.Equal(t, "memory", info.Backend)
	assert.Equal(t, 3, info.Count)
	assert.Equal(t, 128, info.Dimensions)
	assert.Equal(t, domain.RankSimilarity, info.Ranking)
}

func TestNewRAGService_RequiresCollaborators(t *testing.T) {
	_, err := NewRAGService(Config{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
