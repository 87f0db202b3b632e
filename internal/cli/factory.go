package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"transcriptrag/internal/chunker"
	"transcriptrag/internal/config"
	"transcriptrag/internal/domain"
	"transcriptrag/internal/embedding"
	"transcriptrag/internal/embedding/hashing"
	"transcriptrag/internal/embedding/ollama"
	"transcriptrag/internal/embedding/openai"
	genopenai "transcriptrag/internal/generator/openai"
	"transcriptrag/internal/loader"
	"transcriptrag/internal/service"
	"transcriptrag/internal/summarizer"
	"transcriptrag/internal/vectorstore"
	"transcriptrag/internal/vectorstore/memory"
	"transcriptrag/internal/vectorstore/qdrant"
	"transcriptrag/internal/vectorstore/sqlite"
)

// App bundles the assembled core with the pieces the commands use directly.
type App struct {
	Config     *config.AppConfig
	Service    *service.RAGServiceImpl
	Summarizer *summarizer.FrequencySummarizer
	Log        logrus.FieldLogger

	store vectorstore.Storage
}

// Close releases the vector store and its directory lock.
func (a *App) Close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

// NewApp assembles components from cfg.
func NewApp(ctx context.Context, cfg *config.AppConfig, log logrus.FieldLogger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if cfg.Summarizer.Type != "" && cfg.Summarizer.Type != "frequency" {
		return nil, fmt.Errorf("%w: unknown summarizer %q", domain.ErrInvalidInput, cfg.Summarizer.Type)
	}

	ch, err := chunker.NewSlidingChunker(cfg.Chunker.Size, cfg.Chunker.Overlap)
	if err != nil {
		return nil, err
	}
	emb, err := newEmbedder(cfg.Embedder)
	if err != nil {
		return nil, err
	}
	gen, err := newGenerator(cfg.Generator, log)
	if err != nil {
		return nil, err
	}
	store, err := newStore(ctx, cfg.VectorStore, log)
	if err != nil {
		return nil, err
	}

	svc, err := service.NewRAGService(service.Config{
		Loader:         loader.New(cfg.Corpus.Root, cfg.Corpus.Extension, log),
		Chunker:        ch,
		Embedder:       emb,
		Store:          store,
		Generator:      gen,
		BatchSize:      cfg.Retrieval.BatchSize,
		Parallelism:    cfg.Retrieval.Parallelism,
		QueryCacheSize: cfg.Embedder.CacheSize,
		Log:            log,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"embedder": emb.Name(),
		"store":    cfg.VectorStore.Type,
		"root":     cfg.Corpus.Root,
	}).Debug("components assembled")

	return &App{
		Config:     cfg,
		Service:    svc,
		Summarizer: summarizer.NewFrequencySummarizer(),
		Log:        log,
		store:      store,
	}, nil
}

func newEmbedder(cfg config.EmbedderConfig) (embedding.Embedder, error) {
	var emb embedding.Embedder
	switch cfg.Type {
	case "hashing", "":
		return hashing.NewEmbedder(cfg.Dimensions), nil
	case "openai":
		client, err := openai.NewClient(openai.Config{
			BaseURL:    cfg.OpenAI.BaseURL,
			APIKeyEnv:  cfg.OpenAI.APIKeyEnv,
			Model:      cfg.OpenAI.Model,
			Dimensions: cfg.OpenAI.Dimensions,
			Timeout:    seconds(cfg.OpenAI.TimeoutSecs),
		})
		if err != nil {
			return nil, err
		}
		emb = client
	case "ollama":
		client, err := ollama.NewEmbedder(ollama.Config{
			BaseURL: cfg.Ollama.BaseURL,
			Model:   cfg.Ollama.Model,
			Timeout: seconds(cfg.Ollama.TimeoutSecs),
		})
		if err != nil {
			return nil, err
		}
		emb = client
	default:
		return nil, fmt.Errorf("%w: unknown embedder %q", domain.ErrInvalidInput, cfg.Type)
	}
	if cfg.RequestsPerSecond > 0 {
		emb = embedding.NewRateLimited(emb, cfg.RequestsPerSecond, cfg.Burst)
	}
	return emb, nil
}

// newGenerator returns nil when no generator is configured or its key is
// missing; Chat then reports ErrGeneratorUnavailable.
func newGenerator(cfg config.GeneratorConfig, log logrus.FieldLogger) (domain.Generator, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "openai":
		gen, err := genopenai.New(genopenai.Config{
			BaseURL:     cfg.OpenAI.BaseURL,
			APIKeyEnv:   cfg.OpenAI.APIKeyEnv,
			Model:       cfg.OpenAI.Model,
			MaxTokens:   cfg.OpenAI.MaxTokens,
			Temperature: cfg.OpenAI.Temperature,
			Timeout:     seconds(cfg.OpenAI.TimeoutSecs),
		})
		if errors.Is(err, domain.ErrGeneratorUnavailable) {
			log.WithError(err).Warn("generator disabled")
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return gen, nil
	default:
		return nil, fmt.Errorf("%w: unknown generator %q", domain.ErrInvalidInput, cfg.Type)
	}
}

func newStore(ctx context.Context, cfg config.VectorStoreConfig, log logrus.FieldLogger) (vectorstore.Storage, error) {
	switch cfg.Type {
	case "memory", "":
		return memory.Open(memory.Options{Dir: cfg.Dir, Log: log})
	case "sqlite":
		return sqlite.Open(ctx, sqlite.Options{
			Dir:        cfg.Dir,
			M:          cfg.HNSW.M,
			EfSearch:   cfg.HNSW.EfSearch,
			ExactLimit: cfg.HNSW.ExactLimit,
			Log:        log,
		})
	case "qdrant":
		return qdrant.Open(ctx, qdrant.Config{
			Addr:       cfg.Qdrant.Addr,
			Collection: cfg.Qdrant.Collection,
			Timeout:    seconds(cfg.Qdrant.TimeoutSecs),
			Log:        log,
		})
	default:
		return nil, fmt.Errorf("%w: unknown vector store %q", domain.ErrInvalidInput, cfg.Type)
	}
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
