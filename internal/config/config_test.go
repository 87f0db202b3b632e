package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, defaultConfig(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
corpus:
  root: /data/etl
chunker:
  size: 500
  overlap: 50
embedder:
  type: openai
vector_store:
  type: sqlite
retrieval:
  top_k: 8
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/etl", cfg.Corpus.Root)
	assert.Equal(t, ".txt", cfg.Corpus.Extension)
	assert.Equal(t, ChunkerConfig{Size: 500, Overlap: 50}, cfg.Chunker)
	assert.Equal(t, "sqlite", cfg.VectorStore.Type)
	assert.Equal(t, 16, cfg.VectorStore.HNSW.M)
	assert.Equal(t, 50000, cfg.VectorStore.HNSW.ExactLimit)
	assert.Equal(t, 8, cfg.Retrieval.TopK)
	assert.Equal(t, 100, cfg.Retrieval.BatchSize)
	assert.Equal(t, "OPENAI_API_KEY", cfg.Embedder.OpenAI.APIKeyEnv)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedder.OpenAI.Model)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("TRANSCRIPTRAG_CHUNKER_SIZE", "300")
	t.Setenv("TRANSCRIPTRAG_VECTOR_STORE_TYPE", "sqlite")
	t.Setenv("TRANSCRIPTRAG_EMBEDDER_OLLAMA_MODEL", "mxbai-embed-large")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 300, cfg.Chunker.Size)
	assert.Equal(t, "sqlite", cfg.VectorStore.Type)
	assert.Equal(t, "mxbai-embed-large", cfg.Embedder.Ollama.Model)
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	want := defaultConfig()
	want.Corpus.Root = "/srv/transcripts"
	want.Generator.Type = "openai"
	want.Generator.OpenAI.Model = "gpt-4o"

	require.NoError(t, Save(path, want))
	got, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/transcripts", got.Corpus.Root)
	assert.Equal(t, "openai", got.Generator.Type)
	assert.Equal(t, "gpt-4o", got.Generator.OpenAI.Model)
	assert.Equal(t, "OPENAI_API_KEY", got.Generator.OpenAI.APIKeyEnv)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
	}{
		{"no root", func(c *AppConfig) { c.Corpus.Root = "" }},
		{"zero size", func(c *AppConfig) { c.Chunker.Size = 0 }},
		{"overlap too large", func(c *AppConfig) { c.Chunker.Overlap = c.Chunker.Size }},
		{"negative overlap", func(c *AppConfig) { c.Chunker.Overlap = -1 }},
		{"zero top k", func(c *AppConfig) { c.Retrieval.TopK = 0 }},
		{"unknown embedder", func(c *AppConfig) { c.Embedder.Type = "tfidf" }},
		{"unknown store", func(c *AppConfig) { c.VectorStore.Type = "chroma" }},
		{"qdrant without addr", func(c *AppConfig) { c.VectorStore.Type = "qdrant" }},
		{"unknown generator", func(c *AppConfig) { c.Generator.Type = "claude" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
