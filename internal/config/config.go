package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. TRANSCRIPTRAG_CHUNKER_SIZE.
const EnvPrefix = "TRANSCRIPTRAG"

// CorpusConfig locates the transcripts.
type CorpusConfig struct {
	Root      string `yaml:"root" mapstructure:"root"`
	Extension string `yaml:"extension" mapstructure:"extension"`
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	Size    int `yaml:"size" mapstructure:"size"`
	Overlap int `yaml:"overlap" mapstructure:"overlap"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	APIKeyEnv string `yaml:"api_key_env" mapstructure:"api_key_env"`
	Model     string `yaml:"model" mapstructure:"model"`
	// Dimensions requests shortened vectors from models that support it.
	Dimensions  int `yaml:"dimensions" mapstructure:"dimensions"`
	TimeoutSecs int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// OllamaEmbedderConfig holds configuration for the Ollama embedder.
type OllamaEmbedderConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	Model       string `yaml:"model" mapstructure:"model"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type string `yaml:"type" mapstructure:"type"`
	// Dimensions sizes the hashing embedder.
	Dimensions int `yaml:"dimensions" mapstructure:"dimensions"`
	CacheSize  int `yaml:"cache_size" mapstructure:"cache_size"`
	// RequestsPerSecond throttles remote providers; 0 disables throttling.
	RequestsPerSecond float64              `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int                  `yaml:"burst" mapstructure:"burst"`
	OpenAI            OpenAIEmbedderConfig `yaml:"openai" mapstructure:"openai"`
	Ollama            OllamaEmbedderConfig `yaml:"ollama" mapstructure:"ollama"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	Addr        string `yaml:"addr" mapstructure:"addr"`
	Collection  string `yaml:"collection" mapstructure:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// HNSWConfig tunes the graph of the sqlite store.
type HNSWConfig struct {
	M        int `yaml:"m" mapstructure:"m"`
	EfSearch int `yaml:"ef_search" mapstructure:"ef_search"`
	// ExactLimit is the entry count up to which searches scan every vector.
	ExactLimit int `yaml:"exact_limit" mapstructure:"exact_limit"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type string `yaml:"type" mapstructure:"type"`
	// Dir holds memory snapshots and sqlite databases. Empty keeps a
	// memory store volatile.
	Dir    string       `yaml:"dir" mapstructure:"dir"`
	HNSW   HNSWConfig   `yaml:"hnsw" mapstructure:"hnsw"`
	Qdrant QdrantConfig `yaml:"qdrant" mapstructure:"qdrant"`
}

// RetrievalConfig controls querying and indexing throughput.
type RetrievalConfig struct {
	TopK        int `yaml:"top_k" mapstructure:"top_k"`
	BatchSize   int `yaml:"batch_size" mapstructure:"batch_size"`
	Parallelism int `yaml:"parallelism" mapstructure:"parallelism"`
}

// OpenAIGeneratorConfig configures chat completions.
type OpenAIGeneratorConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	APIKeyEnv   string  `yaml:"api_key_env" mapstructure:"api_key_env"`
	Model       string  `yaml:"model" mapstructure:"model"`
	MaxTokens   int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float32 `yaml:"temperature" mapstructure:"temperature"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// GeneratorConfig selects the answer generator; "none" disables chat.
type GeneratorConfig struct {
	Type   string                `yaml:"type" mapstructure:"type"`
	OpenAI OpenAIGeneratorConfig `yaml:"openai" mapstructure:"openai"`
}

// SummarizerConfig configures search result previews.
type SummarizerConfig struct {
	Type         string `yaml:"type" mapstructure:"type"`
	MaxSentences int    `yaml:"max_sentences" mapstructure:"max_sentences"`
}

// LogConfig configures the logrus logger.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Corpus      CorpusConfig      `yaml:"corpus" mapstructure:"corpus"`
	Chunker     ChunkerConfig     `yaml:"chunker" mapstructure:"chunker"`
	Embedder    EmbedderConfig    `yaml:"embedder" mapstructure:"embedder"`
	VectorStore VectorStoreConfig `yaml:"vector_store" mapstructure:"vector_store"`
	Retrieval   RetrievalConfig   `yaml:"retrieval" mapstructure:"retrieval"`
	Generator   GeneratorConfig   `yaml:"generator" mapstructure:"generator"`
	Summarizer  SummarizerConfig  `yaml:"summarizer" mapstructure:"summarizer"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// Load reads a config from path layered over defaults and TRANSCRIPTRAG_*
// environment variables. A missing file yields defaults plus environment.
func Load(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, defaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	applyConfigDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/transcript-rag/config.yaml.
// If neither exists, it writes defaults to the user path and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err != nil {
		if err := Save(userPath, defaultConfig()); err != nil {
			return nil, "", err
		}
	}
	cfg, err := Load(userPath)
	return cfg, userPath, err
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate reports the first setting the core cannot run with.
func (c *AppConfig) Validate() error {
	switch {
	case c.Corpus.Root == "":
		return errors.New("corpus.root must be set")
	case c.Chunker.Size <= 0:
		return fmt.Errorf("chunker.size must be positive, got %d", c.Chunker.Size)
	case c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.Size:
		return fmt.Errorf("chunker.overlap must be in [0, %d), got %d", c.Chunker.Size, c.Chunker.Overlap)
	case c.Retrieval.TopK < 1:
		return fmt.Errorf("retrieval.top_k must be at least 1, got %d", c.Retrieval.TopK)
	}
	switch c.Embedder.Type {
	case "hashing", "openai", "ollama":
	default:
		return fmt.Errorf("embedder.type must be 'hashing', 'openai' or 'ollama', got %q", c.Embedder.Type)
	}
	switch c.VectorStore.Type {
	case "memory", "sqlite":
	case "qdrant":
		if c.VectorStore.Qdrant.Addr == "" || c.VectorStore.Qdrant.Collection == "" {
			return errors.New("vector_store.qdrant.addr and collection must be set")
		}
	default:
		return fmt.Errorf("vector_store.type must be 'memory', 'sqlite' or 'qdrant', got %q", c.VectorStore.Type)
	}
	switch c.Generator.Type {
	case "none", "openai":
	default:
		return fmt.Errorf("generator.type must be 'none' or 'openai', got %q", c.Generator.Type)
	}
	return nil
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "transcript-rag", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	return &AppConfig{
		Corpus:   CorpusConfig{Root: "transcripts", Extension: ".txt"},
		Chunker:  ChunkerConfig{Size: 1000, Overlap: 200},
		Embedder: EmbedderConfig{Type: "hashing", Dimensions: 384, CacheSize: 1000},
		VectorStore: VectorStoreConfig{
			Type: "memory",
			Dir:  ".transcript-rag",
			HNSW: HNSWConfig{M: 16, EfSearch: 64, ExactLimit: 50000},
		},
		Retrieval:  RetrievalConfig{TopK: 5, BatchSize: 100, Parallelism: 1},
		Generator:  GeneratorConfig{Type: "none"},
		Summarizer: SummarizerConfig{Type: "frequency", MaxSentences: 2},
		Log:        LogConfig{Level: "info", Format: "text"},
	}
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, cfg *AppConfig) {
	v.SetDefault("corpus.root", cfg.Corpus.Root)
	v.SetDefault("corpus.extension", cfg.Corpus.Extension)
	v.SetDefault("chunker.size", cfg.Chunker.Size)
	v.SetDefault("chunker.overlap", cfg.Chunker.Overlap)
	v.SetDefault("embedder.type", cfg.Embedder.Type)
	v.SetDefault("embedder.dimensions", cfg.Embedder.Dimensions)
	v.SetDefault("embedder.cache_size", cfg.Embedder.CacheSize)
	v.SetDefault("embedder.requests_per_second", 0)
	v.SetDefault("embedder.burst", 0)
	v.SetDefault("embedder.openai.base_url", "")
	v.SetDefault("embedder.openai.api_key_env", "")
	v.SetDefault("embedder.openai.model", "")
	v.SetDefault("embedder.openai.dimensions", 0)
	v.SetDefault("embedder.openai.timeout_secs", 0)
	v.SetDefault("embedder.ollama.base_url", "")
	v.SetDefault("embedder.ollama.model", "")
	v.SetDefault("embedder.ollama.timeout_secs", 0)
	v.SetDefault("vector_store.type", cfg.VectorStore.Type)
	v.SetDefault("vector_store.dir", cfg.VectorStore.Dir)
	v.SetDefault("vector_store.hnsw.m", cfg.VectorStore.HNSW.M)
	v.SetDefault("vector_store.hnsw.ef_search", cfg.VectorStore.HNSW.EfSearch)
	v.SetDefault("vector_store.hnsw.exact_limit", cfg.VectorStore.HNSW.ExactLimit)
	v.SetDefault("vector_store.qdrant.addr", "")
	v.SetDefault("vector_store.qdrant.collection", "")
	v.SetDefault("vector_store.qdrant.timeout_secs", 0)
	v.SetDefault("retrieval.top_k", cfg.Retrieval.TopK)
	v.SetDefault("retrieval.batch_size", cfg.Retrieval.BatchSize)
	v.SetDefault("retrieval.parallelism", cfg.Retrieval.Parallelism)
	v.SetDefault("generator.type", cfg.Generator.Type)
	v.SetDefault("generator.openai.base_url", "")
	v.SetDefault("generator.openai.api_key_env", "")
	v.SetDefault("generator.openai.model", "")
	v.SetDefault("generator.openai.max_tokens", 0)
	v.SetDefault("generator.openai.temperature", 0)
	v.SetDefault("generator.openai.timeout_secs", 0)
	v.SetDefault("summarizer.type", cfg.Summarizer.Type)
	v.SetDefault("summarizer.max_sentences", cfg.Summarizer.MaxSentences)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
}

// applyConfigDefaults fills provider settings that only matter once a
// provider is selected.
func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Corpus.Extension == "" {
		cfg.Corpus.Extension = ".txt"
	}
	if cfg.Embedder.Type == "openai" {
		o := &cfg.Embedder.OpenAI
		if o.BaseURL == "" {
			o.BaseURL = "https://api.openai.com/v1"
		}
		if o.APIKeyEnv == "" {
			o.APIKeyEnv = "OPENAI_API_KEY"
		}
		if o.Model == "" {
			o.Model = "text-embedding-3-small"
		}
		if o.TimeoutSecs == 0 {
			o.TimeoutSecs = 30
		}
	}
	if cfg.Embedder.Type == "ollama" {
		o := &cfg.Embedder.Ollama
		if o.BaseURL == "" {
			o.BaseURL = "http://localhost:11434"
		}
		if o.Model == "" {
			o.Model = "nomic-embed-text"
		}
		if o.TimeoutSecs == 0 {
			o.TimeoutSecs = 120
		}
	}
	if cfg.VectorStore.Type == "qdrant" && cfg.VectorStore.Qdrant.TimeoutSecs == 0 {
		cfg.VectorStore.Qdrant.TimeoutSecs = 15
	}
	if cfg.Generator.Type == "openai" {
		g := &cfg.Generator.OpenAI
		if g.APIKeyEnv == "" {
			g.APIKeyEnv = "OPENAI_API_KEY"
		}
		if g.TimeoutSecs == 0 {
			g.TimeoutSecs = 60
		}
	}
}
