package openai

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"transcriptrag/internal/domain"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "text-embedding-3-small"
)

// Client is an OpenAI-compatible embeddings client implementing domain.Embedder.
type Client struct {
	api   *goopenai.Client
	model string

	mu        sync.RWMutex
	dimension int
}

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	BaseURL   string
	APIKey    string
	APIKeyEnv string
	Model     string
	// Dimensions requests shortened vectors from models that support it.
	Dimensions int
	Timeout    time.Duration
}

// NewClient creates a new embeddings client using the provided configuration.
func NewClient(cfg Config) (*Client, error) {
	key := cfg.APIKey
	if key == "" && cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
	}
	if key == "" {
		return nil, fmt.Errorf("%w: missing API key in env %s", domain.ErrInvalidInput, cfg.APIKeyEnv)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	apiCfg := goopenai.DefaultConfig(key)
	apiCfg.BaseURL = cfg.BaseURL
	apiCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	return &Client{
		api:       goopenai.NewClientWithConfig(apiCfg),
		model:     cfg.Model,
		dimension: cfg.Dimensions,
	}, nil
}

// Name returns the identifier of this embedder implementation.
func (c *Client) Name() string { return "openai:" + c.model }

// Dimensions returns the vector length, or 0 before the first response when
// no dimension was configured.
func (c *Client) Dimensions() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dimension
}

// Embed sends all texts in one request and returns vectors in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	req := goopenai.EmbeddingRequest{
		Input: texts,
		Model: goopenai.EmbeddingModel(c.model),
	}
	if d := c.Dimensions(); d > 0 {
		req.Dimensions = d
	}
	resp, err := c.api.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, domain.NewProviderError(c.Name(), err)
	}
	if len(resp.Data) != len(texts) {
		return nil, domain.NewProviderError(c.Name(),
			fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data)))
	}
	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	out := make([][]float32, len(data))
	for i, d := range data {
		if len(d.Embedding) == 0 {
			return nil, domain.NewProviderError(c.Name(), fmt.Errorf("empty embedding at index %d", i))
		}
		out[i] = d.Embedding
	}
	c.mu.Lock()
	if c.dimension == 0 {
		c.dimension = len(out[0])
	}
	c.mu.Unlock()
	return out, nil
}

// EmbedQuery embeds a single text.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}
