// Package ollama embeds text through a local Ollama server.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	ollama "github.com/ollama/ollama/api"

	"transcriptrag/internal/domain"
)

// DefaultBaseURL is where a stock Ollama install listens.
const DefaultBaseURL = "http://localhost:11434"

// Config configures the Ollama embedder.
type Config struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Embedder calls the Ollama /api/embed endpoint.
type Embedder struct {
	client *ollama.Client
	model  string

	mu        sync.RWMutex
	dimension int
}

// NewEmbedder creates a client for the configured server.
func NewEmbedder(cfg Config) (*Embedder, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: ollama model is required", domain.ErrInvalidInput)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	parsedURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base URL: %v", domain.ErrInvalidInput, err)
	}
	hc := &http.Client{Timeout: cfg.Timeout}
	return &Embedder{client: ollama.NewClient(parsedURL, hc), model: cfg.Model}, nil
}

// Name returns the identifier of this embedder implementation.
func (e *Embedder) Name() string { return "ollama:" + e.model }

// Dimensions returns the vector length seen on the first response.
func (e *Embedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dimension
}

// Embed uses the batch form of the endpoint.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	resp, err := e.client.Embed(ctx, &ollama.EmbedRequest{
		Model: e.model,
		Input: texts,
	})
	if err != nil {
		return nil, domain.NewProviderError(e.Name(), err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, domain.NewProviderError(e.Name(),
			fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Embeddings)))
	}
	e.mu.Lock()
	if e.dimension == 0 {
		e.dimension = len(resp.Embeddings[0])
	}
	e.mu.Unlock()
	return resp.Embeddings, nil
}

// EmbedQuery embeds a single text.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}
