// Package openai answers questions from retrieved context with an
// OpenAI-compatible chat completion endpoint.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"transcriptrag/internal/domain"
)

const (
	defaultBaseURL     = "https://api.openai.com/v1"
	defaultModel       = "gpt-4o-mini"
	defaultMaxTokens   = 1000
	defaultTemperature = 0.7
)

// DefaultSystemPrompt frames the model as a transcript assistant.
const DefaultSystemPrompt = `You are a helpful assistant that answers questions using transcripts of talks and interviews.
When answering:
1. Use specific examples and quotes from the transcripts when relevant.
2. Cite the source transcript title when referencing specific content.
3. If the context does not answer the question, say so instead of guessing.`

// Config configures the generator.
type Config struct {
	BaseURL      string
	APIKey       string
	APIKeyEnv    string
	Model        string
	SystemPrompt string
	MaxTokens    int
	Temperature  float32
	Timeout      time.Duration
}

// Generator implements domain.Generator.
type Generator struct {
	client *goopenai.Client
	cfg    Config
}

// New creates a generator. A missing key is an error so that callers can
// run without Chat rather than fail on the first question.
func New(cfg Config) (*Generator, error) {
	key := cfg.APIKey
	if key == "" && cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
	}
	if key == "" {
		return nil, fmt.Errorf("%w: missing API key in env %s", domain.ErrGeneratorUnavailable, cfg.APIKeyEnv)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	apiCfg := goopenai.DefaultConfig(key)
	apiCfg.BaseURL = cfg.BaseURL
	apiCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	return &Generator{client: goopenai.NewClientWithConfig(apiCfg), cfg: cfg}, nil
}

// Generate asks the model to answer query from retrieved context.
func (g *Generator) Generate(ctx context.Context, query, retrieved string) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: g.cfg.Model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: g.cfg.SystemPrompt},
			{Role: goopenai.ChatMessageRoleUser, Content: UserPrompt(query, retrieved)},
		},
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
	})
	if err != nil {
		return "", &domain.GenerationError{Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &domain.GenerationError{Err: errors.New("no choices returned")}
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// UserPrompt embeds the retrieved context ahead of the question.
func UserPrompt(query, retrieved string) string {
	return fmt.Sprintf("Context from transcripts:\n\n%s\n\nQuestion: %s\n\nPlease answer based on the provided context.", retrieved, query)
}
