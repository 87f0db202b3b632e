package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transcriptrag/internal/domain"
)

func TestGenerator_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "test-model", body.Model)
		require.Len(t, body.Messages, 2)
		assert.Equal(t, "system", body.Messages[0].Role)
		assert.Equal(t, UserPrompt("Are cats mammals?", "Source 1 (from 'A'):\nCats are mammals.\n"), body.Messages[1].Content)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"  Yes.  "},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	g, err := New(Config{BaseURL: srv.URL + "/v1", APIKey: "k", Model: "test-model"})
	require.NoError(t, err)

	got, err := g.Generate(context.Background(), "Are cats mammals?", "Source 1 (from 'A'):\nCats are mammals.\n")
	require.NoError(t, err)
	assert.Equal(t, "Yes.", got)
}

func TestGenerator_FailureIsGenerationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
	}))
	defer srv.Close()

	g, err := New(Config{BaseURL: srv.URL + "/v1", APIKey: "k"})
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), "q", "ctx")

	var ge *domain.GenerationError
	assert.ErrorAs(t, err, &ge)
}

func TestNew_WithoutKeyIsUnavailable(t *testing.T) {
	t.Setenv("TRANSCRIPTRAG_TEST_CHAT_KEY", "")
	_, err := New(Config{APIKeyEnv: "TRANSCRIPTRAG_TEST_CHAT_KEY"})
	assert.ErrorIs(t, err, domain.ErrGeneratorUnavailable)
}
