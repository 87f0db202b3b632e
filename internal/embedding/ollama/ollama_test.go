package ollama

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

func TestEmbedder_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "nomic-embed-text", body["model"])
		assert.Len(t, body["input"], 2)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"nomic-embed-text","embeddings":[[0.1,0.2],[0.3,0.4]]}`))
	}))
	defer srv.Close()

	e, err := NewEmbedder(Config{BaseURL: srv.URL, Model: "nomic-embed-text"})
	require.NoError(t, err)

	vecs, err := e.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)

	assert.Equal(t, [][]float32{{0.1, 0.2}, {0.3, 0.4}}, vecs)
	assert.Equal(t, 2, e.Dimensions())
	assert.Equal(t, "ollama:nomic-embed-text", e.Name())
}

func TestEmbedder_ServerErrorIsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model not found"}`))
	}))
	defer srv.Close()

	e, err := NewEmbedder(Config{BaseURL: srv.URL, Model: "missing"})
	require.NoError(t, err)

	_, err = e.EmbedQuery(context.Background(), "hello")

	var pe *domain.ProviderError
	assert.ErrorAs(t, err, &pe)
}

func TestNewEmbedder_Validation(t *testing.T) {
	_, err := NewEmbedder(Config{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = NewEmbedder(Config{Model: "m", BaseURL: "://bad"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
