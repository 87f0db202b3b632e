package hashing

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transcriptrag/internal/domain"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestEmbedder_DimensionsAndDeterminism(t *testing.T) {
	e := NewEmbedder(64)
	ctx := context.Background()

	first, err := e.Embed(ctx, []string{"Cats are mammals.", "Dogs bark."})
	require.NoError(t, err)
	second, err := NewEmbedder(64).Embed(ctx, []string{"Cats are mammals.", "Dogs bark."})
	require.NoError(t, err)

	require.Len(t, first, 2)
	assert.Len(t, first[0], 64)
	assert.Equal(t, 64, e.Dimensions())
	assert.Equal(t, first, second)
}

func TestEmbedder_DefaultDimensions(t *testing.T) {
	assert.Equal(t, DefaultDimensions, NewEmbedder(0).Dimensions())
}

func TestEmbedder_SharedTermsAreCloser(t *testing.T) {
	e := NewEmbedder(DefaultDimensions)
	ctx := context.Background()

	q, err := e.EmbedQuery(ctx, "mammals")
	require.NoError(t, err)
	vecs, err := e.Embed(ctx, []string{"Cats are mammals.", "Rockets reach orbit quickly."})
	require.NoError(t, err)

	assert.Greater(t, cosine(q, vecs[0]), cosine(q, vecs[1]))
	assert.InDelta(t, 1.0, cosine(vecs[0], vecs[0]), 1e-5)
}

func TestEmbedder_StopwordsOnlyGiveZeroVector(t *testing.T) {
	v, err := NewEmbedder(16).EmbedQuery(context.Background(), "the and of")
	require.NoError(t, err)
	for _, x := range v {
		assert.Zero(t, x)
	}
}

func TestEmbedder_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewEmbedder(16).Embed(ctx, []string{"text"})

	var pe *domain.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.ErrorIs(t, err, context.Canceled)
}
