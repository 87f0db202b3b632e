// Package hashing provides a deterministic local embedder. Terms are mapped
// into a fixed number of buckets with FNV hashing, so the dimension never
// depends on the corpus and vectors survive process restarts unchanged.
package hashing

import (
	"context"
	"hash/fnv"
	"math"
	"sort"

	"transcriptrag/internal/domain"
	"transcriptrag/internal/embedding"
	"transcriptrag/internal/tokenize"
)

// DefaultDimensions is the vector length used when none is configured.
const DefaultDimensions = 384

// Embedder implements a hashed term-frequency vectorizer.
type Embedder struct {
	dimension int
}

// NewEmbedder creates an embedder producing vectors of the given dimension.
func NewEmbedder(dimension int) *Embedder {
	if dimension <= 0 {
		dimension = DefaultDimensions
	}
	return &Embedder{dimension: dimension}
}

// Name returns the identifier of this embedder implementation.
func (e *Embedder) Name() string { return "hashing" }

// Dimensions returns the dimensionality of the produced embedding vectors.
func (e *Embedder) Dimensions() int { return e.dimension }

// Embed computes one vector per text.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, domain.NewProviderError(e.Name(), err)
		}
		out[i] = e.vector(t)
	}
	return out, nil
}

// EmbedQuery computes the vector of a single text.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *Embedder) vector(text string) []float32 {
	vec := make([]float32, e.dimension)
	tf := make(map[string]int)
	for _, tok := range tokenize.Terms(text) {
		tf[tok]++
	}
	terms := make([]string, 0, len(tf))
	for tok := range tf {
		terms = append(terms, tok)
	}
	// Fixed order keeps colliding buckets bit-identical across runs.
	sort.Strings(terms)
	for _, tok := range terms {
		idx, sign := e.bucket(tok)
		// Sublinear term frequency
		vec[idx] += sign * float32(1+math.Log(float64(tf[tok])))
	}
	embedding.Normalize(vec)
	return vec
}

// bucket maps a token to an index and a sign; the sign keeps colliding
// tokens from always reinforcing each other.
func (e *Embedder) bucket(tok string) (int, float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(tok))
	sum := h.Sum64()
	sign := float32(1)
	if sum>>63 == 1 {
		sign = -1
	}
	return int(sum % uint64(e.dimension)), sign
}
