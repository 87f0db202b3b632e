package embedding

import (
	"math"

	"transcriptrag/internal/domain"
)

// Embedder converts free text into a numeric vector representation.
type Embedder = domain.Embedder

// Batch is a half-open range [Start, End) over a slice of inputs.
type Batch struct {
	Start int
	End   int
}

// Batches splits n items into consecutive ranges of at most size items.
func Batches(n, size int) []Batch {
	if size <= 0 {
		size = n
	}
	var out []Batch
	for start := 0; start < n; start += size {
		out = append(out, Batch{Start: start, End: min(start+size, n)})
	}
	return out
}

// Normalize scales v to unit length in place. Zero vectors are left unchanged.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
}
