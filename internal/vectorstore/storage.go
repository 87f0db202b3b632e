// Package vectorstore holds the helpers shared by the similarity index
// backends: cosine scoring, dimension checks, stable ranking and the
// directory lock that gives one store instance ownership of its files.
package vectorstore

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/gofrs/flock"

	"transcriptrag/internal/domain"
)

// Storage persists vectors and supports similarity search.
type Storage = domain.VectorStore

// LockFileName is created inside every store directory.
const LockFileName = ".index.lock"

// CosineSimilarity returns a·b / (|a||b|), or 0 when either vector has zero norm.
func CosineSimilarity(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// IsZero reports whether every component of v is zero.
func IsZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// CheckQuery validates k and the query dimension against the store dimension.
// A store dimension of 0 means the store is empty and accepts any query.
func CheckQuery(dimension int, vector []float32, k int) error {
	if k < 1 {
		return fmt.Errorf("%w: k must be at least 1, got %d", domain.ErrInvalidInput, k)
	}
	if dimension > 0 && len(vector) != dimension {
		return domain.DimensionMismatchError{Expected: dimension, Got: len(vector)}
	}
	return nil
}

// CheckBatch validates a batch before any entry is applied. It returns the
// dimension the store has after the batch: the existing one, or the batch's
// when the store was empty.
func CheckBatch(dimension int, entries []domain.IndexEntry) (int, error) {
	for i, e := range entries {
		if len(e.Vector) == 0 {
			return 0, &domain.InsertError{Reason: fmt.Sprintf("entry %d has an empty vector", i), Err: domain.ErrInvalidInput}
		}
		if dimension == 0 {
			dimension = len(e.Vector)
			continue
		}
		if len(e.Vector) != dimension {
			return 0, &domain.InsertError{
				Reason: fmt.Sprintf("entry %q", e.Metadata.Key()),
				Err:    domain.DimensionMismatchError{Expected: dimension, Got: len(e.Vector)},
			}
		}
	}
	return dimension, nil
}

// Rank orders results best first according to ranking and keeps at most k.
// The sort is stable, so equal scores keep the order they were given in.
func Rank(results []domain.SearchResult, ranking domain.Ranking, k int) []domain.SearchResult {
	sort.SliceStable(results, func(i, j int) bool {
		if ranking == domain.RankDistance {
			return results[i].Score < results[j].Score
		}
		return results[i].Score > results[j].Score
	})
	if k < len(results) {
		results = results[:k]
	}
	return results
}

// DirLock claims exclusive ownership of a store directory across processes.
type DirLock struct {
	flock *flock.Flock
}

// LockDir creates dir if needed and takes its lock without blocking. A lock
// held elsewhere yields an IndexUnavailableError.
func LockDir(backend, dir string) (*DirLock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &domain.IndexUnavailableError{Backend: backend, Location: dir, Err: err}
	}
	fl := flock.New(filepath.Join(dir, LockFileName))
	acquired, err := fl.TryLock()
	if err != nil {
		return nil, &domain.IndexUnavailableError{Backend: backend, Location: dir, Err: fmt.Errorf("acquire lock: %w", err)}
	}
	if !acquired {
		return nil, &domain.IndexUnavailableError{Backend: backend, Location: dir, Err: fmt.Errorf("directory is in use by another process")}
	}
	return &DirLock{flock: fl}, nil
}

// Unlock releases the lock. Safe to call more than once and on nil.
func (l *DirLock) Unlock() error {
	if l == nil || !l.flock.Locked() {
		return nil
	}
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
