package memory

import (
	"bufio"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"transcriptrag/internal/domain"
	"transcriptrag/internal/logger"
	"transcriptrag/internal/vectorstore"
)

const (
	backendName = "memory"
	// SnapshotFile is the snapshot name inside the store directory.
	SnapshotFile    = "index.gob"
	snapshotVersion = 1
)

// Options configures the store. An empty Dir keeps everything in memory.
type Options struct {
	Dir string
	Log logrus.FieldLogger
}

// Storage is an exact-scan vector store using brute-force cosine similarity.
type Storage struct {
	mu        sync.RWMutex
	dir       string
	lock      *vectorstore.DirLock
	log       logrus.FieldLogger
	dimension int
	entries   []domain.IndexEntry
	byKey     map[string]int
	closed    bool
}

type snapshot struct {
	Version   int
	Dimension int
	Entries   []domain.IndexEntry
}

// NewStorage creates a volatile store.
func NewStorage() *Storage {
	s, _ := Open(Options{})
	return s
}

// Open creates a store, loading the snapshot from opts.Dir when present.
func Open(opts Options) (*Storage, error) {
	s := &Storage{dir: opts.Dir, log: logger.OrDiscard(opts.Log), byKey: make(map[string]int)}
	if s.dir == "" {
		return s, nil
	}
	lock, err := vectorstore.LockDir(backendName, s.dir)
	if err != nil {
		return nil, err
	}
	s.lock = lock
	if err := s.load(); err != nil {
		_ = lock.Unlock()
		return nil, &domain.IndexUnavailableError{Backend: backendName, Location: s.dir, Err: err}
	}
	s.log.WithFields(logrus.Fields{"dir": s.dir, "entries": len(s.entries)}).Debug("memory index opened")
	return s, nil
}

// Insert adds one batch. Re-inserting a key replaces the entry in place.
func (s *Storage) Insert(ctx context.Context, entries []domain.IndexEntry) error {
	if err := ctx.Err(); err != nil {
		return &domain.InsertError{Reason: "cancelled", Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &domain.InsertError{Reason: "store closed", Err: domain.ErrStoreClosed}
	}
	if len(entries) == 0 {
		return nil
	}
	dim, err := vectorstore.CheckBatch(s.dimension, entries)
	if err != nil {
		return err
	}

	prevDim, prevEntries, prevKeys := s.dimension, s.entries, s.byKey
	next := make([]domain.IndexEntry, len(s.entries), len(s.entries)+len(entries))
	copy(next, s.entries)
	keys := make(map[string]int, len(s.byKey)+len(entries))
	for k, v := range s.byKey {
		keys[k] = v
	}
	for _, e := range entries {
		e.Vector = append([]float32(nil), e.Vector...)
		key := e.Metadata.Key()
		if i, ok := keys[key]; ok {
			next[i] = e
			continue
		}
		keys[key] = len(next)
		next = append(next, e)
	}
	s.dimension, s.entries, s.byKey = dim, next, keys

	if err := s.persist(); err != nil {
		s.dimension, s.entries, s.byKey = prevDim, prevEntries, prevKeys
		return &domain.InsertError{Reason: "write snapshot", Err: err}
	}
	return nil
}

// Search scores every entry and returns the k most similar, ties in
// insertion order.
func (s *Storage) Search(ctx context.Context, vector []float32, k int) ([]domain.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, domain.ErrStoreClosed
	}
	if err := vectorstore.CheckQuery(s.dimension, vector, k); err != nil {
		return nil, err
	}
	results := make([]domain.SearchResult, len(s.entries))
	for i, e := range s.entries {
		results[i] = domain.SearchResult{
			Content:  e.Content,
			Metadata: e.Metadata,
			Score:    vectorstore.CosineSimilarity(vector, e.Vector),
			Ranking:  domain.RankSimilarity,
		}
	}
	return vectorstore.Rank(results, domain.RankSimilarity, k), nil
}

// Count returns the number of entries.
func (s *Storage) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, domain.ErrStoreClosed
	}
	return len(s.entries), nil
}

// Clear removes every entry and forgets the dimension.
func (s *Storage) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrStoreClosed
	}
	prevDim, prevEntries, prevKeys := s.dimension, s.entries, s.byKey
	s.dimension, s.entries, s.byKey = 0, nil, make(map[string]int)
	if err := s.persist(); err != nil {
		s.dimension, s.entries, s.byKey = prevDim, prevEntries, prevKeys
		return fmt.Errorf("clear memory index: %w", err)
	}
	return nil
}

// Info describes the store.
func (s *Storage) Info(context.Context) (domain.IndexInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return domain.IndexInfo{}, domain.ErrStoreClosed
	}
	location := "in-memory"
	if s.dir != "" {
		location = filepath.Join(s.dir, SnapshotFile)
	}
	return domain.IndexInfo{
		Backend:    backendName,
		Count:      len(s.entries),
		Dimensions: s.dimension,
		Location:   location,
		Ranking:    domain.RankSimilarity,
	}, nil
}

// Close releases the directory lock. Further calls return ErrStoreClosed.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.lock.Unlock()
}

func (s *Storage) persist() error {
	if s.dir == "" {
		return nil
	}
	path := filepath.Join(s.dir, SnapshotFile)
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	w := bufio.NewWriter(file)
	snap := snapshot{Version: snapshotVersion, Dimension: s.dimension, Entries: s.entries}
	if err := gob.NewEncoder(w).Encode(snap); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := w.Flush(); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("flush snapshot: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

func (s *Storage) load() error {
	file, err := os.Open(filepath.Join(s.dir, SnapshotFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer file.Close()

	var snap snapshot
	if err := gob.NewDecoder(bufio.NewReader(file)).Decode(&snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	for i, e := range snap.Entries {
		if len(e.Vector) != snap.Dimension {
			return fmt.Errorf("snapshot entry %d: %w", i, domain.DimensionMismatchError{Expected: snap.Dimension, Got: len(e.Vector)})
		}
		s.byKey[e.Metadata.Key()] = i
	}
	s.dimension = snap.Dimension
	s.entries = snap.Entries
	return nil
}
