// Package sqlite is a managed local vector store. Entries live in a SQLite
// database and their vectors are loaded at open. Up to Options.ExactLimit
// entries a search is an exact scan; past it an HNSW graph proposes
// candidates that are then ranked exactly. Scores are cosine distances.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/coder/hnsw"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"transcriptrag/internal/domain"
	"transcriptrag/internal/embedding"
	"transcriptrag/internal/logger"
	"transcriptrag/internal/vectorstore"
)

const (
	backendName = "sqlite"
	// DatabaseFile is the database name inside the store directory.
	DatabaseFile = "index.db"

	defaultM        = 16
	defaultEfSearch = 64
	// DefaultExactLimit covers corpora of a few thousand transcripts.
	DefaultExactLimit = 50000
	// candidateFactor sizes the graph candidate pool relative to k.
	candidateFactor = 20
	graphSeed       = 1
	zeroDistance    = 1.0
)

const schema = `
CREATE TABLE IF NOT EXISTS entries (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	chunk_key    TEXT NOT NULL UNIQUE,
	title        TEXT NOT NULL,
	chunk_index  INTEGER NOT NULL,
	total_chunks INTEGER NOT NULL,
	word_count   INTEGER NOT NULL,
	content      TEXT NOT NULL,
	vector       BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);`

// Options configures the store. An empty Dir opens a private in-memory database.
type Options struct {
	Dir      string
	M        int
	EfSearch int
	// ExactLimit is the entry count up to which Search scans every vector.
	// 0 means DefaultExactLimit; a negative value always uses the graph.
	ExactLimit int
	Log        logrus.FieldLogger
}

// Store implements domain.VectorStore on SQLite and coder/hnsw.
type Store struct {
	mu        sync.RWMutex
	db        *sql.DB
	lock      *vectorstore.DirLock
	log       logrus.FieldLogger
	location  string
	opts      Options
	dimension int
	closed    bool

	vectors map[string][]float32 // chunk key -> unit vector
	graph   *hnsw.Graph[uint64]
	keyMap  map[uint64]string // graph key -> chunk key
	idMap   map[string]uint64 // chunk key -> graph key
	orphans int               // graph nodes whose chunk was replaced
	nextKey uint64
	zero    map[string]struct{} // zero-norm vectors, kept out of the graph
}

// Open opens or creates the database, verifies its integrity and rebuilds
// the graph from the stored vectors.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.M == 0 {
		opts.M = defaultM
	}
	if opts.EfSearch == 0 {
		opts.EfSearch = defaultEfSearch
	}
	if opts.ExactLimit == 0 {
		opts.ExactLimit = DefaultExactLimit
	}
	s := &Store{log: logger.OrDiscard(opts.Log), opts: opts}

	dsn := ":memory:"
	s.location = dsn
	if opts.Dir != "" {
		lock, err := vectorstore.LockDir(backendName, opts.Dir)
		if err != nil {
			return nil, err
		}
		s.lock = lock
		s.location = filepath.Join(opts.Dir, DatabaseFile)
		dsn = s.location
	}
	unavailable := func(err error) error {
		if s.db != nil {
			_ = s.db.Close()
		}
		_ = s.lock.Unlock()
		return &domain.IndexUnavailableError{Backend: backendName, Location: s.location, Err: err}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, unavailable(fmt.Errorf("open database: %w", err))
	}
	s.db = db
	// Single writer; also keeps one shared connection for :memory:.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return nil, unavailable(fmt.Errorf("integrity check failed: %w", err))
	}
	if result != "ok" {
		return nil, unavailable(fmt.Errorf("integrity check failed: %s", result))
	}
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return nil, unavailable(fmt.Errorf("set pragma: %w", err))
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, unavailable(fmt.Errorf("create schema: %w", err))
	}
	if err := s.rebuild(ctx); err != nil {
		return nil, unavailable(err)
	}
	s.log.WithFields(logrus.Fields{"path": s.location, "entries": len(s.idMap) + len(s.zero)}).Debug("sqlite index opened")
	return s, nil
}

func (s *Store) resetGraph() {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = s.opts.M
	graph.EfSearch = s.opts.EfSearch
	graph.Ml = 0.25
	graph.Rng = rand.New(rand.NewSource(graphSeed))
	s.graph = graph
	s.vectors = make(map[string][]float32)
	s.keyMap = make(map[uint64]string)
	s.idMap = make(map[string]uint64)
	s.zero = make(map[string]struct{})
	s.orphans = 0
	s.nextKey = 0
}

func (s *Store) rebuild(ctx context.Context) error {
	s.resetGraph()
	s.dimension = 0
	var dim string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = 'dimension'").Scan(&dim)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("read dimension: %w", err)
	default:
		if s.dimension, err = strconv.Atoi(dim); err != nil {
			return fmt.Errorf("parse dimension %q: %w", dim, err)
		}
	}

	rows, err := s.db.QueryContext(ctx, "SELECT chunk_key, vector FROM entries ORDER BY seq")
	if err != nil {
		return fmt.Errorf("scan entries: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var blob []byte
		if err := rows.Scan(&key, &blob); err != nil {
			return fmt.Errorf("scan entry: %w", err)
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return fmt.Errorf("entry %q: %w", key, err)
		}
		if len(vec) != s.dimension {
			return fmt.Errorf("entry %q: %w", key, domain.DimensionMismatchError{Expected: s.dimension, Got: len(vec)})
		}
		s.addNode(key, vec)
	}
	return rows.Err()
}

// addNode replaces by lazy deletion: the old graph node stays but loses its mapping.
func (s *Store) addNode(key string, vec []float32) {
	if old, ok := s.idMap[key]; ok {
		delete(s.keyMap, old)
		delete(s.idMap, key)
		s.orphans++
	}
	delete(s.zero, key)
	delete(s.vectors, key)
	if vectorstore.IsZero(vec) {
		s.zero[key] = struct{}{}
		return
	}
	normalized := append([]float32(nil), vec...)
	embedding.Normalize(normalized)
	k := s.nextKey
	s.nextKey++
	s.graph.Add(hnsw.MakeNode(k, normalized))
	s.keyMap[k] = key
	s.idMap[key] = k
	s.vectors[key] = normalized
}

// Insert writes one batch in a single transaction.
func (s *Store) Insert(ctx context.Context, entries []domain.IndexEntry) error {
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &domain.InsertError{Reason: "begin transaction", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	if s.dimension == 0 {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO meta (key, value) VALUES ('dimension', ?)", strconv.Itoa(dim)); err != nil {
			return &domain.InsertError{Reason: "record dimension", Err: err}
		}
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entries (chunk_key, title, chunk_index, total_chunks, word_count, content, vector)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chunk_key) DO UPDATE SET
			title = excluded.title,
			chunk_index = excluded.chunk_index,
			total_chunks = excluded.total_chunks,
			word_count = excluded.word_count,
			content = excluded.content,
			vector = excluded.vector`)
	if err != nil {
		return &domain.InsertError{Reason: "prepare insert", Err: err}
	}
	defer stmt.Close()
	for _, e := range entries {
		m := e.Metadata
		if _, err := stmt.ExecContext(ctx, m.Key(), m.Title, m.ChunkIndex, m.TotalChunks, m.WordCount,
			e.Content, encodeVector(e.Vector)); err != nil {
			return &domain.InsertError{Reason: fmt.Sprintf("insert %q", m.Key()), Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &domain.InsertError{Reason: "commit", Err: err}
	}

	s.dimension = dim
	for _, e := range entries {
		s.addNode(e.Metadata.Key(), e.Vector)
	}
	return nil
}

// Search returns up to k entries ordered by ascending cosine distance.
// Zero-norm entries have no direction and rank last at distance 1.
func (s *Store) Search(ctx context.Context, vector []float32, k int) ([]domain.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, domain.ErrStoreClosed
	}
	if err := vectorstore.CheckQuery(s.dimension, vector, k); err != nil {
		return nil, err
	}

	type hit struct {
		key      string
		distance float64
	}
	var hits []hit
	// Entries without a direction rank last, by key.
	var undirected []string
	for key := range s.zero {
		undirected = append(undirected, key)
	}
	if vectorstore.IsZero(vector) {
		for key := range s.idMap {
			undirected = append(undirected, key)
		}
	} else if len(s.vectors) > 0 {
		query := append([]float32(nil), vector...)
		embedding.Normalize(query)
		for _, key := range s.candidates(query, k) {
			hits = append(hits, hit{key: key, distance: 1 - vectorstore.CosineSimilarity(query, s.vectors[key])})
		}
		sort.Slice(hits, func(i, j int) bool {
			if hits[i].distance != hits[j].distance {
				return hits[i].distance < hits[j].distance
			}
			return hits[i].key < hits[j].key
		})
	}
	sort.Strings(undirected)
	for _, key := range undirected {
		hits = append(hits, hit{key: key, distance: zeroDistance})
	}
	if len(hits) > k {
		hits = hits[:k]
	}

	results := make([]domain.SearchResult, 0, len(hits))
	for _, h := range hits {
		r, err := s.fetch(ctx, h.key)
		if err != nil {
			return nil, err
		}
		r.Score = h.distance
		r.Ranking = domain.RankDistance
		results = append(results, r)
	}
	return results, nil
}

// candidates returns the keys to score exactly: every entry while the store
// is within ExactLimit, otherwise a graph neighbourhood several times k.
func (s *Store) candidates(query []float32, k int) []string {
	if s.opts.ExactLimit > 0 && len(s.vectors) <= s.opts.ExactLimit {
		keys := make([]string, 0, len(s.vectors))
		for key := range s.vectors {
			keys = append(keys, key)
		}
		return keys
	}
	want := min(max(k*candidateFactor, s.opts.EfSearch)+s.orphans, s.graph.Len())
	keys := make([]string, 0, want)
	for _, node := range s.graph.Search(query, want) {
		if key, ok := s.keyMap[node.Key]; ok {
			keys = append(keys, key)
		}
	}
	return keys
}

func (s *Store) fetch(ctx context.Context, key string) (domain.SearchResult, error) {
	var r domain.SearchResult
	err := s.db.QueryRowContext(ctx,
		"SELECT title, chunk_index, total_chunks, word_count, content FROM entries WHERE chunk_key = ?", key).
		Scan(&r.Metadata.Title, &r.Metadata.ChunkIndex, &r.Metadata.TotalChunks, &r.Metadata.WordCount, &r.Content)
	if err != nil {
		return r, fmt.Errorf("load entry %q: %w", key, err)
	}
	return r, nil
}

// Count returns the number of stored entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, domain.ErrStoreClosed
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries").Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

// Clear deletes every entry and the recorded dimension.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrStoreClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("clear sqlite index: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range []string{"DELETE FROM entries", "DELETE FROM meta"} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear sqlite index: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("clear sqlite index: %w", err)
	}
	s.resetGraph()
	s.dimension = 0
	return nil
}

// Info describes the store.
func (s *Store) Info(ctx context.Context) (domain.IndexInfo, error) {
	n, err := s.Count(ctx)
	if err != nil {
		return domain.IndexInfo{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.IndexInfo{
		Backend:    backendName,
		Count:      n,
		Dimensions: s.dimension,
		Location:   s.location,
		Ranking:    domain.RankDistance,
	}, nil
}

// Close closes the database and releases the directory lock.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.db.Close()
	if unlockErr := s.lock.Unlock(); err == nil {
		err = unlockErr
	}
	return err
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
