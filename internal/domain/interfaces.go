package domain

import (
	"context"
	"strconv"
)

// Document represents a single transcript file loaded into the system.
type Document struct {
	Title     string
	Path      string
	Content   string
	Size      int
	Chars     int
	WordCount int
}

// Chunk is an overlapping segment of a document used for indexing.
type Chunk struct {
	Title     string
	Index     int
	Total     int
	Text      string
	WordCount int
}

// Metadata returns the index metadata describing the chunk.
func (c Chunk) Metadata() ChunkMetadata {
	return ChunkMetadata{Title: c.Title, ChunkIndex: c.Index, TotalChunks: c.Total, WordCount: c.WordCount}
}

// ChunkMetadata is stored next to every vector in an index.
type ChunkMetadata struct {
	Title       string `json:"title"`
	ChunkIndex  int    `json:"chunk_index"`
	TotalChunks int    `json:"total_chunks"`
	WordCount   int    `json:"word_count"`
}

// Key is the corpus-wide identity of a chunk. The text after the last
// underscore is always the decimal index, so distinct (title, index) pairs
// never share a key.
func (m ChunkMetadata) Key() string {
	return m.Title + "_" + strconv.Itoa(m.ChunkIndex)
}

// IndexEntry is a single embedded chunk handed to a VectorStore.
type IndexEntry struct {
	Vector   []float32
	Content  string
	Metadata ChunkMetadata
}

// Ranking tells callers how to read SearchResult.Score.
type Ranking string

const (
	// RankSimilarity scores are cosine similarities: higher is closer.
	RankSimilarity Ranking = "similarity"
	// RankDistance scores are distances: lower is closer.
	RankDistance Ranking = "distance"
)

// SearchResult represents a matching chunk with its ranking score.
type SearchResult struct {
	Content  string
	Metadata ChunkMetadata
	Score    float64
	Ranking  Ranking
}

// CorpusSummary holds statistics derived from a set of loaded documents.
type CorpusSummary struct {
	TotalDocuments int
	TotalWords     int
	TotalSize      int
	AverageWords   float64
	Titles         []string
}

// IndexInfo describes the state of a vector store.
type IndexInfo struct {
	Backend    string
	Count      int
	Dimensions int
	Location   string
	Ranking    Ranking
}

// Embedder converts free text into fixed-length vectors.
type Embedder interface {
	Name() string
	// Dimensions may be 0 until the first vector has been produced.
	Dimensions() int
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Chunker splits documents into chunks suitable for retrieval indexing.
type Chunker interface {
	Chunk(document Document) ([]Chunk, error)
}

// VectorStore persists embedded chunks and answers nearest-neighbour queries.
type VectorStore interface {
	// Insert stores one batch. Either every entry is accepted or none is.
	Insert(ctx context.Context, entries []IndexEntry) error
	Search(ctx context.Context, vector []float32, topK int) ([]SearchResult, error)
	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
	Info(ctx context.Context) (IndexInfo, error)
	Close() error
}

// Generator produces an answer to a question from retrieved context.
type Generator interface {
	Generate(ctx context.Context, query, context string) (string, error)
}

// RAGService defines the operations exposed by the application core.
type RAGService interface {
	BuildCorpus(ctx context.Context, forceRebuild bool) (BuildReport, error)
	Search(ctx context.Context, query string, topK int) ([]SearchResult, error)
	AnswerContext(ctx context.Context, query string, topK int) (string, error)
	Chat(ctx context.Context, query string, topK int) (ChatResponse, error)
	CorpusSummary() (CorpusSummary, error)
	IndexInfo(ctx context.Context) (IndexInfo, error)
}

// BuildReport summarises one BuildCorpus call.
type BuildReport struct {
	Skipped        bool
	Documents      int
	Chunks         int
	Batches        int
	ExistingChunks int
}

// ChatResponse bundles an answer with the context it was grounded on.
type ChatResponse struct {
	Query         string
	Answer        string
	Context       string
	ContextChunks int
	// Sources are the retrieved chunks Context was built from, in rank order.
	Sources []SearchResult
}
