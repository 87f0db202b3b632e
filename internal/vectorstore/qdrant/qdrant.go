package qdrant

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"transcriptrag/internal/domain"
	"transcriptrag/internal/logger"
	"transcriptrag/internal/vectorstore"
)

const backendName = "qdrant"

// Payload field names.
const (
	fieldContent     = "content"
	fieldTitle       = "title"
	fieldChunkIndex  = "chunk_index"
	fieldTotalChunks = "total_chunks"
	fieldWordCount   = "word_count"
)

// Config configures the Qdrant gRPC client.
type Config struct {
	Addr       string
	Collection string
	Timeout    time.Duration
	Log        logrus.FieldLogger
}

// Storage keeps entries in one Qdrant collection, created lazily with the
// dimension of the first batch and dropped by Clear.
type Storage struct {
	mu          sync.RWMutex
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
	addr        string
	timeout     time.Duration
	log         logrus.FieldLogger
	dimension   int
	closed      bool
}

// Open connects and probes the collection; an unreachable server is an
// IndexUnavailableError.
func Open(ctx context.Context, cfg Config) (*Storage, error) {
	if cfg.Collection == "" {
		return nil, fmt.Errorf("%w: qdrant collection is required", domain.ErrInvalidInput)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	location := cfg.Addr + "/" + cfg.Collection
	conn, err := grpc.NewClient(cfg.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, &domain.IndexUnavailableError{Backend: backendName, Location: location, Err: err}
	}
	s := &Storage{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  cfg.Collection,
		addr:        cfg.Addr,
		timeout:     cfg.Timeout,
		log:         logger.OrDiscard(cfg.Log),
	}
	dim, err := s.probe(ctx)
	if err != nil {
		_ = conn.Close()
		return nil, &domain.IndexUnavailableError{Backend: backendName, Location: location, Err: err}
	}
	s.dimension = dim
	s.log.WithFields(logrus.Fields{"addr": cfg.Addr, "collection": cfg.Collection, "dimension": dim}).Debug("qdrant index opened")
	return s, nil
}

// probe returns the collection's vector size, or 0 when it does not exist.
func (s *Storage) probe(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	exists, err := s.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{CollectionName: s.collection})
	if err != nil {
		return 0, fmt.Errorf("check collection: %w", err)
	}
	if !exists.GetResult().GetExists() {
		return 0, nil
	}
	info, err := s.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: s.collection})
	if err != nil {
		return 0, fmt.Errorf("get collection: %w", err)
	}
	params := info.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams()
	if params == nil {
		return 0, fmt.Errorf("collection %s has no single unnamed vector", s.collection)
	}
	return int(params.GetSize()), nil
}

// Insert upserts one batch, creating the collection first when needed.
func (s *Storage) Insert(ctx context.Context, entries []domain.IndexEntry) error {
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
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if s.dimension == 0 {
		_, err := s.collections.Create(ctx, &pb.CreateCollection{
			CollectionName: s.collection,
			VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{Size: uint64(dim), Distance: pb.Distance_Cosine},
			}},
		})
		if err != nil {
			return &domain.InsertError{Reason: "create collection", Err: err}
		}
	}

	points := make([]*pb.PointStruct, len(entries))
	for i, e := range entries {
		points[i] = &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(e.Metadata.Key())}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: e.Vector}}},
			Payload: toPayload(e),
		}
	}
	if _, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Wait:           ptr(true),
		Points:         points,
	}); err != nil {
		if s.dimension == 0 {
			s.dropCollection(ctx)
		}
		return &domain.InsertError{Reason: "upsert points", Err: err}
	}
	s.dimension = dim
	return nil
}

// Search returns up to k entries ordered by ascending cosine distance.
func (s *Storage) Search(ctx context.Context, vector []float32, k int) ([]domain.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, domain.ErrStoreClosed
	}
	if err := vectorstore.CheckQuery(s.dimension, vector, k); err != nil {
		return nil, err
	}
	if s.dimension == 0 {
		return []domain.SearchResult{}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         vector,
		Limit:          uint64(k),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}
	results := make([]domain.SearchResult, 0, len(resp.GetResult()))
	for _, pt := range resp.GetResult() {
		r := fromPayload(pt.GetPayload())
		r.Score = 1 - float64(pt.GetScore())
		r.Ranking = domain.RankDistance
		results = append(results, r)
	}
	return vectorstore.Rank(results, domain.RankDistance, k), nil
}

// Count returns the exact number of points in the collection.
func (s *Storage) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count(ctx)
}

func (s *Storage) count(ctx context.Context) (int, error) {
	if s.closed {
		return 0, domain.ErrStoreClosed
	}
	if s.dimension == 0 {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	resp, err := s.points.Count(ctx, &pb.CountPoints{CollectionName: s.collection, Exact: ptr(true)})
	if err != nil {
		return 0, fmt.Errorf("qdrant count: %w", err)
	}
	return int(resp.GetResult().GetCount()), nil
}

// Clear drops the collection; the next insert recreates it.
func (s *Storage) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrStoreClosed
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	exists, err := s.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{CollectionName: s.collection})
	if err != nil {
		return fmt.Errorf("qdrant clear: %w", err)
	}
	if exists.GetResult().GetExists() {
		if _, err := s.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: s.collection}); err != nil {
			return fmt.Errorf("qdrant clear: %w", err)
		}
	}
	s.dimension = 0
	return nil
}

func (s *Storage) dropCollection(ctx context.Context) {
	if _, err := s.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: s.collection}); err != nil {
		s.log.WithError(err).Warn("failed to drop collection after rejected batch")
	}
}

// Info describes the store.
func (s *Storage) Info(ctx context.Context) (domain.IndexInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, err := s.count(ctx)
	if err != nil {
		return domain.IndexInfo{}, err
	}
	return domain.IndexInfo{
		Backend:    backendName,
		Count:      n,
		Dimensions: s.dimension,
		Location:   s.addr + "/" + s.collection,
		Ranking:    domain.RankDistance,
	}, nil
}

// Close closes the gRPC connection.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

// PointID maps a chunk key to a stable UUID, so re-inserting a chunk
// overwrites its point.
func PointID(key string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("transcriptrag:"+key)).String()
}

func toPayload(e domain.IndexEntry) map[string]*pb.Value {
	m := e.Metadata
	return map[string]*pb.Value{
		fieldContent:     {Kind: &pb.Value_StringValue{StringValue: e.Content}},
		fieldTitle:       {Kind: &pb.Value_StringValue{StringValue: m.Title}},
		fieldChunkIndex:  {Kind: &pb.Value_IntegerValue{IntegerValue: int64(m.ChunkIndex)}},
		fieldTotalChunks: {Kind: &pb.Value_IntegerValue{IntegerValue: int64(m.TotalChunks)}},
		fieldWordCount:   {Kind: &pb.Value_IntegerValue{IntegerValue: int64(m.WordCount)}},
	}
}

func fromPayload(p map[string]*pb.Value) domain.SearchResult {
	return domain.SearchResult{
		Content: p[fieldContent].GetStringValue(),
		Metadata: domain.ChunkMetadata{
			Title:       p[fieldTitle].GetStringValue(),
			ChunkIndex:  int(p[fieldChunkIndex].GetIntegerValue()),
			TotalChunks: int(p[fieldTotalChunks].GetIntegerValue()),
			WordCount:   int(p[fieldWordCount].GetIntegerValue()),
		},
	}
}

func ptr[T any](v T) *T { return &v }
