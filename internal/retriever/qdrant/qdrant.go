// Package qdrant serves exact top-K search from a Qdrant collection that
// mirrors the vector store snapshot.
package qdrant

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"

	qdrant "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/proto"

	"docrag/internal/domain"
	"docrag/internal/embedding"
	"docrag/internal/retriever"
	"docrag/internal/vectorstore"
)

const upsertBatch = 256

// Config configures the gRPC connection.
type Config struct {
	Addr       string
	Collection string
}

// Searcher upserts rows whose generation is newer than the mirrored one and
// then queries Qdrant with exact search. Hits outside the caller's snapshot
// are dropped and scores are recomputed against the snapshot rows.
type Searcher struct {
	src         retriever.Source
	points      qdrant.PointsClient
	collections qdrant.CollectionsClient
	collection  string
	conn        *grpc.ClientConn
	logger      *log.Logger

	mu     sync.Mutex
	ready  bool
	epoch  uint64
	dim    int
	synced map[int64]uint64
}

// Option customises a Searcher.
type Option func(*Searcher)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option { return func(s *Searcher) { s.logger = l } }

// Dial connects to Qdrant at cfg.Addr.
func Dial(cfg Config, src retriever.Source, opts ...Option) (*Searcher, error) {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6334"
	}
	if cfg.Collection == "" {
		cfg.Collection = "docrag_chunks"
	}
	conn, err := grpc.NewClient(cfg.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("could not connect to Qdrant: %w", err)
	}
	s := New(qdrant.NewPointsClient(conn), qdrant.NewCollectionsClient(conn), cfg.Collection, src, opts...)
	s.conn = conn
	return s, nil
}

// New builds a Searcher over existing gRPC clients.
func New(points qdrant.PointsClient, collections qdrant.CollectionsClient, collection string, src retriever.Source, opts ...Option) *Searcher {
	s := &Searcher{
		src:         src,
		points:      points,
		collections: collections,
		collection:  collection,
		logger:      log.New(io.Discard, "", 0),
		synced:      make(map[int64]uint64),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Search implements domain.Searcher.
func (s *Searcher) Search(ctx context.Context, query []float32, k int) ([]domain.RetrievalResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", domain.ErrInvalidInput, k)
	}
	snap := s.src.Snapshot()
	if snap.Len() == 0 {
		return []domain.RetrievalResult{}, nil
	}
	if len(query) != snap.Dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, corpus has %d", domain.ErrInvalidInput, len(query), snap.Dimension)
	}
	mirrored, err := s.sync(ctx, snap)
	if err != nil {
		return nil, err
	}
	// rows mirrored by a newer snapshot can take slots; ask for enough to cover them
	limit := k + max(0, mirrored-snap.Len())
	resp, err := s.points.Search(ctx, &qdrant.SearchPoints{
		CollectionName: s.collection,
		Vector:         query,
		Limit:          uint64(limit),
		Params:         &qdrant.SearchParams{Exact: proto.Bool(true)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search points in Qdrant: %w", err)
	}
	pos := make(map[int64]int, snap.Len())
	for i, id := range snap.IDs {
		pos[id] = i
	}
	var (
		ids    []int64
		scores []float64
		rows   []int
	)
	for _, hit := range resp.GetResult() {
		i, ok := pos[int64(hit.GetId().GetNum())]
		if !ok {
			continue
		}
		ids = append(ids, snap.IDs[i])
		scores = append(scores, embedding.Dot(snap.Rows[i], query))
		rows = append(rows, i)
	}
	order := retriever.Rank(ids, scores, k)
	out := make([]domain.RetrievalResult, len(order))
	for n, j := range order {
		out[n] = retriever.Result(snap.Records[rows[j]], scores[j])
	}
	return out, nil
}

// sync brings the collection up to snap and returns how many points it holds.
func (s *Searcher) sync(ctx context.Context, snap vectorstore.Snapshot) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready || snap.Epoch != s.epoch || snap.Dimension != s.dim {
		if err := s.recreate(ctx, snap.Dimension); err != nil {
			return 0, err
		}
		s.ready, s.epoch, s.dim = true, snap.Epoch, snap.Dimension
		s.synced = make(map[int64]uint64)
	}
	var points []*qdrant.PointStruct
	var marks []int
	for i, id := range snap.IDs {
		if s.synced[id] >= snap.Generations[i] {
			continue
		}
		points = append(points, &qdrant.PointStruct{
			Id:      &qdrant.PointId{PointIdOptions: &qdrant.PointId_Num{Num: uint64(id)}},
			Vectors: &qdrant.Vectors{VectorsOptions: &qdrant.Vectors_Vector{Vector: &qdrant.Vector{Data: snap.Rows[i]}}},
			Payload: payload(snap.Records[i]),
		})
		marks = append(marks, i)
	}
	for start := 0; start < len(points); start += upsertBatch {
		end := min(start+upsertBatch, len(points))
		_, err := s.points.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collection,
			Points:         points[start:end],
			Wait:           proto.Bool(true),
		})
		if err != nil {
			return 0, fmt.Errorf("failed to upsert points to Qdrant: %w", err)
		}
		for _, i := range marks[start:end] {
			s.synced[snap.IDs[i]] = snap.Generations[i]
		}
	}
	if len(points) > 0 {
		s.logger.Printf("mirrored %d points into %s", len(points), s.collection)
	}
	return len(s.synced), nil
}

func (s *Searcher) recreate(ctx context.Context, dim int) error {
	if _, err := s.collections.Get(ctx, &qdrant.GetCollectionInfoRequest{CollectionName: s.collection}); err == nil {
		if _, err := s.collections.Delete(ctx, &qdrant.DeleteCollection{CollectionName: s.collection}); err != nil {
			return fmt.Errorf("failed to drop collection %s: %w", s.collection, err)
		}
	}
	_, err := s.collections.Create(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &qdrant.VectorsConfig{Config: &qdrant.VectorsConfig_Params{Params: &qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Dot,
		}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	s.logger.Printf("created collection %s (dimension %d)", s.collection, dim)
	return nil
}

// Close closes the connection opened by Dial.
func (s *Searcher) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func payload(c domain.Chunk) map[string]*qdrant.Value {
	return map[string]*qdrant.Value{
		"file_name": {Kind: &qdrant.Value_StringValue{StringValue: c.SourceName}},
		"sequence":  {Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(c.Sequence)}},
		"content":   {Kind: &qdrant.Value_StringValue{StringValue: c.Text}},
	}
}
