package qdrant

import (
	"context"
	"sort"
	"testing"

	qdrant "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"

	"docrag/internal/domain"
	"docrag/internal/embedding"
	"docrag/internal/vectorstore"
)

// fakePoints keeps points in memory and answers exact dot-product search.
type fakePoints struct {
	qdrant.PointsClient
	points  map[uint64][]float32
	upserts int
	limits  []uint64
}

func (f *fakePoints) Upsert(ctx context.Context, in *qdrant.UpsertPoints, _ ...grpc.CallOption) (*qdrant.PointsOperationResponse, error) {
	f.upserts += len(in.GetPoints())
	for _, p := range in.GetPoints() {
		f.points[p.GetId().GetNum()] = p.GetVectors().GetVector().GetData()
	}
	return &qdrant.PointsOperationResponse{}, nil
}

func (f *fakePoints) Search(ctx context.Context, in *qdrant.SearchPoints, _ ...grpc.CallOption) (*qdrant.SearchResponse, error) {
	f.limits = append(f.limits, in.GetLimit())
	var hits []*qdrant.ScoredPoint
	for id, v := range f.points {
		hits = append(hits, &qdrant.ScoredPoint{
			Id:    &qdrant.PointId{PointIdOptions: &qdrant.PointId_Num{Num: id}},
			Score: float32(embedding.Dot(v, in.GetVector())),
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if uint64(len(hits)) > in.GetLimit() {
		hits = hits[:in.GetLimit()]
	}
	return &qdrant.SearchResponse{Result: hits}, nil
}

type fakeCollections struct {
	qdrant.CollectionsClient
	points  *fakePoints
	exists  bool
	created int
}

func (f *fakeCollections) Get(ctx context.Context, in *qdrant.GetCollectionInfoRequest, _ ...grpc.CallOption) (*qdrant.GetCollectionInfoResponse, error) {
	if !f.exists {
		return nil, context.Canceled
	}
	return &qdrant.GetCollectionInfoResponse{}, nil
}

func (f *fakeCollections) Delete(ctx context.Context, in *qdrant.DeleteCollection, _ ...grpc.CallOption) (*qdrant.CollectionOperationResponse, error) {
	f.exists = false
	f.points.points = map[uint64][]float32{}
	return &qdrant.CollectionOperationResponse{}, nil
}

func (f *fakeCollections) Create(ctx context.Context, in *qdrant.CreateCollection, _ ...grpc.CallOption) (*qdrant.CollectionOperationResponse, error) {
	f.exists = true
	f.created++
	return &qdrant.CollectionOperationResponse{}, nil
}

type snapSource struct{ snap vectorstore.Snapshot }

func (s *snapSource) Snapshot() vectorstore.Snapshot { return s.snap }

func (s *snapSource) add(gen uint64, v ...float32) {
	id := int64(len(s.snap.IDs) + 1)
	s.snap.Dimension = len(v)
	s.snap.IDs = append(s.snap.IDs, id)
	s.snap.Rows = append(s.snap.Rows, embedding.Normalize(v))
	s.snap.Records = append(s.snap.Records, domain.Chunk{ID: id, SourceName: "doc.txt", Sequence: int(id), Text: "t"})
	s.snap.Generations = append(s.snap.Generations, gen)
}

func newFixture() (*Searcher, *fakePoints, *fakeCollections, *snapSource) {
	pts := &fakePoints{points: map[uint64][]float32{}}
	cols := &fakeCollections{points: pts}
	src := &snapSource{}
	return New(pts, cols, "test", src), pts, cols, src
}

func TestSearcher_MatchesLinearRanking(t *testing.T) {
	s, _, _, src := newFixture()
	src.add(1, 1, 0)
	src.add(1, 0, 1)
	src.add(1, 0.9, 0.1)

	got, err := s.Search(context.Background(), []float32{1, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ChunkID != 1 || got[1].ChunkID != 3 {
		t.Fatalf("expected chunks 1 and 3, got %+v", got)
	}
	if got[0].Similarity != 1.0 {
		t.Fatalf("expected similarity recomputed exactly, got %v", got[0].Similarity)
	}
}

func TestSearcher_MirrorsOnlyNewGenerations(t *testing.T) {
	s, pts, cols, src := newFixture()
	src.add(1, 1, 0)
	src.add(1, 0, 1)
	ctx := context.Background()
	if _, err := s.Search(ctx, []float32{1, 0}, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Search(ctx, []float32{1, 0}, 1); err != nil {
		t.Fatal(err)
	}
	if pts.upserts != 2 || cols.created != 1 {
		t.Fatalf("expected 2 upserts and 1 collection, got %d and %d", pts.upserts, cols.created)
	}
	src.add(2, 1, 1)
	src.snap.Generations[0] = 2
	if _, err := s.Search(ctx, []float32{1, 0}, 1); err != nil {
		t.Fatal(err)
	}
	if pts.upserts != 4 {
		t.Fatalf("expected the new and the rewritten row upserted, got %d upserts", pts.upserts)
	}
}

func TestSearcher_IgnoresRowsOutsideSnapshot(t *testing.T) {
	s, pts, _, src := newFixture()
	src.add(1, 0, 1)
	ctx := context.Background()
	if _, err := s.Search(ctx, []float32{0, 1}, 1); err != nil {
		t.Fatal(err)
	}
	// a later snapshot mirrored a better row this caller cannot see
	s.synced[99] = 1
	pts.points[99] = []float32{1, 0}

	got, err := s.Search(ctx, []float32{1, 0}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ChunkID != 1 {
		t.Fatalf("expected only chunk 1, got %+v", got)
	}
	if last := pts.limits[len(pts.limits)-1]; last != 2 {
		t.Fatalf("expected limit widened to 2, got %d", last)
	}
}

func TestSearcher_EpochChangeRecreatesCollection(t *testing.T) {
	s, pts, cols, src := newFixture()
	src.add(1, 1, 0)
	ctx := context.Background()
	_, _ = s.Search(ctx, []float32{1, 0}, 1)

	src.snap = vectorstore.Snapshot{Epoch: 1}
	src.add(1, 0, 1)
	got, err := s.Search(ctx, []float32{0, 1}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if cols.created != 2 || len(pts.points) != 1 {
		t.Fatalf("expected a fresh collection with 1 point, got %d collections and %d points", cols.created, len(pts.points))
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 result, got %+v", got)
	}
}

func TestSearcher_EmptySnapshotSkipsQdrant(t *testing.T) {
	s, pts, cols, _ := newFixture()
	got, err := s.Search(context.Background(), []float32{1, 0}, 3)
	if err != nil || len(got) != 0 {
		t.Fatalf("expected empty result, got %+v %v", got, err)
	}
	if cols.created != 0 || len(pts.limits) != 0 {
		t.Fatalf("empty corpus should not touch qdrant")
	}
}

func TestPayload(t *testing.T) {
	p := payload(domain.Chunk{ID: 7, SourceName: "ünï.txt", Sequence: 3, Text: "body"})
	if p["file_name"].GetStringValue() != "ünï.txt" || p["sequence"].GetIntegerValue() != 3 || p["content"].GetStringValue() != "body" {
		t.Fatalf("unexpected payload %v", p)
	}
}
