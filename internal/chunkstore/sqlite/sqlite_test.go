package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"docrag/internal/chunkstore/storetest"
	"docrag/internal/domain"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) domain.ChunkStore {
		s, err := Open(filepath.Join(t.TempDir(), "chunks.db"))
		if err != nil {
			t.Fatal(err)
		}
		return s
	})
}

func TestStore_InMemory(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	got, err := s.Append(context.Background(), "a.txt", []string{"one"})
	if err != nil || len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("unexpected append result %+v %v", got, err)
	}
}

func TestStore_ReopenKeepsChunksAndCounter(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "chunks.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	first, err := s.Append(ctx, "a.txt", []string{"one", "two"})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SaveEmbeddings(ctx, []domain.EmbeddedChunk{{Chunk: first[1], Vector: []float32{0.25, -0.5, 1}}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	again, err := s.Append(ctx, "a.txt", []string{"three"})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SaveEmbeddings(ctx, []domain.EmbeddedChunk{{Chunk: again[0], Vector: []float32{0.25, -0.5, 1}}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	emb, err := s.LoadEmbeddings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(emb) != 1 || emb[0].ID != 3 {
		t.Fatalf("expected chunk 3 with its vector, got %+v", emb)
	}
	if v := emb[0].Vector; v[0] != 0.25 || v[1] != -0.5 || v[2] != 1 {
		t.Fatalf("vector changed across reopen: %v", v)
	}
	next, err := s.Append(ctx, "b.txt", []string{"four"})
	if err != nil {
		t.Fatal(err)
	}
	if next[0].ID != 4 {
		t.Fatalf("expected id 4 after reopen, got %d", next[0].ID)
	}
}

func TestDecodeVectorRejectsShortBlob(t *testing.T) {
	if _, err := decodeVector([]byte{1, 2, 3}, 1); err == nil {
		t.Fatal("expected error for 3-byte blob")
	}
	v, err := decodeVector(encodeVector([]float32{1.5, -2}), 2)
	if err != nil || v[0] != 1.5 || v[1] != -2 {
		t.Fatalf("round trip failed: %v %v", v, err)
	}
}
