// Package storetest runs the behaviour every ChunkStore backend must share.
package storetest

import (
	"context"
	"errors"
	"testing"

	"docrag/internal/domain"
)

// Factory opens a fresh, empty store.
type Factory func(t *testing.T) domain.ChunkStore

// Run exercises the common ChunkStore contract against stores built by open.
func Run(t *testing.T, open Factory) {
	t.Run("AppendAssignsIdsAndSequences", func(t *testing.T) { testAppend(t, open(t)) })
	t.Run("SequenceContinuesPerSource", func(t *testing.T) { testSequence(t, open(t)) })
	t.Run("RejectsBlankInput", func(t *testing.T) { testBlank(t, open(t)) })
	t.Run("EmbeddingsRoundTrip", func(t *testing.T) { testEmbeddings(t, open(t)) })
	t.Run("RejectsBadEmbeddings", func(t *testing.T) { testBadEmbeddings(t, open(t)) })
	t.Run("ResetKeepsIdsIncreasing", func(t *testing.T) { testReset(t, open(t)) })
}

func testAppend(t *testing.T, s domain.ChunkStore) {
	defer s.Close()
	ctx := context.Background()
	got, err := s.Append(ctx, "notes.txt", []string{"première partie", "第二部分", "third"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(got))
	}
	for i, c := range got {
		if c.ID != got[0].ID+int64(i) {
			t.Fatalf("ids not consecutive: %+v", got)
		}
		if c.Sequence != i+1 {
			t.Fatalf("chunk %d has sequence %d", i, c.Sequence)
		}
	}
	all, err := s.ListAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[1].Text != "第二部分" || all[0].Text != "première partie" {
		t.Fatalf("unexpected listing: %+v", all)
	}
	none, err := s.Append(ctx, "empty.txt", nil)
	if err != nil || len(none) != 0 {
		t.Fatalf("empty append should be a no-op, got %v %v", none, err)
	}
}

func testSequence(t *testing.T, s domain.ChunkStore) {
	defer s.Close()
	ctx := context.Background()
	mustAppend(t, s, "a.txt", "one", "two")
	mustAppend(t, s, "b.txt", "uno")
	again := mustAppend(t, s, "a.txt", "three")
	if again[0].Sequence != 3 {
		t.Fatalf("expected sequence 3 for re-ingested source, got %d", again[0].Sequence)
	}
	all, _ := s.ListAll(ctx)
	for i := 1; i < len(all); i++ {
		if all[i].ID <= all[i-1].ID {
			t.Fatalf("listing not in id order: %+v", all)
		}
	}
}

func testBlank(t *testing.T, s domain.ChunkStore) {
	defer s.Close()
	ctx := context.Background()
	if _, err := s.Append(ctx, " ", []string{"x"}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("blank source: expected ErrInvalidInput, got %v", err)
	}
	if _, err := s.Append(ctx, "a.txt", []string{"ok", "  "}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("blank text: expected ErrInvalidInput, got %v", err)
	}
	all, _ := s.ListAll(ctx)
	if len(all) != 0 {
		t.Fatalf("rejected batch must not be stored, got %+v", all)
	}
}

func testEmbeddings(t *testing.T, s domain.ChunkStore) {
	defer s.Close()
	ctx := context.Background()
	chunks := mustAppend(t, s, "a.txt", "one", "two", "three")
	err := s.SaveEmbeddings(ctx, []domain.EmbeddedChunk{
		{Chunk: chunks[0], Vector: []float32{1, 0}},
		{Chunk: chunks[2], Vector: []float32{0.6, 0.8}},
	})
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.LoadEmbeddings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 embedded chunks, got %d", len(got))
	}
	if got[0].ID != chunks[0].ID || got[1].ID != chunks[2].ID {
		t.Fatalf("unexpected embedded ids: %d %d", got[0].ID, got[1].ID)
	}
	if got[1].Vector[0] != 0.6 || got[1].Vector[1] != 0.8 || got[1].Text != "three" {
		t.Fatalf("vector or text corrupted: %+v", got[1])
	}
	// re-embedding replaces the old vector
	if err := s.SaveEmbeddings(ctx, []domain.EmbeddedChunk{{Chunk: chunks[0], Vector: []float32{0, 1}}}); err != nil {
		t.Fatal(err)
	}
	got, _ = s.LoadEmbeddings(ctx)
	if got[0].Vector[0] != 0 || got[0].Vector[1] != 1 {
		t.Fatalf("expected replaced vector, got %v", got[0].Vector)
	}
}

func testBadEmbeddings(t *testing.T, s domain.ChunkStore) {
	defer s.Close()
	ctx := context.Background()
	chunks := mustAppend(t, s, "a.txt", "one", "two")
	cases := map[string][]domain.EmbeddedChunk{
		"unknown id": {{Chunk: domain.Chunk{ID: 999}, Vector: []float32{1}}},
		"empty":      {{Chunk: chunks[0], Vector: nil}},
		"mixed":      {{Chunk: chunks[0], Vector: []float32{1, 0}}, {Chunk: chunks[1], Vector: []float32{1}}},
	}
	for name, batch := range cases {
		if err := s.SaveEmbeddings(ctx, batch); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("%s: expected ErrInvalidInput, got %v", name, err)
		}
	}
	got, _ := s.LoadEmbeddings(ctx)
	if len(got) != 0 {
		t.Fatalf("failed saves must not persist vectors, got %d", len(got))
	}
}

func testReset(t *testing.T, s domain.ChunkStore) {
	defer s.Close()
	ctx := context.Background()
	before := mustAppend(t, s, "a.txt", "one", "two")
	if err := s.SaveEmbeddings(ctx, []domain.EmbeddedChunk{{Chunk: before[0], Vector: []float32{1}}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	all, _ := s.ListAll(ctx)
	emb, _ := s.LoadEmbeddings(ctx)
	if len(all) != 0 || len(emb) != 0 {
		t.Fatalf("reset left %d chunks and %d vectors", len(all), len(emb))
	}
	after := mustAppend(t, s, "a.txt", "three")
	if after[0].ID <= before[1].ID {
		t.Fatalf("id %d reused after reset (last was %d)", after[0].ID, before[1].ID)
	}
	if after[0].Sequence != 1 {
		t.Fatalf("sequence should restart after reset, got %d", after[0].Sequence)
	}
}

func mustAppend(t *testing.T, s domain.ChunkStore, source string, texts ...string) []domain.Chunk {
	t.Helper()
	got, err := s.Append(context.Background(), source, texts)
	if err != nil {
		t.Fatal(err)
	}
	return got
}
