package hash

import (
	"context"
	"fmt"
	"math"
	"strings"
	"testing"
)

func TestEmbedder_Deterministic(t *testing.T) {
	e := NewEmbedder(64)
	a, err := e.Embed(context.Background(), []string{"Go is great for services."})
	if err != nil {
		t.Fatal(err)
	}
	b, _ := e.Embed(context.Background(), []string{"Go is great for services."})
	if len(a[0]) != 64 {
		t.Fatalf("expected dimension 64, got %d", len(a[0]))
	}
	for i := range a[0] {
		if a[0][i] != b[0][i] {
			t.Fatalf("not deterministic at %d", i)
		}
	}
}

func TestEmbedder_BitIdenticalWithCollisions(t *testing.T) {
	e := NewEmbedder(2)
	var words []string
	for i := 0; i < 200; i++ {
		words = append(words, fmt.Sprintf("word%d", i), fmt.Sprintf("term%d", i%7))
	}
	text := strings.Join(words, " ")
	first, err := e.Embed(context.Background(), []string{text})
	if err != nil {
		t.Fatal(err)
	}
	for run := 0; run < 50; run++ {
		again, _ := e.Embed(context.Background(), []string{text})
		for i := range first[0] {
			if math.Float32bits(first[0][i]) != math.Float32bits(again[0][i]) {
				t.Fatalf("run %d: component %d differs: %v vs %v", run, i, first[0][i], again[0][i])
			}
		}
	}
}

func TestEmbedder_UnitLengthAndSimilarity(t *testing.T) {
	e := NewEmbedder(0)
	vecs, _ := e.Embed(context.Background(), []string{
		"vector databases store embeddings",
		"embeddings stored in vector databases",
		"bananas grow in tropical climates",
		"",
	})
	dot := func(a, b []float32) float64 {
		s := 0.0
		for i := range a {
			s += float64(a[i]) * float64(b[i])
		}
		return s
	}
	if n := dot(vecs[0], vecs[0]); math.Abs(n-1) > 1e-5 {
		t.Fatalf("expected unit vector, norm^2=%f", n)
	}
	if dot(vecs[0], vecs[1]) <= dot(vecs[0], vecs[2]) {
		t.Fatalf("related texts should score higher than unrelated ones")
	}
	if n := dot(vecs[3], vecs[3]); n != 0 {
		t.Fatalf("empty text should embed to zero vector")
	}
}

func TestEmbedder_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewEmbedder(8).Embed(ctx, []string{"x"}); err == nil {
		t.Fatalf("expected context error")
	}
}
