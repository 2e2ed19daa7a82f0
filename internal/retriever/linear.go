// Package retriever ranks corpus rows against a query vector.
package retriever

import (
	"context"
	"fmt"
	"sort"

	"docrag/internal/domain"
	"docrag/internal/embedding"
	"docrag/internal/vectorstore"
)

// Source supplies the corpus snapshot to search.
type Source interface {
	Snapshot() vectorstore.Snapshot
}

// Linear is an exact brute-force searcher. Rows are unit vectors, so the dot
// product is the cosine similarity.
type Linear struct {
	src Source
}

// NewLinear returns a searcher over src.
func NewLinear(src Source) *Linear { return &Linear{src: src} }

// Search returns the k most similar rows, best first, ties by ascending chunk id.
func (l *Linear) Search(ctx context.Context, query []float32, k int) ([]domain.RetrievalResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", domain.ErrInvalidInput, k)
	}
	snap := l.src.Snapshot()
	if snap.Len() == 0 {
		return []domain.RetrievalResult{}, nil
	}
	if len(query) != snap.Dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, corpus has %d", domain.ErrInvalidInput, len(query), snap.Dimension)
	}
	scores := make([]float64, snap.Len())
	for i, row := range snap.Rows {
		if i%4096 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		scores[i] = embedding.Dot(row, query)
	}
	idxs := Rank(snap.IDs, scores, k)
	out := make([]domain.RetrievalResult, len(idxs))
	for i, j := range idxs {
		out[i] = Result(snap.Records[j], scores[j])
	}
	return out, nil
}

// Rank returns the indexes of the k best scores, descending, with equal
// scores ordered by ascending id.
func Rank(ids []int64, scores []float64, k int) []int {
	idxs := make([]int, len(scores))
	for i := range idxs {
		idxs[i] = i
	}
	sort.Slice(idxs, func(a, b int) bool {
		sa, sb := scores[idxs[a]], scores[idxs[b]]
		if sa != sb {
			return sa > sb
		}
		return ids[idxs[a]] < ids[idxs[b]]
	})
	if k < len(idxs) {
		idxs = idxs[:k]
	}
	return idxs
}

// Result converts a chunk and its score.
func Result(c domain.Chunk, similarity float64) domain.RetrievalResult {
	return domain.RetrievalResult{
		ChunkID:    c.ID,
		SourceName: c.SourceName,
		Sequence:   c.Sequence,
		Text:       c.Text,
		Similarity: similarity,
	}
}
