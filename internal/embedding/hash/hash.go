package hash

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"sort"
	"strings"
)

// DefaultDimension is used when the configured dimension is not positive.
const DefaultDimension = 256

// Embedder is a deterministic, offline bag-of-words embedder. Each token is
// hashed into one of dimension buckets with a hashed sign, weighted by
// sublinear term frequency, and the result is L2 normalised.
type Embedder struct {
	dimension    int
	tokenPattern *regexp.Regexp
	stopwords    map[string]struct{}
}

// NewEmbedder creates a hashing embedder with a fixed dimension.
func NewEmbedder(dimension int) *Embedder {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &Embedder{
		dimension:    dimension,
		tokenPattern: regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`),
		stopwords:    defaultStopwords(),
	}
}

// Name returns the identifier of this embedder implementation.
func (e *Embedder) Name() string { return "hash" }

// Dimension returns the dimensionality of the produced embedding vectors.
func (e *Embedder) Dimension() int { return e.dimension }

// Embed computes one vector per text. It never fails unless ctx is done.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.embedOne(text)
	}
	return out, nil
}

func (e *Embedder) embedOne(text string) []float32 {
	tf := make(map[string]int)
	for _, tok := range e.tokenize(text) {
		tf[tok]++
	}
	// Fixed order keeps colliding buckets bit-identical across calls.
	toks := make([]string, 0, len(tf))
	for tok := range tf {
		toks = append(toks, tok)
	}
	sort.Strings(toks)
	acc := make([]float64, e.dimension)
	for _, tok := range toks {
		count := tf[tok]
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		idx := int(sum % uint64(e.dimension))
		w := 1 + math.Log(float64(count))
		if sum>>63 == 1 {
			w = -w
		}
		acc[idx] += w
	}
	norm := 0.0
	for _, v := range acc {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	vec := make([]float32, e.dimension)
	if norm == 0 {
		return vec
	}
	for i, v := range acc {
		vec[i] = float32(v / norm)
	}
	return vec
}

func (e *Embedder) tokenize(text string) []string {
	raw := e.tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, t := range raw {
		if _, isStop := e.stopwords[t]; isStop {
			continue
		}
		out = append(out, t)
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
