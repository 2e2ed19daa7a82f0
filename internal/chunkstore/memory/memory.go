package memory

import (
	"context"
	"sync"

	"docrag/internal/chunkstore"
	"docrag/internal/domain"
)

// Store is an in-process ChunkStore. Nothing survives Close.
type Store struct {
	mu      sync.RWMutex
	nextID  int64
	chunks  []domain.Chunk
	index   map[int64]int
	lastSeq map[string]int
	vectors map[int64][]float32
}

// New returns an empty store whose first chunk id is 1.
func New() *Store {
	return &Store{
		nextID:  1,
		index:   make(map[int64]int),
		lastSeq: make(map[string]int),
		vectors: make(map[int64][]float32),
	}
}

func (s *Store) Append(ctx context.Context, source string, texts []string) ([]domain.Chunk, error) {
	if err := chunkstore.ValidateAppend(source, texts); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := chunkstore.Build(source, texts, s.nextID, s.lastSeq[source])
	for _, c := range batch {
		s.index[c.ID] = len(s.chunks)
		s.chunks = append(s.chunks, c)
	}
	s.nextID += int64(len(batch))
	s.lastSeq[source] += len(batch)
	return batch, nil
}

func (s *Store) ListAll(ctx context.Context) ([]domain.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Chunk(nil), s.chunks...), nil
}

func (s *Store) SaveEmbeddings(ctx context.Context, embedded []domain.EmbeddedChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := chunkstore.CheckEmbeddings(embedded, func(id int64) bool {
		_, ok := s.index[id]
		return ok
	})
	if err != nil {
		return err
	}
	for _, ec := range embedded {
		s.vectors[ec.ID] = append([]float32(nil), ec.Vector...)
	}
	return nil
}

func (s *Store) LoadEmbeddings(ctx context.Context) ([]domain.EmbeddedChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.EmbeddedChunk, 0, len(s.vectors))
	for _, c := range s.chunks {
		if v, ok := s.vectors[c.ID]; ok {
			out = append(out, domain.EmbeddedChunk{Chunk: c, Vector: append([]float32(nil), v...)})
		}
	}
	return out, nil
}

func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = nil
	s.index = make(map[int64]int)
	s.lastSeq = make(map[string]int)
	s.vectors = make(map[int64][]float32)
	return nil
}

func (s *Store) Close() error { return nil }
