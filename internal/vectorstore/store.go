// Package vectorstore attaches embeddings to stored chunks and keeps the
// dense search matrix. The chunk store stays authoritative; the matrix is a
// cache rebuilt on Open and appended to after every committed attach.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"docrag/internal/domain"
	"docrag/internal/embedding"
)

// ErrReset is returned by EmbedAndAttach when the corpus was reset while the
// batch was in flight. Nothing is attached; the chunks no longer exist.
var ErrReset = errors.New("corpus reset during attach")

// Snapshot is a read-only view of the corpus matrix. Row i belongs to IDs[i]
// and Records[i]; Generations[i] is the attach generation that wrote it.
// Callers must not modify the slices.
type Snapshot struct {
	Epoch       uint64
	Dimension   int
	IDs         []int64
	Rows        [][]float32
	Records     []domain.Chunk
	Generations []uint64
}

// Len returns the number of rows.
func (s Snapshot) Len() int { return len(s.IDs) }

// Store pairs a ChunkStore with an Embedder.
type Store struct {
	repo        domain.ChunkStore
	embedder    domain.Embedder
	batchSize   int
	concurrency int
	logger      *log.Logger

	mu      sync.RWMutex
	dim     int
	epoch   uint64
	gen     uint64
	ids     []int64
	rows    [][]float32
	records []domain.Chunk
	gens    []uint64
	pos     map[int64]int
}

// Option customises a Store.
type Option func(*Store)

// WithBatchSize sets how many texts go into one embed call (default 32).
func WithBatchSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithConcurrency bounds parallel embed calls within one attach (default 4).
func WithConcurrency(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option { return func(s *Store) { s.logger = l } }

// Open loads every persisted embedding from repo into the matrix cache.
func Open(ctx context.Context, repo domain.ChunkStore, embedder domain.Embedder, opts ...Option) (*Store, error) {
	s := &Store{
		repo:        repo,
		embedder:    embedder,
		batchSize:   32,
		concurrency: 4,
		logger:      log.New(io.Discard, "", 0),
		pos:         make(map[int64]int),
	}
	for _, o := range opts {
		o(s)
	}
	stored, err := repo.LoadEmbeddings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load embeddings: %w", err)
	}
	for _, ec := range stored {
		if s.dim == 0 {
			s.dim = len(ec.Vector)
		}
		if len(ec.Vector) != s.dim {
			return nil, fmt.Errorf("%w: chunk %d has %d dimensions, store has %d", domain.ErrCorruptStore, ec.ID, len(ec.Vector), s.dim)
		}
	}
	if d := embedder.Dimension(); d > 0 && s.dim > 0 && d != s.dim {
		return nil, fmt.Errorf("%w: store holds %d-dimension vectors but embedder %s produces %d",
			domain.ErrInvalidConfig, s.dim, embedder.Name(), d)
	}
	if len(stored) > 0 {
		s.gen = 1
		s.attachLocked(stored)
	}
	s.logger.Printf("loaded %d embedded chunks (dimension %d)", len(stored), s.dim)
	return s, nil
}

// EmbedAndAttach embeds chunks, persists all vectors in one commit and only
// then exposes the rows to search. On failure nothing is attached; retrying
// with the same chunks overwrites by chunk id. A Reset that lands between the
// commit and the attach wins and the call returns ErrReset.
func (s *Store) EmbedAndAttach(ctx context.Context, chunks []domain.Chunk) ([]domain.EmbeddedChunk, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	epoch := s.epoch
	s.mu.RUnlock()
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := s.embedBatches(ctx, texts)
	if err != nil {
		return nil, err
	}
	want := s.Dimension()
	if want == 0 {
		want = len(vecs[0])
	}
	embedded := make([]domain.EmbeddedChunk, len(chunks))
	for i, c := range chunks {
		if err := s.checkDimension(vecs[i], want); err != nil {
			return nil, err
		}
		embedded[i] = domain.EmbeddedChunk{Chunk: c, Vector: embedding.Normalize(vecs[i])}
	}
	if err := s.repo.SaveEmbeddings(ctx, embedded); err != nil {
		return nil, fmt.Errorf("save embeddings: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		s.logger.Printf("dropping %d embedded chunks: corpus was reset", len(embedded))
		return nil, ErrReset
	}
	if s.dim == 0 {
		s.dim = want
	}
	s.gen++
	s.attachLocked(embedded)
	return embedded, nil
}

// EmbedQuery embeds a query with the same normalisation as corpus rows.
func (s *Store) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, s.badResponse(fmt.Errorf("got %d vectors for one query", len(vecs)))
	}
	if err := s.checkDimension(vecs[0], s.Dimension()); err != nil {
		return nil, err
	}
	return embedding.Normalize(vecs[0]), nil
}

// embedBatches runs one Embed call per sub-batch, at most concurrency at once,
// and returns the vectors in input order.
func (s *Store) embedBatches(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for start := 0; start < len(texts); start += s.batchSize {
		start, end := start, min(start+s.batchSize, len(texts))
		g.Go(func() error {
			vecs, err := s.embedder.Embed(gctx, texts[start:end])
			if err != nil {
				return err
			}
			if len(vecs) != end-start {
				return s.badResponse(fmt.Errorf("got %d vectors for %d texts", len(vecs), end-start))
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) checkDimension(v []float32, want int) error {
	if len(v) == 0 {
		return s.badResponse(errors.New("empty vector"))
	}
	if want > 0 && len(v) != want {
		return s.badResponse(fmt.Errorf("vector has %d dimensions, expected %d", len(v), want))
	}
	return nil
}

func (s *Store) badResponse(err error) error {
	return &domain.CollaboratorError{
		Kind: domain.ErrEmbeddingUnavailable,
		Op:   s.embedder.Name(),
		Err:  err,
	}
}

// attachLocked overwrites known rows and appends new ones. Snapshots hold
// full-slice views, so a write that would touch a visible row copies first.
func (s *Store) attachLocked(embedded []domain.EmbeddedChunk) {
	copied := false
	for _, ec := range embedded {
		if i, ok := s.pos[ec.ID]; ok {
			if !copied {
				s.rows = append([][]float32(nil), s.rows...)
				s.records = append([]domain.Chunk(nil), s.records...)
				s.gens = append([]uint64(nil), s.gens...)
				copied = true
			}
			s.rows[i] = ec.Vector
			s.records[i] = ec.Chunk
			s.gens[i] = s.gen
			continue
		}
		s.pos[ec.ID] = len(s.ids)
		s.ids = append(s.ids, ec.ID)
		s.rows = append(s.rows, ec.Vector)
		s.records = append(s.records, ec.Chunk)
		s.gens = append(s.gens, s.gen)
	}
}

// Snapshot returns the rows committed before the call.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.ids)
	return Snapshot{
		Epoch:       s.epoch,
		Dimension:   s.dim,
		IDs:         s.ids[:n:n],
		Rows:        s.rows[:n:n],
		Records:     s.records[:n:n],
		Generations: s.gens[:n:n],
	}
}

// Matrix returns the chunk ids and their rows.
func (s *Store) Matrix() ([]int64, [][]float32) {
	snap := s.Snapshot()
	return snap.IDs, snap.Rows
}

// Pending lists stored chunks that have no attached vector yet.
func (s *Store) Pending(ctx context.Context) ([]domain.Chunk, error) {
	all, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Chunk
	for _, c := range all {
		if _, ok := s.pos[c.ID]; !ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// Len returns the number of attached rows.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// Dimension returns the corpus vector length, 0 before the first attach.
func (s *Store) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim
}

// Reset clears the backing chunk store and the matrix.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.repo.Reset(ctx); err != nil {
		return err
	}
	s.epoch++
	s.dim = 0
	s.ids, s.rows, s.records, s.gens = nil, nil, nil, nil
	s.pos = make(map[int64]int)
	return nil
}
