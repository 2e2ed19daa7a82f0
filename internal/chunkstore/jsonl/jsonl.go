package jsonl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"docrag/internal/chunkstore"
	"docrag/internal/domain"
)

// line is one JSON object in the log. Exactly one of the groups is set:
// a chunk record (ChunkID > 0), an id watermark (NextChunkID > 0) or a
// commit marker (Commit > 0) closing the preceding Commit lines.
type line struct {
	FileName    string    `json:"file_name,omitempty"`
	ChunkID     int64     `json:"chunk_id,omitempty"`
	Sequence    int       `json:"sequence,omitempty"`
	Content     string    `json:"content,omitempty"`
	Embedding   []float32 `json:"embedding,omitempty"`
	NextChunkID int64     `json:"next_chunk_id,omitempty"`
	Commit      int       `json:"commit,omitempty"`
}

// Store is an append-only JSON Lines ChunkStore. Every Append or
// SaveEmbeddings writes its records followed by a commit marker and syncs
// the file; on open, records after the last commit marker are discarded.
type Store struct {
	mu     sync.RWMutex
	path   string
	f      *os.File
	size   int64
	logger *log.Logger

	nextID  int64
	chunks  []domain.Chunk
	index   map[int64]int
	lastSeq map[string]int
	vectors map[int64][]float32
}

// Option customises a Store.
type Option func(*Store)

// WithLogger routes recovery messages to l.
func WithLogger(l *log.Logger) Option { return func(s *Store) { s.logger = l } }

// Open loads or creates the log at path.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{path: path, logger: log.New(io.Discard, "", 0)}
	for _, o := range opts {
		o(s)
	}
	s.clear(1)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	committed, err := s.load(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if info.Size() > committed {
		s.logger.Printf("discarding %d bytes of uncommitted records in %s", info.Size()-committed, path)
		if err := f.Truncate(committed); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	if _, err := f.Seek(committed, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, err
	}
	s.f = f
	s.size = committed
	return s, nil
}

func (s *Store) clear(nextID int64) {
	s.nextID = nextID
	s.chunks = nil
	s.index = make(map[int64]int)
	s.lastSeq = make(map[string]int)
	s.vectors = make(map[int64][]float32)
}

// load replays committed batches and returns the offset after the last commit.
func (s *Store) load(f *os.File) (int64, error) {
	r := bufio.NewReader(f)
	var (
		offset, committed int64
		pending           []line
		badLine           int
		badErr            error
		lineNo            int
	)
	for {
		raw, readErr := r.ReadBytes('\n')
		if len(raw) > 0 {
			lineNo++
			offset += int64(len(raw))
			complete := raw[len(raw)-1] == '\n'
			var ln line
			err := json.Unmarshal(bytes.TrimSpace(raw), &ln)
			if err == nil && ln.ChunkID <= 0 && ln.NextChunkID <= 0 && ln.Commit <= 0 {
				err = errors.New("record without chunk_id")
			}
			if err != nil || !complete {
				if badErr == nil {
					badLine, badErr = lineNo, err
					if badErr == nil {
						badErr = errors.New("truncated line")
					}
				}
			} else if ln.Commit > 0 {
				if badErr != nil {
					return 0, fmt.Errorf("%w: %s line %d: %v", domain.ErrCorruptStore, s.path, badLine, badErr)
				}
				if ln.Commit != len(pending) {
					return 0, fmt.Errorf("%w: %s line %d: commit of %d records after %d", domain.ErrCorruptStore, s.path, lineNo, ln.Commit, len(pending))
				}
				for _, p := range pending {
					s.apply(p)
				}
				pending = pending[:0]
				committed = offset
			} else if badErr == nil {
				pending = append(pending, ln)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return 0, readErr
		}
	}
	return committed, nil
}

func (s *Store) apply(ln line) {
	if ln.ChunkID == 0 {
		if ln.NextChunkID > s.nextID {
			s.nextID = ln.NextChunkID
		}
		return
	}
	c := domain.Chunk{ID: ln.ChunkID, SourceName: ln.FileName, Sequence: ln.Sequence, Text: ln.Content}
	if _, ok := s.index[c.ID]; !ok {
		s.index[c.ID] = len(s.chunks)
		s.chunks = append(s.chunks, c)
		if c.Sequence > s.lastSeq[c.SourceName] {
			s.lastSeq[c.SourceName] = c.Sequence
		}
		if c.ID >= s.nextID {
			s.nextID = c.ID + 1
		}
	}
	if len(ln.Embedding) > 0 {
		s.vectors[c.ID] = ln.Embedding
	}
}

// commit writes lines plus a commit marker and syncs. On failure the file is
// truncated back to its previous size.
func (s *Store) commit(lines []line) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, ln := range lines {
		if err := enc.Encode(ln); err != nil {
			return err
		}
	}
	if err := enc.Encode(line{Commit: len(lines)}); err != nil {
		return err
	}
	n, err := s.f.Write(buf.Bytes())
	if err == nil {
		err = s.f.Sync()
	}
	if err != nil {
		if n > 0 {
			if terr := s.f.Truncate(s.size); terr == nil {
				_, _ = s.f.Seek(s.size, io.SeekStart)
			}
		}
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	s.size += int64(n)
	return nil
}

func (s *Store) Append(ctx context.Context, source string, texts []string) ([]domain.Chunk, error) {
	if err := chunkstore.ValidateAppend(source, texts); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := chunkstore.Build(source, texts, s.nextID, s.lastSeq[source])
	lines := make([]line, len(batch))
	for i, c := range batch {
		lines[i] = line{FileName: c.SourceName, ChunkID: c.ID, Sequence: c.Sequence, Content: c.Text}
	}
	if err := s.commit(lines); err != nil {
		return nil, err
	}
	for _, ln := range lines {
		s.apply(ln)
	}
	return batch, nil
}

func (s *Store) ListAll(ctx context.Context) ([]domain.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Chunk(nil), s.chunks...), nil
}

func (s *Store) SaveEmbeddings(ctx context.Context, embedded []domain.EmbeddedChunk) error {
	if len(embedded) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := chunkstore.CheckEmbeddings(embedded, func(id int64) bool {
		_, ok := s.index[id]
		return ok
	})
	if err != nil {
		return err
	}
	lines := make([]line, len(embedded))
	for i, ec := range embedded {
		c := s.chunks[s.index[ec.ID]]
		lines[i] = line{FileName: c.SourceName, ChunkID: c.ID, Sequence: c.Sequence, Content: c.Text,
			Embedding: append([]float32(nil), ec.Vector...)}
	}
	if err := s.commit(lines); err != nil {
		return err
	}
	for _, ln := range lines {
		s.apply(ln)
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

// Reset replaces the log with a single watermark so ids keep increasing.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.nextID
	if err := s.rewrite([]line{{NextChunkID: next}}); err != nil {
		return err
	}
	s.clear(next)
	return nil
}

// Compact rewrites the log with one record per chunk, dropping superseded
// embedding lines.
func (s *Store) Compact(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lines := make([]line, 0, len(s.chunks)+1)
	lines = append(lines, line{NextChunkID: s.nextID})
	for _, c := range s.chunks {
		lines = append(lines, line{FileName: c.SourceName, ChunkID: c.ID, Sequence: c.Sequence, Content: c.Text,
			Embedding: s.vectors[c.ID]})
	}
	return s.rewrite(lines)
}

// rewrite atomically swaps the log for one committed batch of lines.
func (s *Store) rewrite(lines []line) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, ln := range lines {
		if err := enc.Encode(ln); err != nil {
			_ = tmp.Close()
			return err
		}
	}
	if err := enc.Encode(line{Commit: len(lines)}); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := s.f.Close(); err != nil {
		return err
	}
	renameErr := os.Rename(tmp.Name(), s.path)
	f, err := os.OpenFile(s.path, os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	end, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		_ = f.Close()
		return err
	}
	s.f = f
	s.size = end
	return renameErr
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
