// Package service is the boundary the CLI, TUI and HTTP server talk to.
// Ingest and Query never return raw errors; failures become error results.
package service

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"docrag/internal/answer"
	"docrag/internal/domain"
	"docrag/internal/vectorstore"
)

// Status is the outcome of an entry point call.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// IngestResult reports one file's ingestion.
type IngestResult struct {
	Status  Status `json:"status"`
	Message string `json:"message"`
	RunID   string `json:"run_id"`
	Source  string `json:"file_name,omitempty"`
	Chunks  int    `json:"chunks"`
	// Err is the underlying failure, kept for transport-level mapping.
	Err error `json:"-"`
}

// QueryResult is the answer to one question.
type QueryResult struct {
	Status  Status                   `json:"status"`
	Message string                   `json:"message,omitempty"`
	Answer  string                   `json:"answer"`
	Sources []domain.RetrievalResult `json:"chunks"`
	Payload string                   `json:"payload,omitempty"`
	Err     error                    `json:"-"`
}

// Stats summarises the corpus.
type Stats struct {
	Chunks    int           `json:"chunks"`
	Embedded  int           `json:"embedded"`
	Pending   int           `json:"pending"`
	Dimension int           `json:"dimension"`
	Uptime    time.Duration `json:"uptime"`
}

// Service wires extraction, chunking, storage and the answer path.
type Service struct {
	extractor domain.Extractor
	chunker   domain.Chunker
	chunks    domain.ChunkStore
	vectors   *vectorstore.Store
	answers   *answer.Orchestrator
	topK      int
	workers   int
	logger    *log.Logger
	started   time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option { return func(s *Service) { s.logger = l } }

// WithWorkers bounds concurrent ingestions in IngestAll (default 4).
func WithWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithTopK sets the default k for Search (default 5).
func WithTopK(k int) Option {
	return func(s *Service) {
		if k > 0 {
			s.topK = k
		}
	}
}

// New creates a Service. vectors must wrap chunks.
func New(extractor domain.Extractor, chunker domain.Chunker, chunks domain.ChunkStore, vectors *vectorstore.Store, answers *answer.Orchestrator, opts ...Option) *Service {
	s := &Service{
		extractor: extractor,
		chunker:   chunker,
		chunks:    chunks,
		vectors:   vectors,
		answers:   answers,
		topK:      5,
		workers:   4,
		logger:    log.New(io.Discard, "", 0),
		started:   time.Now(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Ingest extracts, chunks, stores and embeds one file. When embedding fails
// the chunks stay stored but unretrievable until Backfill succeeds.
func (s *Service) Ingest(ctx context.Context, path string) IngestResult {
	res := IngestResult{RunID: uuid.NewString(), Source: filepath.Base(path)}
	fail := func(err error) IngestResult {
		res.Status, res.Message, res.Err = StatusError, err.Error(), err
		s.logger.Printf("run %s: %s: %v", res.RunID, path, err)
		return res
	}

	text, err := s.extractor.Extract(ctx, path)
	if err != nil {
		return fail(err)
	}
	texts, err := s.chunker.Chunk(text)
	if err != nil {
		return fail(fmt.Errorf("chunk: %w", err))
	}
	if len(texts) == 0 {
		return fail(fmt.Errorf("%w: %s produced no chunks", domain.ErrExtractionEmpty, res.Source))
	}
	chunks, err := s.chunks.Append(ctx, res.Source, texts)
	if err != nil {
		return fail(fmt.Errorf("store chunks: %w", err))
	}
	res.Chunks = len(chunks)
	if _, err := s.vectors.EmbedAndAttach(ctx, chunks); err != nil {
		return fail(fmt.Errorf("stored %d chunks but embedding failed, run backfill to retry: %w", len(chunks), err))
	}
	res.Status = StatusSuccess
	res.Message = fmt.Sprintf("Extracted %d chunks from %s and updated embeddings", len(chunks), res.Source)
	s.logger.Printf("run %s: %s", res.RunID, res.Message)
	return res
}

// IngestAll ingests every path, expanding glob patterns, with at most the
// configured number of files in flight. Results are in input order.
func (s *Service) IngestAll(ctx context.Context, patterns []string) []IngestResult {
	var paths []string
	for _, p := range patterns {
		matches, _ := filepath.Glob(p)
		if matches == nil {
			matches = []string{p}
		}
		paths = append(paths, matches...)
	}
	out := make([]IngestResult, len(paths))
	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			out[i] = s.Ingest(ctx, p)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Query answers text from the corpus.
func (s *Service) Query(ctx context.Context, text string) QueryResult {
	ans, err := s.answers.Answer(ctx, text)
	if err != nil {
		s.logger.Printf("query failed: %v", err)
		return QueryResult{
			Status:  StatusError,
			Message: err.Error(),
			Sources: nonNil(ans.Sources),
			Payload: domain.RawPayload(err),
			Err:     err,
		}
	}
	return QueryResult{Status: StatusSuccess, Answer: ans.Text, Sources: nonNil(ans.Sources)}
}

// Search returns the k chunks closest to text without calling the completer.
// k <= 0 uses the configured default.
func (s *Service) Search(ctx context.Context, text string, k int) ([]domain.RetrievalResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty query", domain.ErrInvalidInput)
	}
	if k <= 0 {
		k = s.topK
	}
	if s.vectors.Len() == 0 {
		return []domain.RetrievalResult{}, nil
	}
	return s.answers.Retrieve(ctx, text, k)
}

// Backfill embeds every stored chunk that has no vector yet.
func (s *Service) Backfill(ctx context.Context) IngestResult {
	res := IngestResult{RunID: uuid.NewString()}
	pending, err := s.vectors.Pending(ctx)
	if err == nil && len(pending) > 0 {
		_, err = s.vectors.EmbedAndAttach(ctx, pending)
	}
	if err != nil {
		res.Status, res.Message, res.Err = StatusError, err.Error(), err
		s.logger.Printf("run %s: backfill: %v", res.RunID, err)
		return res
	}
	res.Status, res.Chunks = StatusSuccess, len(pending)
	if len(pending) == 0 {
		res.Message = "No pending chunks"
	} else {
		res.Message = fmt.Sprintf("Embeddings updated for %d chunks", len(pending))
	}
	s.logger.Printf("run %s: %s", res.RunID, res.Message)
	return res
}

// Reset drops the whole corpus.
func (s *Service) Reset(ctx context.Context) error {
	if err := s.vectors.Reset(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	s.logger.Printf("corpus reset")
	return nil
}

// Stats counts stored, embedded and pending chunks.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	all, err := s.chunks.ListAll(ctx)
	if err != nil {
		return Stats{}, err
	}
	embedded := s.vectors.Len()
	return Stats{
		Chunks:    len(all),
		Embedded:  embedded,
		Pending:   max(0, len(all)-embedded),
		Dimension: s.vectors.Dimension(),
		Uptime:    time.Since(s.started).Round(time.Second),
	}, nil
}

func nonNil(r []domain.RetrievalResult) []domain.RetrievalResult {
	if r == nil {
		return []domain.RetrievalResult{}
	}
	return r
}
