package domain

import "context"

// Chunk is a bounded segment of one source document's extracted text.
// Chunks are immutable once appended to a ChunkStore.
type Chunk struct {
	ID         int64  `json:"chunk_id"`
	SourceName string `json:"file_name"`
	Sequence   int    `json:"sequence"`
	Text       string `json:"content"`
}

// EmbeddedChunk is a Chunk with its unit-length embedding attached.
type EmbeddedChunk struct {
	Chunk
	Vector []float32 `json:"embedding"`
}

// RetrievalResult is a chunk ranked against a query vector.
type RetrievalResult struct {
	ChunkID    int64   `json:"chunk_id"`
	SourceName string  `json:"file_name"`
	Sequence   int     `json:"sequence"`
	Text       string  `json:"content"`
	Similarity float64 `json:"similarity"`
}

// Answer is the orchestrator's reply to a question.
type Answer struct {
	Text    string            `json:"answer"`
	Sources []RetrievalResult `json:"chunks"`
}

// Tokenizer maps text to vocabulary token ids and back.
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

// Chunker splits extracted text into ordered, non-empty segments.
type Chunker interface {
	Chunk(text string) ([]string, error)
}

// Embedder converts texts into fixed-length vectors, one per input, in order.
type Embedder interface {
	Name() string
	// Dimension is the vector length, or 0 when it is only known after the first call.
	Dimension() int
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Completer sends a prompt to a generative model and returns its text.
type Completer interface {
	Name() string
	Complete(ctx context.Context, prompt string) (string, error)
}

// Extractor returns the plain text of a file.
type Extractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

// ChunkStore durably records chunks and their embeddings.
type ChunkStore interface {
	// Append assigns ids and per-source sequence numbers to texts and
	// commits them as one batch.
	Append(ctx context.Context, source string, texts []string) ([]Chunk, error)
	// ListAll returns every committed chunk in id order.
	ListAll(ctx context.Context) ([]Chunk, error)
	// SaveEmbeddings commits every vector or none of them. A chunk that
	// already has a vector is overwritten.
	SaveEmbeddings(ctx context.Context, embedded []EmbeddedChunk) error
	// LoadEmbeddings returns every chunk that has a vector, in id order.
	LoadEmbeddings(ctx context.Context) ([]EmbeddedChunk, error)
	// Reset drops the whole corpus. Chunk ids are not reused afterwards.
	Reset(ctx context.Context) error
	Close() error
}

// Searcher ranks corpus chunks against a unit-length query vector.
type Searcher interface {
	Search(ctx context.Context, query []float32, k int) ([]RetrievalResult, error)
}
