// Package chunkstore holds helpers shared by the ChunkStore backends.
package chunkstore

import (
	"fmt"
	"strings"

	"docrag/internal/domain"
)

// ValidateAppend rejects batches whose source name or texts are blank.
func ValidateAppend(source string, texts []string) error {
	if strings.TrimSpace(source) == "" {
		return fmt.Errorf("%w: empty source name", domain.ErrInvalidInput)
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return fmt.Errorf("%w: chunk %d of %s is empty", domain.ErrInvalidInput, i+1, source)
		}
	}
	return nil
}

// Build assigns consecutive ids from nextID and sequences after lastSeq.
func Build(source string, texts []string, nextID int64, lastSeq int) []domain.Chunk {
	out := make([]domain.Chunk, len(texts))
	for i, t := range texts {
		out[i] = domain.Chunk{
			ID:         nextID + int64(i),
			SourceName: source,
			Sequence:   lastSeq + i + 1,
			Text:       t,
		}
	}
	return out
}

// CheckEmbeddings rejects vectors for unknown chunks or with differing lengths.
func CheckEmbeddings(embedded []domain.EmbeddedChunk, known func(id int64) bool) error {
	dim := -1
	for _, ec := range embedded {
		if !known(ec.ID) {
			return fmt.Errorf("%w: chunk %d does not exist", domain.ErrInvalidInput, ec.ID)
		}
		if len(ec.Vector) == 0 {
			return fmt.Errorf("%w: chunk %d has an empty vector", domain.ErrInvalidInput, ec.ID)
		}
		if dim >= 0 && len(ec.Vector) != dim {
			return fmt.Errorf("%w: mixed vector dimensions %d and %d", domain.ErrInvalidInput, dim, len(ec.Vector))
		}
		dim = len(ec.Vector)
	}
	return nil
}
