package memory

import (
	"testing"

	"docrag/internal/chunkstore/storetest"
	"docrag/internal/domain"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) domain.ChunkStore { return New() })
}
