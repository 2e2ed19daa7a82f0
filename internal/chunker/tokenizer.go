package chunker

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"

	"docrag/internal/domain"
)

// DefaultTokenModel selects the BPE vocabulary when none is configured.
const DefaultTokenModel = "gpt-3.5-turbo"

var loaderOnce sync.Once

// TiktokenTokenizer wraps a tiktoken encoding. BPE ranks are read from the
// embedded offline loader, so no network access is needed.
type TiktokenTokenizer struct {
	enc *tiktoken.Tiktoken
}

// NewTiktoken resolves name as a model first and as an encoding second
// (for example "gpt-4o" or "cl100k_base").
func NewTiktoken(name string) (*TiktokenTokenizer, error) {
	loaderOnce.Do(func() { tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader()) })
	if name == "" {
		name = DefaultTokenModel
	}
	enc, err := tiktoken.EncodingForModel(name)
	if err != nil {
		var encErr error
		enc, encErr = tiktoken.GetEncoding(name)
		if encErr != nil {
			return nil, fmt.Errorf("%w: unknown token encoding %q: %v", domain.ErrInvalidConfig, name, err)
		}
	}
	return &TiktokenTokenizer{enc: enc}, nil
}

func (t *TiktokenTokenizer) Encode(text string) []int { return t.enc.Encode(text, nil, nil) }

func (t *TiktokenTokenizer) Decode(tokens []int) string { return t.enc.Decode(tokens) }
