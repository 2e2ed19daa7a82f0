package chunker

import (
	"strings"

	"docrag/internal/domain"
)

// SplitTokens cuts text into windows of size tokens starting at multiples of
// size-overlap. The last window is the first one that reaches the final token.
func SplitTokens(text string, size, overlap int, tok domain.Tokenizer) ([]string, error) {
	if err := validate(size, overlap); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	tokens := tok.Encode(text)
	step := size - overlap
	var chunks []string
	for start := 0; start < len(tokens); start += step {
		end := start + size
		if end > len(tokens) {
			end = len(tokens)
		}
		chunks = appendTrimmed(chunks, tok.Decode(tokens[start:end]))
		if end == len(tokens) {
			break
		}
	}
	return chunks, nil
}
