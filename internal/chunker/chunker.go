package chunker

import (
	"fmt"
	"strings"

	"docrag/internal/domain"
)

// Strategy selects the chunk boundary policy.
type Strategy string

const (
	// TokenWindow takes fixed windows of tokenizer tokens.
	TokenWindow Strategy = "token"
	// RecursiveSeparator splits on a priority list of separators and merges pieces up to size runes.
	RecursiveSeparator Strategy = "recursive"
	// Sentence groups size sentences per chunk, overlapping by overlap sentences.
	Sentence Strategy = "sentence"
)

// DefaultSeparators are tried in order by the recursive strategy.
var DefaultSeparators = []string{"\n\n", "\n", ".", " ", ""}

// Config configures a Chunker.
type Config struct {
	Strategy   Strategy
	Size       int
	Overlap    int
	Separators []string
}

// Chunker applies one configured strategy to every document.
type Chunker struct {
	cfg       Config
	tokenizer domain.Tokenizer
}

// New validates cfg and returns a Chunker. tok is required for TokenWindow only.
func New(cfg Config, tok domain.Tokenizer) (*Chunker, error) {
	if cfg.Strategy == "" {
		cfg.Strategy = TokenWindow
	}
	if err := validate(cfg.Size, cfg.Overlap); err != nil {
		return nil, err
	}
	switch cfg.Strategy {
	case TokenWindow:
		if tok == nil {
			return nil, fmt.Errorf("%w: token strategy needs a tokenizer", domain.ErrInvalidConfig)
		}
	case RecursiveSeparator:
		if len(cfg.Separators) == 0 {
			cfg.Separators = DefaultSeparators
		}
	case Sentence:
	default:
		return nil, fmt.Errorf("%w: unknown chunk strategy %q", domain.ErrInvalidConfig, cfg.Strategy)
	}
	return &Chunker{cfg: cfg, tokenizer: tok}, nil
}

// Chunk splits text with the configured strategy.
func (c *Chunker) Chunk(text string) ([]string, error) {
	switch c.cfg.Strategy {
	case TokenWindow:
		return SplitTokens(text, c.cfg.Size, c.cfg.Overlap, c.tokenizer)
	case RecursiveSeparator:
		return SplitRecursive(text, c.cfg.Size, c.cfg.Overlap, c.cfg.Separators)
	default:
		return SplitSentences(text, c.cfg.Size, c.cfg.Overlap)
	}
}

// Split is a one-shot helper for callers that do not keep a Chunker.
func Split(text string, size, overlap int, strategy Strategy, tok domain.Tokenizer) ([]string, error) {
	c, err := New(Config{Strategy: strategy, Size: size, Overlap: overlap}, tok)
	if err != nil {
		return nil, err
	}
	return c.Chunk(text)
}

func validate(size, overlap int) error {
	if size <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", domain.ErrInvalidConfig, size)
	}
	if overlap < 0 || overlap >= size {
		return fmt.Errorf("%w: overlap %d must be in [0, %d)", domain.ErrInvalidConfig, overlap, size)
	}
	return nil
}

func appendTrimmed(out []string, s string) []string {
	if t := strings.TrimSpace(s); t != "" {
		out = append(out, t)
	}
	return out
}
