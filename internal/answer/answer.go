// Package answer turns a question into a grounded answer: embed, retrieve,
// build a bounded prompt and ask the completer.
package answer

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"docrag/internal/completion"
	"docrag/internal/domain"
)

// NoData is returned, without calling the completer, when nothing is retrieved.
const NoData = "No data available. Please upload a file first."

// Corpus embeds queries the way its rows were embedded.
type Corpus interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Len() int
}

// Config tunes retrieval and prompt size.
type Config struct {
	TopK            int
	MaxContextChars int
}

// Orchestrator wires the query path.
type Orchestrator struct {
	corpus    Corpus
	searcher  domain.Searcher
	completer domain.Completer
	cfg       Config
	logger    *log.Logger
}

// New creates an orchestrator. Zero config values fall back to top_k 5 and
// 6000 context characters.
func New(corpus Corpus, searcher domain.Searcher, completer domain.Completer, cfg Config, logger *log.Logger) *Orchestrator {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.MaxContextChars <= 0 {
		cfg.MaxContextChars = 6000
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Orchestrator{corpus: corpus, searcher: searcher, completer: completer, cfg: cfg, logger: logger}
}

// Answer retrieves context for query and asks the completer. On completion
// failure the retrieved sources are still returned alongside the error, which
// carries the raw collaborator payload.
func (o *Orchestrator) Answer(ctx context.Context, query string) (domain.Answer, error) {
	if strings.TrimSpace(query) == "" {
		return domain.Answer{}, fmt.Errorf("%w: empty query", domain.ErrInvalidInput)
	}
	if o.corpus.Len() == 0 {
		return domain.Answer{Text: NoData, Sources: []domain.RetrievalResult{}}, nil
	}
	sources, err := o.Retrieve(ctx, query, o.cfg.TopK)
	if err != nil {
		return domain.Answer{}, err
	}
	if len(sources) == 0 {
		return domain.Answer{Text: NoData, Sources: sources}, nil
	}
	prompt := completion.BuildPrompt(query, Context(sources, o.cfg.MaxContextChars))
	text, err := o.completer.Complete(ctx, prompt)
	if err != nil {
		o.logger.Printf("completion via %s failed: %v", o.completer.Name(), err)
		return domain.Answer{Sources: sources}, fmt.Errorf("complete: %w", err)
	}
	return domain.Answer{Text: text, Sources: sources}, nil
}

// Retrieve embeds query and returns the k best chunks.
func (o *Orchestrator) Retrieve(ctx context.Context, query string, k int) ([]domain.RetrievalResult, error) {
	vec, err := o.corpus.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	res, err := o.searcher.Search(ctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return res, nil
}

// Context returns the texts of results in order, stopping before the total
// would exceed maxChars runes. The first text is always included, cut to
// maxChars if needed.
func Context(results []domain.RetrievalResult, maxChars int) []string {
	var out []string
	used := 0
	for i, r := range results {
		n := len([]rune(r.Text))
		if i > 0 {
			// blank line joining passages
			n += 2
		}
		if used+n > maxChars {
			if i == 0 {
				out = append(out, string([]rune(r.Text)[:maxChars]))
			}
			break
		}
		out = append(out, r.Text)
		used += n
	}
	return out
}
