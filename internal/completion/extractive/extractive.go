// Package extractive answers from the retrieved context alone by picking the
// sentences that best cover the question. It needs no network access.
package extractive

import (
	"context"
	"errors"
	"math"
	"regexp"
	"sort"
	"strings"

	"docrag/internal/completion"
	"docrag/internal/domain"
)

// Completer ranks context sentences by word frequency (stopwords filtered)
// plus overlap with the question.
type Completer struct {
	maxSentences int
	tokenPattern *regexp.Regexp
	sentencePat  *regexp.Regexp
	stopwords    map[string]struct{}
}

// New creates an extractive completer returning at most maxSentences sentences.
func New(maxSentences int) *Completer {
	if maxSentences <= 0 {
		maxSentences = 3
	}
	return &Completer{
		maxSentences: maxSentences,
		tokenPattern: regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`),
		sentencePat:  regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`),
		stopwords:    defaultStopwords(),
	}
}

func (c *Completer) Name() string { return "extractive" }

// Complete answers a prompt built by completion.BuildPrompt. Any other prompt
// is summarised as a whole.
func (c *Completer) Complete(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text, question, ok := completion.ParsePrompt(prompt)
	if !ok {
		text = prompt
	}
	answer := c.Summarize(text, question)
	if answer == "" {
		return "", &domain.CollaboratorError{
			Kind:    domain.ErrCompletionFailure,
			Op:      "extractive",
			Payload: prompt,
			Err:     errors.New("context has no text"),
		}
	}
	return answer, nil
}

// Summarize returns the best sentences of text in their original order.
func (c *Completer) Summarize(text, question string) string {
	sentences := c.sentences(text)
	if len(sentences) == 0 {
		return strings.TrimSpace(text)
	}
	freq := map[string]float64{}
	for _, sent := range sentences {
		for _, tok := range c.tokens(sent) {
			freq[tok]++
		}
	}
	maxF := 0.0
	for _, v := range freq {
		maxF = math.Max(maxF, v)
	}
	if maxF > 0 {
		for k, v := range freq {
			freq[k] = v / maxF
		}
	}
	asked := map[string]struct{}{}
	for _, tok := range c.tokens(question) {
		asked[tok] = struct{}{}
	}

	type pair struct {
		idx   int
		score float64
	}
	scores := make([]pair, len(sentences))
	for i, sent := range sentences {
		toks := c.tokens(sent)
		score := 0.0
		seen := map[string]struct{}{}
		for _, tok := range toks {
			score += freq[tok]
			if _, dup := seen[tok]; dup {
				continue
			}
			seen[tok] = struct{}{}
			if _, ok := asked[tok]; ok {
				score += 2
			}
		}
		// length normalisation keeps long sentences from dominating
		if n := float64(len(toks)); n > 0 {
			score /= math.Sqrt(n)
		}
		scores[i] = pair{i, score}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	n := min(c.maxSentences, len(scores))
	selected := make([]int, n)
	for i := 0; i < n; i++ {
		selected[i] = scores[i].idx
	}
	sort.Ints(selected)
	out := make([]string, 0, n)
	for _, idx := range selected {
		out = append(out, sentences[idx])
	}
	return strings.Join(out, " ")
}

func (c *Completer) sentences(text string) []string {
	var out []string
	consumed := 0
	for _, loc := range c.sentencePat.FindAllStringIndex(text, -1) {
		if s := strings.Join(strings.Fields(text[loc[0]:loc[1]]), " "); s != "" {
			out = append(out, s)
		}
		consumed = loc[1]
	}
	if s := strings.Join(strings.Fields(text[consumed:]), " "); s != "" {
		out = append(out, s)
	}
	return out
}

func (c *Completer) tokens(text string) []string {
	raw := c.tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, t := range raw {
		if _, stop := c.stopwords[t]; !stop {
			out = append(out, t)
		}
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
		"what", "which", "who", "how", "why", "when", "does", "do", "did",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
