package chunker

import (
	"strings"
	"unicode/utf8"
)

// SplitRecursive splits on the first separator present in the text, re-splits
// oversized pieces with the remaining separators, and merges neighbours back
// up to size runes carrying about overlap runes of trailing context forward.
// A piece that no remaining separator can divide is emitted whole.
func SplitRecursive(text string, size, overlap int, separators []string) ([]string, error) {
	if err := validate(size, overlap); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if len(separators) == 0 {
		separators = DefaultSeparators
	}
	r := recursiveSplitter{size: size, overlap: overlap}
	return r.split(text, separators), nil
}

type recursiveSplitter struct {
	size    int
	overlap int
}

func (r recursiveSplitter) split(text string, separators []string) []string {
	sep := separators[len(separators)-1]
	var rest []string
	for i, s := range separators {
		if s == "" {
			sep = s
			rest = nil
			break
		}
		if strings.Contains(text, s) {
			sep = s
			rest = separators[i+1:]
			break
		}
	}

	var out, small []string
	for _, piece := range splitKeep(text, sep) {
		if runeLen(piece) <= r.size {
			small = append(small, piece)
			continue
		}
		if len(small) > 0 {
			out = append(out, r.merge(small)...)
			small = nil
		}
		if len(rest) == 0 {
			out = appendTrimmed(out, piece)
			continue
		}
		out = append(out, r.split(piece, rest)...)
	}
	if len(small) > 0 {
		out = append(out, r.merge(small)...)
	}
	return out
}

// merge packs pieces into chunks of at most size runes. When a chunk is
// emitted, leading pieces are dropped until at most overlap runes remain.
func (r recursiveSplitter) merge(pieces []string) []string {
	var out, window []string
	total := 0
	for _, p := range pieces {
		n := runeLen(p)
		if total+n > r.size && len(window) > 0 {
			out = appendTrimmed(out, strings.Join(window, ""))
			for len(window) > 0 && (total > r.overlap || total+n > r.size) {
				total -= runeLen(window[0])
				window = window[1:]
			}
		}
		window = append(window, p)
		total += n
	}
	if len(window) > 0 {
		out = appendTrimmed(out, strings.Join(window, ""))
	}
	return out
}

// splitKeep splits text on sep, leaving each separator at the end of the
// piece it terminates. An empty sep splits into runes.
func splitKeep(text, sep string) []string {
	if sep == "" {
		out := make([]string, 0, len(text))
		for _, r := range text {
			out = append(out, string(r))
		}
		return out
	}
	parts := strings.SplitAfter(text, sep)
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
