package chunker

import (
	"regexp"
	"strings"
)

var sentenceRe = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)

// SplitSentences groups size sentences per chunk, repeating the last overlap
// sentences of a chunk at the start of the next. Trailing text without a
// terminator counts as one more sentence.
func SplitSentences(text string, size, overlap int) ([]string, error) {
	if err := validate(size, overlap); err != nil {
		return nil, err
	}
	var sentences []string
	consumed := 0
	for _, loc := range sentenceRe.FindAllStringIndex(text, -1) {
		sentences = appendTrimmed(sentences, text[loc[0]:loc[1]])
		consumed = loc[1]
	}
	sentences = appendTrimmed(sentences, text[consumed:])
	if len(sentences) == 0 {
		return nil, nil
	}

	var chunks []string
	for i := 0; i < len(sentences); {
		end := i + size
		if end > len(sentences) {
			end = len(sentences)
		}
		chunks = append(chunks, strings.Join(sentences[i:end], " "))
		if end == len(sentences) {
			break
		}
		i = end - overlap
	}
	return chunks, nil
}
