// Package completion holds the prompt template shared by the completers.
package completion

import "strings"

const (
	preamble = "You are a document assistant. Answer directly and do not mention that you were given context or text. " +
		"You may draw on general knowledge, but prefer the context below.\n\n"
	contextHeader  = "Context:\n"
	questionHeader = "\n\nQuestion: "
	answerCue      = "\nAnswer:"
)

// BuildPrompt joins passages with blank lines under an instruction preamble.
func BuildPrompt(question string, passages []string) string {
	var b strings.Builder
	b.WriteString(preamble)
	b.WriteString(contextHeader)
	b.WriteString(strings.Join(passages, "\n\n"))
	b.WriteString(questionHeader)
	b.WriteString(strings.TrimSpace(question))
	b.WriteString(answerCue)
	return b.String()
}

// ParsePrompt recovers the context block and question from a BuildPrompt
// result. ok is false for prompts in any other shape.
func ParsePrompt(prompt string) (context, question string, ok bool) {
	start := strings.Index(prompt, contextHeader)
	q := strings.LastIndex(prompt, questionHeader)
	if start < 0 || q < start {
		return "", "", false
	}
	context = prompt[start+len(contextHeader) : q]
	question = strings.TrimSuffix(prompt[q+len(questionHeader):], answerCue)
	return context, strings.TrimSpace(question), true
}
