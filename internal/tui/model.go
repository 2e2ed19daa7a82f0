package tui

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"docrag/internal/domain"
	"docrag/internal/service"
)

// Backend is the TUI-facing subset of the service.
type Backend interface {
	Query(ctx context.Context, text string) service.QueryResult
}

type answerMsg struct {
	query  string
	result service.QueryResult
}

// Model is the Bubble Tea model for the chat UI.
type Model struct {
	backend   Backend
	timeout   time.Duration
	input     textinput.Model
	viewport  viewport.Model
	answer    string
	sources   []domain.RetrievalResult
	summary   string
	status    string
	cursor    int
	ready     bool
	busy      bool
	lastQuery string
}

// New creates a chat model. summary is shown under the header; each question
// gets at most timeout to answer (0 means no limit).
func New(backend Backend, summary string, timeout time.Duration) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{backend: backend, timeout: timeout, input: ti, viewport: vp, summary: summary, status: "Ready. Up/down flips through sources."}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key and window events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		// account for frames around result and query boxes
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header and summary, status, spacer
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-rh)
		m.viewport.SetContent(m.renderCurrent())
		return m, nil
	case answerMsg:
		m.busy = false
		m.lastQuery = msg.query
		m.answer = msg.result.Answer
		m.sources = msg.result.Sources
		m.cursor = 0
		if msg.result.Status == service.StatusError {
			m.status = "Error: " + msg.result.Message
		} else {
			m.status = fmt.Sprintf("Answered %q from %d sources", msg.query, len(m.sources))
		}
		m.viewport.SetContent(m.renderCurrent())
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q != "" && !m.busy {
				m.busy = true
				m.status = "Thinking..."
				m.input.SetValue("")
				return m, m.ask(q)
			}
		case "down":
			if len(m.sources) > 0 {
				m.cursor = (m.cursor + 1) % len(m.sources)
				m.viewport.SetContent(m.renderCurrent())
				return m, nil
			}
		case "up":
			if len(m.sources) > 0 {
				m.cursor = (m.cursor - 1 + len(m.sources)) % len(m.sources)
				m.viewport.SetContent(m.renderCurrent())
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) ask(q string) tea.Cmd {
	backend, timeout := m.backend, m.timeout
	return func() tea.Msg {
		ctx := context.Background()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return answerMsg{query: q, result: backend.Query(ctx, q)}
	}
}

// View renders the layout: answer and current source above the query box.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("docrag")
	summary := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.summary)
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	results := resultBoxStyle.Render(m.viewport.View())
	return header + "\n" + summary + "\n" + results + "\n" + input + "\n" + status
}

func (m Model) renderCurrent() string {
	if m.answer == "" && len(m.sources) == 0 {
		return "No answer yet."
	}
	var b strings.Builder
	b.WriteString(answerStyle.Render(m.answer))
	if len(m.sources) == 0 {
		return b.String()
	}
	r := m.sources[m.cursor]
	fmt.Fprintf(&b, "\n\nSource %d/%d  %s #%d  similarity=%.3f\n\n",
		m.cursor+1, len(m.sources), r.SourceName, r.Sequence, r.Similarity)
	b.WriteString(highlightBestSentence(r.Text, m.lastQuery))
	return b.String()
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	answerStyle    = lipgloss.NewStyle().Bold(true)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	unicodeWordRe  = regexp.MustCompile(`\p{L}+(?:['\x{2019}]\p{L}+)*`)
	sentenceRe     = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)
)

// highlightBestSentence renders the sentence sharing the most words with
// query in the highlight style.
func highlightBestSentence(text, query string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	sentences := sentenceRe.FindAllString(text, -1)
	if len(sentences) == 0 {
		sentences = []string{strings.TrimSpace(text)}
	}
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 {
		return strings.Join(sentences, " ")
	}
	best, _ := bestSentence(sentences, qTokens)
	for i := range sentences {
		sent := strings.TrimSpace(sentences[i])
		if i == best {
			sentences[i] = highlightStyle.Render(sent)
		} else {
			sentences[i] = sent
		}
	}
	return strings.Join(sentences, " ")
}

// bestSentence returns the index and score of the first sentence with the
// highest query word overlap.
func bestSentence(sentences []string, qTokens map[string]struct{}) (int, int) {
	bestIdx, bestScore := 0, -1
	for i, s := range sentences {
		if score := tokenOverlapScore(qTokens, s); score > bestScore {
			bestIdx, bestScore = i, score
		}
	}
	return bestIdx, bestScore
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	tokens := unicodeWordRe.FindAllString(strings.ToLower(sentence), -1)
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
