package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"transcriptrag/internal/domain"
	"transcriptrag/internal/tokenize"
)

// Port is the TUI-facing subset of the retrieval service.
type Port interface {
	Search(ctx context.Context, query string, topK int) ([]domain.SearchResult, error)
	Chat(ctx context.Context, query string, topK int) (domain.ChatResponse, error)
}

// answerMsg carries the outcome of one question back into Update.
type answerMsg struct {
	query   string
	answer  string
	results []domain.SearchResult
	err     error
}

// Model is the Bubble Tea model for the chat application.
type Model struct {
	ctx       context.Context
	service   Port
	topK      int
	input     textinput.Model
	viewport  viewport.Model
	answer    string
	results   []domain.SearchResult
	summary   string
	status    string
	cursor    int
	ready     bool
	busy      bool
	lastQuery string
}

// New creates a new TUI model. summary is shown under the header.
func New(ctx context.Context, service Port, topK int, summary string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about the transcripts and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{
		ctx:      ctx,
		service:  service,
		topK:     topK,
		input:    ti,
		viewport: vp,
		summary:  summary,
		status:   "Ready. Up/Down cycles sources, Ctrl+C quits.",
	}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// ask retrieves once: Chat carries its sources, and Search is only used
// when no generator is configured.
func (m Model) ask(query string) tea.Cmd {
	return func() tea.Msg {
		resp, err := m.service.Chat(m.ctx, query, m.topK)
		if errors.Is(err, domain.ErrGeneratorUnavailable) {
			results, err := m.service.Search(m.ctx, query, m.topK)
			return answerMsg{query: query, results: results, err: err}
		}
		return answerMsg{query: query, answer: resp.Answer, results: resp.Sources, err: err}
	}
}

// Update handles key and window events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		// account for frames around result and query boxes
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header+summary, status, spacer
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, max(3, msg.Height-reserved)-rh)
		m.viewport.SetContent(m.render())
		return m, nil
	case answerMsg:
		m.busy = false
		m.lastQuery = msg.query
		m.cursor = 0
		m.answer = msg.answer
		m.results = msg.results
		switch {
		case msg.err != nil:
			m.status = "Error: " + msg.err.Error()
		case len(msg.results) == 0:
			m.status = fmt.Sprintf("No sources for %q", msg.query)
		default:
			m.status = fmt.Sprintf("%d sources for %q", len(msg.results), msg.query)
		}
		m.viewport.SetContent(m.render())
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
				m.status = "Searching..."
				m.input.SetValue("")
				return m, m.ask(q)
			}
		case "down":
			if len(m.results) > 0 {
				m.cursor = (m.cursor + 1) % len(m.results)
				m.viewport.SetContent(m.render())
				return m, nil
			}
		case "up":
			if len(m.results) > 0 {
				m.cursor = (m.cursor - 1 + len(m.results)) % len(m.results)
				m.viewport.SetContent(m.render())
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the layout.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("Transcript Chat")
	summary := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.summary)
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	results := resultBoxStyle.Render(m.viewport.View())
	return header + "\n" + summary + "\n" + results + "\n" + input + "\n" + status
}

func (m Model) render() string {
	var b strings.Builder
	if m.answer != "" {
		b.WriteString(answerStyle.Render("Answer"))
		b.WriteString("\n")
		b.WriteString(m.answer)
		b.WriteString("\n\n")
	}
	if len(m.results) == 0 {
		if m.lastQuery == "" {
			b.WriteString("No results yet.")
		} else {
			b.WriteString("No relevant context found.")
		}
		return b.String()
	}
	r := m.results[m.cursor]
	fmt.Fprintf(&b, "Source %d/%d  %s (chunk %d/%d)  %s=%.3f\n\n",
		m.cursor+1, len(m.results), r.Metadata.Title, r.Metadata.ChunkIndex+1, r.Metadata.TotalChunks, r.Ranking, r.Score)
	b.WriteString(highlightBestSentence(r.Content, m.lastQuery))
	return b.String()
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	answerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
)

func highlightBestSentence(text, query string) string {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return text
	}
	bestIdx, bestScore := -1, 0
	for i, s := range sentences {
		if score := overlap(query, s); score > bestScore {
			bestScore, bestIdx = score, i
		}
	}
	if bestIdx >= 0 {
		sentences[bestIdx] = highlightStyle.Render(sentences[bestIdx])
	}
	return strings.Join(sentences, " ")
}

func splitSentences(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(text[start : i+1]); s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

// overlap counts distinct query terms present in sentence.
func overlap(query, sentence string) int {
	have := map[string]struct{}{}
	for _, t := range tokenize.Terms(sentence) {
		have[t] = struct{}{}
	}
	score := 0
	seen := map[string]struct{}{}
	for _, t := range tokenize.Terms(query) {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := have[t]; ok {
			score++
		}
	}
	return score
}
