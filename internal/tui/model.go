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

	"bioscout/internal/domain"
)

const requestTimeout = 30 * time.Second

// RAGPort is the TUI-facing subset of the RAG service.
type RAGPort interface {
	Ask(ctx context.Context, question, userID string) (domain.AnswerResult, error)
}

type mode int

const (
	modeAnswer mode = iota
	modeChunks
)

// answeredMsg carries the outcome of a question back into Update.
type answeredMsg struct {
	question string
	answer   domain.AnswerResult
	err      error
}

// Model is the Bubble Tea model for the TUI application.
type Model struct {
	service  RAGPort
	userID   string
	input    textinput.Model
	viewport viewport.Model
	answer   *domain.AnswerResult
	results  []domain.SearchResult
	summary  string
	status   string
	cursor   int
	mode     mode
	ready    bool
	busy     bool
	lastQ    string
}

// New creates a new TUI model instance. summary is shown under the header.
func New(service RAGPort, userID string, summary string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about Islamabad's wildlife and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{
		service:  service,
		userID:   userID,
		input:    ti,
		viewport: vp,
		summary:  summary,
		status:   "Ready. Enter asks, Tab switches answer/chunks, Up/Down browses chunks.",
	}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) ask(question string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		answer, err := m.service.Ask(ctx, question, m.userID)
		return answeredMsg{question: question, answer: answer, err: err}
	}
}

// Update handles key and window events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		header := 2 + strings.Count(m.summary, "\n")
		reserved := header + 1 + qh + 1 // status, spacer
		vh := msg.Height - reserved
		if vh < 3 {
			vh = 3
		}
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, vh-rh)
		m.viewport.SetContent(m.render())
		return m, nil
	case answeredMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
		} else {
			answer := msg.answer
			m.answer = &answer
			m.results = answer.Retrieved
			m.cursor = 0
			m.lastQ = msg.question
			m.status = fmt.Sprintf("Answered %q from %d sources", msg.question, len(answer.Sources))
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
				m.status = "Thinking..."
				m.input.SetValue("")
				return m, m.ask(q)
			}
		case "tab":
			if m.mode == modeAnswer {
				m.mode = modeChunks
			} else {
				m.mode = modeAnswer
			}
			m.viewport.SetContent(m.render())
			return m, nil
		case "down":
			if m.mode == modeChunks && len(m.results) > 0 {
				m.cursor = (m.cursor + 1) % len(m.results)
				m.viewport.SetContent(m.render())
				return m, nil
			}
		case "up":
			if m.mode == modeChunks && len(m.results) > 0 {
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

// View renders the TUI layout and current result.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("BioScout Islamabad")
	summary := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.summary)
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	results := resultBoxStyle.Render(m.viewport.View())
	return header + "\n" + summary + "\n" + results + "\n" + input + "\n" + status
}

func (m Model) render() string {
	if m.mode == modeChunks {
		return m.renderCurrentResult()
	}
	return m.renderAnswer()
}

func (m Model) renderAnswer() string {
	if m.answer == nil {
		return "No answer yet."
	}
	var sb strings.Builder
	sb.WriteString(m.answer.Answer)
	if len(m.answer.Sources) > 0 {
		sb.WriteString("\n\n")
		sb.WriteString(labelStyle.Render("Sources"))
		for _, s := range m.answer.Sources {
			sb.WriteString("\n  • " + s)
		}
	}
	if len(m.answer.FollowUpQuestions) > 0 {
		sb.WriteString("\n\n")
		sb.WriteString(labelStyle.Render("You could also ask"))
		for _, q := range m.answer.FollowUpQuestions {
			sb.WriteString("\n  ? " + q)
		}
	}
	return sb.String()
}

func (m Model) renderCurrentResult() string {
	if len(m.results) == 0 {
		return "No results yet."
	}
	r := m.results[m.cursor]
	title := fmt.Sprintf("Chunk %d/%d  %s  score=%.3f", m.cursor+1, len(m.results), r.Chunk.ID, r.Score)
	body := highlightBestSentence(r.Chunk.Text, m.lastQ)
	return title + "\n\n" + body
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	labelStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	unicodeWordRe  = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentenceRe     = regexp.MustCompile(`(?m)(?U)([^.!?\n]+[.!?\n])`)
)

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
	bestIdx := 0
	bestScore := -1
	for i, s := range sentences {
		score := tokenOverlapScore(qTokens, s)
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	for i := range sentences {
		sent := strings.TrimSpace(sentences[i])
		if i == bestIdx {
			sentences[i] = highlightStyle.Render(sent)
		} else {
			sentences[i] = sent
		}
	}
	return strings.Join(sentences, "\n")
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
