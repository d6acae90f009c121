package tui

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"docqa/internal/grounding"
	"docqa/internal/service"
)

// Asker is the TUI-facing subset of the service.
type Asker interface {
	Ask(ctx context.Context, doc *service.Document, query string) (*service.Answer, error)
}

type answerMsg struct {
	answer *service.Answer
	err    error
}

// Model is the Bubble Tea model of the document viewer.
type Model struct {
	ctx         context.Context
	asker       Asker
	doc         *service.Document
	input       textinput.Model
	viewport    viewport.Model
	answer      *service.Answer
	highlighted map[string]bool
	offsets     map[string]int
	status      string
	busy        bool
	ready       bool
}

// New creates a viewer for doc.
func New(ctx context.Context, asker Asker, doc *service.Document) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question about the document and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{
		ctx:      ctx,
		asker:    asker,
		doc:      doc,
		input:    ti,
		viewport: vp,
		status:   fmt.Sprintf("Loaded %d units. Ask away.", len(doc.Units)),
	}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key, window and answer events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, dh := documentBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 1 + answerLines + qh + 1 + 1 // header, answer, query, status, spacer
		m.viewport.Width = max(20, msg.Width-2)
		m.viewport.Height = max(3, msg.Height-reserved-dh)
		m.refresh()
		return m, nil
	case answerMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			return m, nil
		}
		m.answer = msg.answer
		m.highlighted = msg.answer.Grounding.Highlighted()
		m.status = fmt.Sprintf("%d passages retrieved, %d units highlighted", len(msg.answer.Retrieval.Top), len(m.highlighted))
		m.refresh()
		m.scrollToMostRelevant()
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.busy {
				return m, nil
			}
			m.busy = true
			m.status = fmt.Sprintf("Thinking about %q...", q)
			m.input.SetValue("")
			return m, m.ask(q)
		case "up", "down", "pgup", "pgdown":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) ask(q string) tea.Cmd {
	ctx, asker, doc := m.ctx, m.asker, m.doc
	return func() tea.Msg {
		a, err := asker.Ask(ctx, doc, q)
		return answerMsg{answer: a, err: err}
	}
}

// View renders the document, the latest answer, the query box and status.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("docqa  " + m.doc.Source.Path)
	body := documentBoxStyle.Render(m.viewport.View())
	answer := answerStyle.Width(max(20, m.viewport.Width)).Height(answerLines).Render(m.answerText())
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	return header + "\n" + body + "\n" + answer + "\n" + input + "\n" + status
}

func (m Model) answerText() string {
	if m.answer == nil {
		return "No answer yet."
	}
	return "Q: " + m.answer.Query + "\nA: " + m.answer.Text
}

// refresh re-renders the document and records the first line of every unit.
func (m *Model) refresh() {
	content, offsets := renderUnits(m.doc.Units, m.highlighted, m.mostRelevant(), m.answerBody(), m.viewport.Width)
	m.offsets = offsets
	m.viewport.SetContent(content)
}

func (m *Model) scrollToMostRelevant() {
	if off, ok := m.offsets[m.mostRelevant()]; ok {
		m.viewport.SetYOffset(off)
	}
}

func (m Model) mostRelevant() string {
	if m.answer == nil {
		return ""
	}
	return m.answer.Grounding.MostRelevantUnitID
}

func (m Model) answerBody() string {
	if m.answer == nil {
		return ""
	}
	return m.answer.Text
}

const answerLines = 3

var (
	documentBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	answerStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	headingStyle     = lipgloss.NewStyle().Bold(true).Underline(true)
	highlightStyle   = lipgloss.NewStyle().Background(lipgloss.Color("229")).Foreground(lipgloss.Color("0"))
	bestSentence     = lipgloss.NewStyle().Background(lipgloss.Color("229")).Foreground(lipgloss.Color("0")).Bold(true)
	unicodeWordRe    = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentenceRe       = regexp.MustCompile(`[^.!?]+(?:[.!?]+|$)`)
)

// renderUnits lays the units out top to bottom and returns the rendered text
// with the line offset of each unit.
func renderUnits(units []grounding.Unit, highlighted map[string]bool, mostRelevant, answer string, width int) (string, map[string]int) {
	offsets := make(map[string]int, len(units))
	wrap := lipgloss.NewStyle().Width(max(10, width))
	var b strings.Builder
	line := 0
	for i, u := range units {
		if i > 0 {
			sep := "\n\n"
			if u.Kind == grounding.KindLine && units[i-1].Kind == grounding.KindLine && units[i-1].Page == u.Page {
				sep = "\n"
			}
			b.WriteString(sep)
			line += strings.Count(sep, "\n")
		}
		offsets[u.ID] = line
		var text string
		switch {
		case u.Kind == grounding.KindHeading:
			text = headingStyle.Render(u.Text)
		case u.ID == mostRelevant:
			text = highlightBestSentence(u.Text, answer)
		case highlighted[u.ID]:
			text = highlightStyle.Render(u.Text)
		default:
			text = u.Text
		}
		rendered := wrap.Render(text)
		b.WriteString(rendered)
		line += lipgloss.Height(rendered) - 1
	}
	return b.String(), offsets
}

// highlightBestSentence marks the whole unit and emphasizes the sentence
// sharing the most words with the answer.
func highlightBestSentence(text, answer string) string {
	sentences := sentenceRe.FindAllString(text, -1)
	if len(sentences) == 0 {
		return highlightStyle.Render(text)
	}
	aTokens := toTokenSet(answer)
	bestIdx, bestScore := 0, -1
	for i, s := range sentences {
		if score := tokenOverlapScore(aTokens, s); score > bestScore {
			bestIdx, bestScore = i, score
		}
	}
	for i := range sentences {
		sent := strings.TrimSpace(sentences[i])
		if i == bestIdx {
			sentences[i] = bestSentence.Render(sent)
		} else {
			sentences[i] = highlightStyle.Render(sent)
		}
	}
	return strings.Join(sentences, " ")
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(answerTokens map[string]struct{}, sentence string) int {
	score := 0
	tokens := unicodeWordRe.FindAllString(strings.ToLower(sentence), -1)
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := answerTokens[t]; ok {
			score++
		}
	}
	return score
}
