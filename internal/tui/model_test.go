package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/domain"
	"docqa/internal/grounding"
	"docqa/internal/service"
)

type stubAsker struct {
	answer *service.Answer
	err    error
	query  string
}

func (s *stubAsker) Ask(_ context.Context, _ *service.Document, query string) (*service.Answer, error) {
	s.query = query
	return s.answer, s.err
}

func testDocument(n int) *service.Document {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "Paragraph %d talks about topic %d.\n\n", i, i)
	}
	return &service.Document{SessionID: "s", Source: domain.Document{Path: "doc.txt"}, Units: grounding.UnitsFromText(b.String())}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(Model)
	require.True(t, ok)
	return nm, cmd
}

func TestAskHighlightsAndScrolls(t *testing.T) {
	doc := testDocument(30)
	asker := &stubAsker{answer: &service.Answer{
		Query: "topic 10?",
		Text:  "Paragraph 10 talks about topic 10.",
		Grounding: grounding.Result{
			Decisions: []domain.HighlightDecision{
				{UnitID: "unit-10", Highlighted: true, Similarity: 1},
				{UnitID: "unit-11", Highlighted: true, Similarity: 0.5},
			},
			MostRelevantUnitID: "unit-10",
		},
	}}
	m := New(context.Background(), asker, doc)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})
	assert.Equal(t, 0, m.viewport.YOffset)

	m.input.SetValue("topic 10?")
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.True(t, m.busy)

	m, _ = update(t, m, cmd())
	assert.Equal(t, "topic 10?", asker.query)
	assert.False(t, m.busy)
	assert.True(t, m.highlighted["unit-11"])
	assert.Equal(t, 20, m.offsets["unit-10"])
	assert.Equal(t, 20, m.viewport.YOffset)
	assert.Contains(t, m.View(), "A: Paragraph 10 talks about topic 10.")
}

func TestAskErrorKeepsDocument(t *testing.T) {
	m := New(context.Background(), &stubAsker{err: errors.New("session not found")}, testDocument(3))
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 80, Height: 24})
	m.input.SetValue("anything")
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	m, _ = update(t, m, cmd())

	assert.Contains(t, m.status, "session not found")
	assert.Nil(t, m.answer)
	assert.Contains(t, m.View(), "No answer yet.")
}

func TestEmptyQueryIgnored(t *testing.T) {
	m := New(context.Background(), &stubAsker{}, testDocument(1))
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.False(t, m.busy)
}

func TestRenderUnitsOffsets(t *testing.T) {
	units := []grounding.Unit{
		{ID: "unit-0", Kind: grounding.KindHeading, Text: "Title"},
		{ID: "unit-1", Kind: grounding.KindLine, Text: "line one", Page: 0},
		{ID: "unit-2", Kind: grounding.KindLine, Text: "line two", Page: 0},
		{ID: "unit-3", Kind: grounding.KindLine, Text: "next page", Page: 1},
	}
	_, offsets := renderUnits(units, nil, "", "", 80)
	assert.Equal(t, map[string]int{"unit-0": 0, "unit-1": 2, "unit-2": 3, "unit-3": 5}, offsets)
}

func TestHighlightBestSentenceKeepsTrailingText(t *testing.T) {
	out := highlightBestSentence("Cats are mammals. Dogs bark", "dogs bark loudly")
	assert.Contains(t, out, "Cats are mammals.")
	assert.Contains(t, out, "Dogs bark")
}
