package grounding

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/domain"
	"docqa/internal/embedding/hashing"
)

type constSimilarity float64

func (c constSimilarity) Similarity(context.Context, string, string) (float64, error) {
	return float64(c), nil
}

type failingSimilarity struct{ failOn string }

func (f failingSimilarity) Similarity(_ context.Context, a, b string) (float64, error) {
	if strings.Contains(a, f.failOn) {
		return 0, errors.New("embedding service down")
	}
	return TokenSimilarity{}.Similarity(context.Background(), a, b)
}

func words(n int, word string) string {
	return strings.TrimSpace(strings.Repeat(word+" ", n))
}

func TestThresholdByLength(t *testing.T) {
	assert.InDelta(t, 0.36, Threshold(10), 1e-12)
	assert.InDelta(t, 0.3, Threshold(30), 1e-12)
	assert.InDelta(t, 0.3, Threshold(200), 1e-12)
	assert.InDelta(t, 0.24, Threshold(300), 1e-12)
}

func TestGroundThresholds(t *testing.T) {
	short := Unit{ID: "unit-0", Text: words(10, "alpha")}
	long := Unit{ID: "unit-1", Text: words(300, "beta")}
	answer := "gamma delta epsilon"
	tests := []struct {
		name string
		unit Unit
		sim  float64
		want bool
	}{
		{"10 words above 0.36", short, 0.37, true},
		{"10 words below 0.36", short, 0.35, false},
		{"300 words above 0.24", long, 0.25, true},
		{"300 words below 0.24", long, 0.23, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New(constSimilarity(tt.sim), nil)
			res := g.Ground(context.Background(), []Unit{tt.unit}, answer, []string{"c1"})
			require.Len(t, res.Decisions, 1)
			assert.Equal(t, tt.want, res.Decisions[0].Highlighted)
			assert.False(t, res.Decisions[0].Overlap)
		})
	}
}

func TestOverlapForcesHighlightAndBoost(t *testing.T) {
	unit := Unit{ID: "unit-0", Text: "The quick brown fox jumps over the lazy dog near the river bank today"}
	g := New(constSimilarity(0.1), nil)
	res := g.Ground(context.Background(), []Unit{unit}, "A quick brown fox appeared.", []string{"c1"})
	d := res.Decisions[0]
	assert.True(t, d.Overlap)
	assert.True(t, d.Highlighted)
	assert.Equal(t, "unit-0", res.MostRelevantUnitID)
}

func TestHasSignificantOverlap(t *testing.T) {
	assert.True(t, HasSignificantOverlap("cats are mammals dogs are mammals too", "cats are mammals"))
	assert.False(t, HasSignificantOverlap("cats are mammals", "cats mammals are"))
	assert.True(t, HasSignificantOverlap("cats are", "i think cats are great"))
	assert.False(t, HasSignificantOverlap("cats", "cats cats cats"))
	assert.False(t, HasSignificantOverlap("cats are mammals", "cats are"))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "hello world it s 42", Normalize("  Hello,\tWORLD!  It's  #42 "))
	assert.Equal(t, Normalize("Cats are mammals."), Normalize("cats   ARE mammals"))
}

func TestNoAnswerOrCandidatesHighlightsNothing(t *testing.T) {
	units := UnitsFromText("Cats are mammals.")
	g := New(nil, nil)

	res := g.Ground(context.Background(), units, "", []string{"c1"})
	assert.Empty(t, res.Highlighted())
	assert.Empty(t, res.MostRelevantUnitID)

	res = g.Ground(context.Background(), units, "Cats are mammals.", nil)
	assert.Empty(t, res.Highlighted())
	assert.Empty(t, res.MostRelevantUnitID)
	assert.Len(t, res.Decisions, len(units))
}

func TestMostRelevantIsHighestSimilarityFirstWins(t *testing.T) {
	units := UnitsFromText("# Pets\n\nCats are mammals.\n\nCats are mammals.\n\nCats are small mammals that purr loudly at night.\n\nRocks are minerals.")
	res := New(nil, nil).Ground(context.Background(), units, "Cats are mammals.", []string{"c1"})

	hl := res.Highlighted()
	assert.False(t, hl["unit-0"], "headings are never highlighted")
	assert.True(t, hl["unit-1"])
	assert.True(t, hl["unit-2"])
	assert.False(t, hl["unit-4"])
	assert.Equal(t, "unit-1", res.MostRelevantUnitID)
}

func TestSimilarityFailureDegradesUnit(t *testing.T) {
	units := UnitsFromText("Cats are mammals.\n\nBroken paragraph about cats are mammals.")
	res := New(failingSimilarity{failOn: "broken"}, nil).Ground(context.Background(), units, "Cats are mammals.", []string{"c1"})

	assert.Equal(t, 1, res.Degraded)
	assert.True(t, res.Decisions[0].Highlighted)
	assert.False(t, res.Decisions[1].Highlighted)
	assert.Equal(t, "unit-0", res.MostRelevantUnitID)
}

func TestCatsScenario(t *testing.T) {
	units := UnitsFromText("Cats are mammals. Dogs are mammals too.")
	require.Len(t, units, 1)
	res := New(nil, nil).Ground(context.Background(), units, "Cats are mammals.", []string{"chunk"})

	d := res.Decisions[0]
	assert.True(t, d.Highlighted)
	assert.True(t, d.Overlap)
	assert.InDelta(t, 3/3.872983346207417, d.Similarity, 1e-9)
	assert.Equal(t, units[0].ID, res.MostRelevantUnitID)
}

func TestEmbeddingSimilarity(t *testing.T) {
	sim := EmbeddingSimilarity{Embedder: hashing.NewEmbedder(128)}
	ctx := context.Background()
	same, err := sim.Similarity(ctx, "cats are mammals", "cats are mammals")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, same, 1e-6)

	other, err := sim.Similarity(ctx, "cats are mammals", "quantum chromodynamics lecture")
	require.NoError(t, err)
	assert.Less(t, other, same)
	assert.GreaterOrEqual(t, other, 0.0)
}

func TestUnitsFromText(t *testing.T) {
	units := UnitsFromText("# Title\nIntro line one\nintro line two\n\n\n## Section\nBody.\n")
	require.Len(t, units, 4)
	assert.Equal(t, Unit{ID: "unit-0", Kind: KindHeading, Text: "Title"}, units[0])
	assert.Equal(t, "Intro line one\nintro line two", units[1].Text)
	assert.Equal(t, KindParagraph, units[1].Kind)
	assert.Equal(t, "Section", units[2].Text)
	assert.Equal(t, "unit-3", units[3].ID)
	assert.Empty(t, UnitsFromText("   \n\n"))
}

func bbox(y float64) *[4]float64 { return &[4]float64{0, y, 100, y + 10} }

func TestUnitsFromPages(t *testing.T) {
	pages := []domain.Page{
		{
			{{Text: "Cats are", BBox: bbox(100)}, {Text: "mammals.", BBox: bbox(103)}},
			{{Text: "  ", BBox: bbox(200)}},
			{{Text: "Dogs too.", BBox: bbox(120)}},
		},
		{},
		{
			{},
			{{Text: "Page three", BBox: bbox(50)}, {Text: "no box"}},
		},
	}
	units := UnitsFromPages(pages)
	require.Len(t, units, 3)
	assert.Equal(t, "Cats are mammals.", units[0].Text)
	assert.Equal(t, KindLine, units[0].Kind)
	assert.Len(t, units[0].Spans, 2)
	assert.Equal(t, "Dogs too.", units[1].Text)
	assert.Equal(t, 0, units[1].Page)
	assert.Equal(t, "Page three no box", units[2].Text)
	assert.Equal(t, 2, units[2].Page)
	assert.Equal(t, "unit-2", units[2].ID)
}
