// Package grounding matches a generated answer back onto the document's render
// units to decide which ones to highlight and where to scroll.
package grounding

import (
	"context"
	"log/slog"
	"strings"

	"docqa/internal/domain"
	"docqa/internal/metrics"
)

const (
	BaseThreshold = 0.3
	// OverlapBoost multiplies the similarity of units sharing a phrase with
	// the answer. The boosted score is not capped.
	OverlapBoost = 1.25
	shortUnit    = 30
	longUnit     = 200
)

// Threshold returns the similarity a unit of the given word count must exceed.
func Threshold(words int) float64 {
	switch {
	case words < shortUnit:
		return BaseThreshold * 1.2
	case words > longUnit:
		return BaseThreshold * 0.8
	default:
		return BaseThreshold
	}
}

// Result is the grounding outcome for one answer.
type Result struct {
	// Decisions has one entry per unit, in document order.
	Decisions []domain.HighlightDecision
	// MostRelevantUnitID is the scroll target, empty when nothing is highlighted.
	MostRelevantUnitID string
	// Degraded counts units whose similarity could not be computed.
	Degraded int
}

// Highlighted returns the set of highlighted unit ids.
func (r Result) Highlighted() map[string]bool {
	out := make(map[string]bool)
	for _, d := range r.Decisions {
		if d.Highlighted {
			out[d.UnitID] = true
		}
	}
	return out
}

type Grounder struct {
	sim     Similarity
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New returns a Grounder; a nil sim selects TokenSimilarity.
func New(sim Similarity, m *metrics.Metrics) *Grounder {
	if sim == nil {
		sim = TokenSimilarity{}
	}
	return &Grounder{sim: sim, metrics: m, logger: slog.Default().With("component", "grounding")}
}

// Ground evaluates every unit against answer. With an empty answer or no
// candidate chunk ids nothing is highlighted. Results are never cached.
func (g *Grounder) Ground(ctx context.Context, units []Unit, answer string, candidateIDs []string) Result {
	res := Result{Decisions: make([]domain.HighlightDecision, len(units))}
	for i, u := range units {
		res.Decisions[i] = domain.HighlightDecision{UnitID: u.ID}
	}
	if strings.TrimSpace(answer) == "" || len(candidateIDs) == 0 {
		return res
	}

	normAnswer := Normalize(answer)
	best := -1.0
	highlighted := 0
	for i, u := range units {
		if !u.Highlightable() {
			continue
		}
		d, err := g.decide(ctx, u, normAnswer)
		if err != nil {
			res.Degraded++
			g.logger.Warn("similarity unavailable, unit not highlighted", "unit_id", u.ID, "error", domain.NewError(domain.ErrGroundingDegraded, "similarity", "", err))
			res.Decisions[i] = d
			continue
		}
		res.Decisions[i] = d
		if !d.Highlighted {
			continue
		}
		highlighted++
		if d.Similarity > best {
			best = d.Similarity
			res.MostRelevantUnitID = u.ID
		}
	}
	g.metrics.ObserveGrounding(highlighted, res.Degraded)
	return res
}

func (g *Grounder) decide(ctx context.Context, u Unit, normAnswer string) (domain.HighlightDecision, error) {
	normUnit := Normalize(u.Text)
	words := len(strings.Fields(normUnit))
	d := domain.HighlightDecision{UnitID: u.ID, Threshold: Threshold(words)}
	sim, err := g.sim.Similarity(ctx, normUnit, normAnswer)
	if err != nil {
		return d, err
	}
	sim = clamp01(sim)
	d.Similarity = sim
	d.Overlap = HasSignificantOverlap(normUnit, normAnswer)
	boosted := sim
	if d.Overlap {
		boosted *= OverlapBoost
	}
	d.Highlighted = boosted > d.Threshold || d.Overlap
	return d, nil
}
