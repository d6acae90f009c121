package grounding

import (
	"context"
	"math"
	"strings"
	"unicode"

	"docqa/internal/domain"
)

// Similarity scores two normalized texts in [0,1].
type Similarity interface {
	Similarity(ctx context.Context, a, b string) (float64, error)
}

// Normalize lower-cases s, turns punctuation and symbols into spaces and
// collapses whitespace.
func Normalize(s string) string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return ' '
		}
		return unicode.ToLower(r)
	}, s)
	return strings.Join(strings.Fields(mapped), " ")
}

// TokenSimilarity is the Ochiai coefficient of the two token sets:
// |A∩B| / sqrt(|A||B|).
type TokenSimilarity struct{}

func (TokenSimilarity) Similarity(_ context.Context, a, b string) (float64, error) {
	return ochiai(tokenSet(a), tokenSet(b)), nil
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.Fields(s)
	m := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		m[f] = struct{}{}
	}
	return m
}

func ochiai(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	return float64(inter) / math.Sqrt(float64(len(a))*float64(len(b)))
}

// EmbeddingSimilarity is the cosine of the two texts' embeddings, clamped to [0,1].
type EmbeddingSimilarity struct {
	Embedder domain.Embedder
}

func (e EmbeddingSimilarity) Similarity(ctx context.Context, a, b string) (float64, error) {
	va, err := e.Embedder.Embed(ctx, a)
	if err != nil {
		return 0, err
	}
	vb, err := e.Embedder.Embed(ctx, b)
	if err != nil {
		return 0, err
	}
	return clamp01(cosine(va, vb)), nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func clamp01(x float64) float64 {
	switch {
	case x < 0 || math.IsNaN(x):
		return 0
	case x > 1:
		return 1
	default:
		return x
	}
}

// HasSignificantOverlap reports whether unit and answer, both normalized,
// share a contiguous run of min(3, len(unit words)) words. Units of fewer
// than two words never overlap.
func HasSignificantOverlap(unit, answer string) bool {
	uw := strings.Fields(unit)
	aw := strings.Fields(answer)
	if len(uw) < 2 {
		return false
	}
	n := min(3, len(uw))
	if len(aw) < n {
		return false
	}
	grams := make(map[string]struct{}, len(aw)-n+1)
	for i := 0; i+n <= len(aw); i++ {
		grams[strings.Join(aw[i:i+n], " ")] = struct{}{}
	}
	for i := 0; i+n <= len(uw); i++ {
		if _, ok := grams[strings.Join(uw[i:i+n], " ")]; ok {
			return true
		}
	}
	return false
}
