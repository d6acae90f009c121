// Package retriever finds the chunks of a session closest to a query.
package retriever

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"docqa/internal/domain"
	"docqa/internal/metrics"
	"docqa/internal/session"
)

const (
	DefaultK = 5
	// MaxResults caps Result.Top regardless of the requested k.
	MaxResults = 5
	// NoiseFloor drops results whose similarity is not above it.
	NoiseFloor = 0.1
)

// Result is the outcome of one retrieval.
type Result struct {
	// Top holds at most MaxResults results, best first.
	Top []domain.RetrievalResult
	// All holds every result above the noise floor, best first.
	All []domain.RetrievalResult
	// Context joins the Top contents for the answer generator.
	Context string
}

// ChunkIDs returns the ids of Top in order.
func (r Result) ChunkIDs() []string {
	ids := make([]string, len(r.Top))
	for i, res := range r.Top {
		ids[i] = res.ChunkID
	}
	return ids
}

type Retriever struct {
	embedder domain.Embedder
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func New(embedder domain.Embedder, m *metrics.Metrics) *Retriever {
	return &Retriever{
		embedder: embedder,
		metrics:  m,
		logger:   slog.Default().With("component", "retriever"),
	}
}

// Retrieve embeds query and returns the nearest chunks of sess. k <= 0 selects DefaultK.
func (r *Retriever) Retrieve(ctx context.Context, sess *session.Session, query string, k int) (Result, error) {
	start := time.Now()
	if k <= 0 {
		k = DefaultK
	}
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return Result{}, domain.NewError(domain.ErrRetrieval, "embed_query", sess.ID, err)
	}
	positions, distances, err := sess.Index.Search(vec, k)
	if err != nil {
		return Result{}, domain.NewError(domain.ErrRetrieval, "search", sess.ID, err)
	}

	all := make([]domain.RetrievalResult, 0, len(positions))
	for i, pos := range positions {
		sim := Similarity(distances[i])
		if sim <= NoiseFloor {
			continue
		}
		ch, ok := sess.Resolve(pos)
		if !ok {
			r.logger.Warn("unresolvable index position", "session_id", sess.ID, "position", pos)
			continue
		}
		all = append(all, domain.RetrievalResult{ChunkID: ch.ID, Content: ch.Text, Similarity: sim})
	}
	sort.SliceStable(all, func(a, b int) bool { return all[a].Similarity > all[b].Similarity })

	top := all
	if len(top) > MaxResults {
		top = top[:MaxResults]
	}
	parts := make([]string, len(top))
	for i, res := range top {
		parts[i] = res.Content
	}
	r.metrics.ObserveRetrieval(time.Since(start), len(top))
	return Result{Top: top, All: all, Context: strings.Join(parts, "\n\n")}, nil
}

// Similarity maps a squared L2 distance to (0,1] via exp(-d).
func Similarity(distance float32) float64 {
	s := math.Exp(-float64(distance))
	if s > 1 {
		return 1
	}
	if s < 0 || math.IsNaN(s) {
		return 0
	}
	return s
}
