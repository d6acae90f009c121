// Package rerank reorders retrieved chunks using a language model's relevance
// judgement blended with the retrieval similarity.
package rerank

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"docqa/internal/domain"
	"docqa/internal/metrics"
)

const (
	JudgeWeight      = 0.7
	SimilarityWeight = 0.3
)

var divider = strings.Repeat("-", 40)

type Reranker struct {
	judge   domain.Judge
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(judge domain.Judge, m *metrics.Metrics) *Reranker {
	return &Reranker{
		judge:   judge,
		metrics: m,
		logger:  slog.Default().With("component", "rerank"),
	}
}

// Rerank returns the chunk ids of results in blended-score order. It never
// fails: any judge error yields the input order.
func (r *Reranker) Rerank(ctx context.Context, query, answer string, results []domain.RetrievalResult) []string {
	original := make([]string, len(results))
	for i, res := range results {
		original[i] = res.ChunkID
	}
	if len(results) == 0 {
		return original
	}
	analysis, err := r.judge.Judge(ctx, BuildPrompt(query, answer, results))
	if err != nil {
		r.metrics.RerankFallback()
		r.logger.Warn("judge failed, keeping retrieval order", "error", err)
		return original
	}
	fallback := make([]float64, len(results))
	for i, res := range results {
		fallback[i] = res.Similarity
	}
	scores := ExtractScores(analysis, fallback)

	type ranked struct {
		id    string
		score float64
	}
	out := make([]ranked, len(results))
	for i, res := range results {
		out[i] = ranked{id: res.ChunkID, score: JudgeWeight*scores[i] + SimilarityWeight*res.Similarity}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].score > out[b].score })
	ids := make([]string, len(out))
	for i, o := range out {
		ids[i] = o.id
	}
	return ids
}

// BuildPrompt enumerates the candidate chunks as "Chunk 1", "Chunk 2", ...
func BuildPrompt(query, answer string, results []domain.RetrievalResult) string {
	var b strings.Builder
	b.WriteString("\nGiven the following question and your answer, please analyze these context chunks and rank them based on their relevance and importance to your answer. For each chunk, provide a score from 0-10 and explain why.\n\n")
	fmt.Fprintf(&b, "Question: %s\n\nYour Answer: %s\n\nContext Chunks to Rank:\n%s\n", query, answer, divider)
	for i, res := range results {
		fmt.Fprintf(&b, "\nChunk %d:\n%s\n%s", i+1, res.Content, divider)
	}
	return b.String()
}

// ExtractScores parses a 0-10 score per chunk from analysis and returns it
// scaled to [0,1]. Chunks without a parseable score keep their fallback value.
func ExtractScores(analysis string, fallback []float64) []float64 {
	scores := make([]float64, len(fallback))
	for i := range fallback {
		scores[i] = fallback[i]
		for _, re := range patternsFor(i + 1) {
			m := re.FindStringSubmatch(analysis)
			if m == nil {
				continue
			}
			n, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			scores[i] = float64(min(max(n, 0), 10)) / 10
			break
		}
	}
	return scores
}

// patternsFor returns the score patterns for chunk n, most specific first.
// The chunk number is word-bounded so chunk 1 never matches "Chunk 10".
func patternsFor(n int) []*regexp.Regexp {
	return []*regexp.Regexp{
		regexp.MustCompile(fmt.Sprintf(`(?i)Chunk %d\b:\s*(\d+)(?:/10)?`, n)),
		regexp.MustCompile(fmt.Sprintf(`(?i)Chunk %d\b.*?score:\s*(\d+)`, n)),
		regexp.MustCompile(fmt.Sprintf(`(?i)Score for Chunk %d\b:\s*(\d+)`, n)),
	}
}
