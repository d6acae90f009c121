// Package service wires the engine together: upload indexes a document into a
// session, ask answers a question against it and grounds the answer.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"docqa/internal/document"
	"docqa/internal/domain"
	"docqa/internal/grounding"
	"docqa/internal/indexer"
	"docqa/internal/rerank"
	"docqa/internal/retriever"
)

// DefaultHighlightCandidates is how many top chunk ids gate highlighting.
const DefaultHighlightCandidates = 2

// Document is the caller-owned handle of an uploaded document. It carries
// everything a query needs, so the service itself holds no per-document state.
type Document struct {
	SessionID    string
	Source       domain.Document
	Units        []grounding.Unit
	ChunkMapping map[string]string
}

// Answer is the outcome of one question.
type Answer struct {
	Query          string
	Text           string
	Retrieval      retriever.Result
	RankedChunkIDs []string
	Grounding      grounding.Result
}

type Service struct {
	indexer    *indexer.Indexer
	retriever  *retriever.Retriever
	generator  domain.Generator
	reranker   *rerank.Reranker
	grounder   *grounding.Grounder
	k          int
	candidates int
	logger     *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithReranker enables the re-ranking pass between generation and grounding.
func WithReranker(r *rerank.Reranker) Option {
	return func(s *Service) { s.reranker = r }
}

// WithTopK sets the number of neighbours searched per query.
func WithTopK(k int) Option {
	return func(s *Service) { s.k = k }
}

// WithHighlightCandidates sets how many leading chunk ids are passed to the grounder.
func WithHighlightCandidates(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.candidates = n
		}
	}
}

func New(ix *indexer.Indexer, r *retriever.Retriever, gen domain.Generator, g *grounding.Grounder, opts ...Option) *Service {
	s := &Service{
		indexer:    ix,
		retriever:  r,
		generator:  gen,
		grounder:   g,
		k:          retriever.DefaultK,
		candidates: DefaultHighlightCandidates,
		logger:     slog.Default().With("component", "service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UploadFile loads a document from disk and uploads it.
func (s *Service) UploadFile(ctx context.Context, path string) (*Document, error) {
	src, err := document.Load(path)
	if err != nil {
		return nil, err
	}
	return s.Upload(ctx, src)
}

// Upload indexes src into a new session and derives its render units.
func (s *Service) Upload(ctx context.Context, src domain.Document) (*Document, error) {
	sessionID, mapping, err := s.indexer.CreateIndexFor(ctx, src)
	if err != nil {
		return nil, err
	}
	doc := Open(sessionID, src)
	doc.ChunkMapping = mapping
	s.logger.Info("document uploaded", "session_id", sessionID, "path", src.Path, "chunks", len(mapping), "units", len(doc.Units))
	return doc, nil
}

// Open returns a handle for an existing session over its source document.
// The chunk mapping is left empty.
func Open(sessionID string, src domain.Document) *Document {
	var units []grounding.Unit
	if len(src.Pages) > 0 {
		units = grounding.UnitsFromPages(src.Pages)
	} else {
		units = grounding.UnitsFromText(src.Content)
	}
	return &Document{SessionID: sessionID, Source: src, Units: units}
}

// Ask answers query from doc's session and grounds the answer on its units.
// A nil doc yields domain.ErrSessionNotFound.
func (s *Service) Ask(ctx context.Context, doc *Document, query string) (*Answer, error) {
	if doc == nil || doc.SessionID == "" {
		return nil, domain.NewError(domain.ErrSessionNotFound, "ask", "", errors.New("no document uploaded"))
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("empty query")
	}
	sess, err := s.indexer.LoadIndex(ctx, doc.SessionID)
	if err != nil {
		return nil, err
	}
	res, err := s.retriever.Retrieve(ctx, sess, query, s.k)
	if err != nil {
		return nil, err
	}
	text, err := s.generator.Generate(ctx, res.Context, query)
	if err != nil {
		return nil, domain.NewError(domain.ErrGeneration, "generate", doc.SessionID, err)
	}

	ranked := res.ChunkIDs()
	if s.reranker != nil && len(res.Top) > 1 {
		ranked = s.reranker.Rerank(ctx, query, text, res.Top)
	}
	candidates := ranked
	if len(candidates) > s.candidates {
		candidates = candidates[:s.candidates]
	}
	g := s.grounder.Ground(ctx, doc.Units, text, candidates)
	s.logger.Info("question answered",
		"session_id", doc.SessionID,
		"results", len(res.Top),
		"highlighted", len(g.Highlighted()),
		"most_relevant", g.MostRelevantUnitID,
		"degraded", g.Degraded,
	)
	return &Answer{Query: query, Text: text, Retrieval: res, RankedChunkIDs: ranked, Grounding: g}, nil
}

// Forget flags the document's session for removal by the next sweep.
func (s *Service) Forget(ctx context.Context, sessionID string) error {
	return s.indexer.Forget(ctx, sessionID)
}
