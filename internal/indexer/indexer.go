// Package indexer turns a document into a persisted, searchable session.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"docqa/internal/domain"
	"docqa/internal/index"
	"docqa/internal/metrics"
	"docqa/internal/session"
)

// DefaultConcurrency bounds the number of chunks embedded at once.
const DefaultConcurrency = 4

// Indexer chunks, embeds and persists documents.
type Indexer struct {
	chunker     domain.Chunker
	embedder    domain.Embedder
	store       session.Store
	concurrency int
	now         func() time.Time
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithConcurrency sets how many embedding calls run in parallel.
func WithConcurrency(n int) Option {
	return func(ix *Indexer) {
		if n > 0 {
			ix.concurrency = n
		}
	}
}

// WithMetrics records build outcomes and sweep results.
func WithMetrics(m *metrics.Metrics) Option {
	return func(ix *Indexer) { ix.metrics = m }
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(ix *Indexer) { ix.logger = l }
}

// WithClock replaces time.Now for the last-used stamp.
func WithClock(now func() time.Time) Option {
	return func(ix *Indexer) { ix.now = now }
}

func New(chunker domain.Chunker, embedder domain.Embedder, store session.Store, opts ...Option) *Indexer {
	ix := &Indexer{
		chunker:     chunker,
		embedder:    embedder,
		store:       store,
		concurrency: DefaultConcurrency,
		now:         time.Now,
		logger:      slog.Default().With("component", "indexer"),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// CreateIndex indexes plain text into a new session and returns its id along
// with a chunk id to chunk text mapping. Nothing is persisted on failure.
func (ix *Indexer) CreateIndex(ctx context.Context, text string) (string, map[string]string, error) {
	return ix.CreateIndexFor(ctx, domain.Document{Content: text})
}

// CreateIndexFor is CreateIndex for an already loaded document.
func (ix *Indexer) CreateIndexFor(ctx context.Context, doc domain.Document) (string, map[string]string, error) {
	start := time.Now()
	sess, mapping, err := ix.build(ctx, doc)
	if err != nil {
		status := "error"
		if errors.Is(err, domain.ErrEmptyInput) {
			status = "empty_input"
		}
		ix.metrics.ObserveIndexBuild(status, 0, time.Since(start))
		return "", nil, err
	}
	if err := ix.store.Save(ctx, sess); err != nil {
		ix.metrics.ObserveIndexBuild("error", 0, time.Since(start))
		return "", nil, domain.NewError(domain.ErrIndexBuild, "save_index", sess.ID, err)
	}
	ix.metrics.ObserveIndexBuild("ok", len(sess.Positions), time.Since(start))
	ix.logger.Info("index created", "session_id", sess.ID, "chunks", len(sess.Positions), "embedder", ix.embedder.Name(), "elapsed", time.Since(start))

	ix.Sweep(ctx)
	return sess.ID, mapping, nil
}

func (ix *Indexer) build(ctx context.Context, doc domain.Document) (*session.Session, map[string]string, error) {
	chunks, err := ix.chunker.Chunk(doc)
	if err != nil {
		return nil, nil, domain.NewError(domain.ErrIndexBuild, "chunk", "", err)
	}
	if len(chunks) == 0 {
		return nil, nil, domain.NewError(domain.ErrIndexBuild, "chunk", "", domain.ErrEmptyInput)
	}

	vectors := make([][]float32, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.concurrency)
	for i := range chunks {
		g.Go(func() error {
			vec, err := ix.embedder.Embed(gctx, chunks[i].Text)
			if err != nil {
				return fmt.Errorf("embed chunk %d: %w", i, err)
			}
			vectors[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, domain.NewError(domain.ErrIndexBuild, "embed", "", err)
	}

	flat, err := index.NewFlat(ix.embedder.Dimension())
	if err != nil {
		return nil, nil, domain.NewError(domain.ErrIndexBuild, "index", "", err)
	}
	if err := flat.Add(vectors...); err != nil {
		return nil, nil, domain.NewError(domain.ErrIndexBuild, "index", "", err)
	}

	docstore := make(map[string]domain.Chunk, len(chunks))
	positions := make(session.PositionMap, len(chunks))
	mapping := make(map[string]string, len(chunks))
	for i, ch := range chunks {
		ch.ID = uuid.NewString()
		ch.Text = domain.TruncateRunes(ch.Text, domain.MaxStoredChunkRunes)
		docstore[ch.ID] = ch
		positions[i] = ch.ID
		mapping[ch.ID] = ch.Text
	}
	sess := &session.Session{
		ID:        uuid.NewString(),
		Docstore:  docstore,
		Positions: positions,
		Index:     flat,
		Meta:      session.Metadata{LastUsed: ix.now().UTC()},
	}
	return sess, mapping, nil
}

// LoadIndex returns a stored session and refreshes its last-used time.
func (ix *Indexer) LoadIndex(ctx context.Context, sessionID string) (*session.Session, error) {
	return ix.store.Load(ctx, sessionID)
}

// SaveIndex persists a session built elsewhere.
func (ix *Indexer) SaveIndex(ctx context.Context, sess *session.Session) error {
	if err := ix.store.Save(ctx, sess); err != nil {
		return domain.NewError(domain.ErrIndexBuild, "save_index", sess.ID, err)
	}
	return nil
}

// Forget flags a session for removal by the next sweep.
func (ix *Indexer) Forget(ctx context.Context, sessionID string) error {
	if err := ix.store.MarkDeleted(ctx, sessionID); err != nil {
		return err
	}
	ix.logger.Info("session marked for deletion", "session_id", sessionID)
	return nil
}

// Sweep runs a best-effort cleanup pass; errors are logged, not returned.
func (ix *Indexer) Sweep(ctx context.Context) session.SweepReport {
	report, err := ix.store.Sweep(ctx)
	ix.metrics.ObserveSweep(report)
	if err != nil {
		ix.logger.Warn("session sweep failed", "error", err)
	}
	if n := report.TotalDeleted(); n > 0 || report.Failures > 0 {
		ix.logger.Info("session sweep", "scanned", report.Scanned, "deleted", n, "failures", report.Failures)
	}
	return report
}
