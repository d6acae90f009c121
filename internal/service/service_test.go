package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/chunker"
	"docqa/internal/domain"
	"docqa/internal/embedding/hashing"
	"docqa/internal/grounding"
	"docqa/internal/indexer"
	"docqa/internal/rerank"
	"docqa/internal/retriever"
	"docqa/internal/session/filestore"
)

type stubGenerator struct {
	answer  string
	err     error
	context string
}

func (g *stubGenerator) Generate(_ context.Context, contextText, _ string) (string, error) {
	g.context = contextText
	return g.answer, g.err
}

type stubJudge struct {
	reply string
	calls int
}

func (j *stubJudge) Judge(context.Context, string) (string, error) {
	j.calls++
	return j.reply, nil
}

type fixture struct {
	svc   *Service
	store *filestore.Store
	gen   *stubGenerator
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	return newFixtureWithChunker(t, chunker.NewRecursiveChunker(chunker.DefaultChunkSize, chunker.DefaultOverlap), opts...)
}

func newFixtureWithChunker(t *testing.T, c domain.Chunker, opts ...Option) *fixture {
	t.Helper()
	store, err := filestore.New(t.TempDir())
	require.NoError(t, err)
	emb := hashing.NewEmbedder(hashing.DefaultDimension)
	ix := indexer.New(c, emb, store)
	gen := &stubGenerator{answer: "Cats are mammals."}
	svc := New(ix, retriever.New(emb, nil), gen, grounding.New(nil, nil), opts...)
	return &fixture{svc: svc, store: store, gen: gen}
}

func TestCatsEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc, err := f.svc.Upload(ctx, domain.Document{Content: "Cats are mammals. Dogs are mammals too."})
	require.NoError(t, err)
	require.Len(t, doc.ChunkMapping, 1)
	require.Len(t, doc.Units, 1)

	ans, err := f.svc.Ask(ctx, doc, "What are cats?")
	require.NoError(t, err)
	require.NotEmpty(t, ans.Retrieval.Top)
	assert.Contains(t, ans.Retrieval.Top[0].Content, "Cats are mammals")
	assert.Equal(t, ans.Retrieval.Context, f.gen.context)
	assert.Equal(t, "Cats are mammals.", ans.Text)

	assert.True(t, ans.Grounding.Highlighted()[doc.Units[0].ID])
	assert.Equal(t, doc.Units[0].ID, ans.Grounding.MostRelevantUnitID)
}

func TestUploadFileLayoutDocument(t *testing.T) {
	f := newFixture(t)
	p := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, os.WriteFile(p, []byte(`{"pages":[[[
		{"text":"Cats are mammals.","bbox":[0,10,80,20]},
		{"text":"Dogs are mammals too.","bbox":[0,30,80,40]}
	]]]}`), 0o644))

	doc, err := f.svc.UploadFile(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, doc.Units, 2)
	assert.Equal(t, grounding.KindLine, doc.Units[0].Kind)

	ans, err := f.svc.Ask(context.Background(), doc, "What are cats?")
	require.NoError(t, err)
	assert.Equal(t, "unit-0", ans.Grounding.MostRelevantUnitID)
	assert.True(t, ans.Grounding.Highlighted()["unit-0"])
}

func TestAskWithoutDocument(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Ask(context.Background(), nil, "anything")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	_, err = f.svc.Ask(context.Background(), &Document{SessionID: "gone"}, "anything")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestAskGenerationFailure(t *testing.T) {
	f := newFixture(t)
	doc, err := f.svc.Upload(context.Background(), domain.Document{Content: "Cats are mammals."})
	require.NoError(t, err)

	f.gen.err = errors.New("deployment not found")
	_, err = f.svc.Ask(context.Background(), doc, "What are cats?")
	assert.ErrorIs(t, err, domain.ErrGeneration)
	assert.ErrorContains(t, err, "deployment not found")
}

func TestAskReranksAndLimitsCandidates(t *testing.T) {
	judge := &stubJudge{reply: "Chunk 1: 1/10\nChunk 2: 9/10"}
	f := newFixtureWithChunker(t, chunker.NewRecursiveChunker(45, 0), WithReranker(rerank.New(judge, nil)), WithHighlightCandidates(1))
	text := "Cats are mammals and cats purr.\n\nCats are mammals that hunt mice at night."
	doc, err := f.svc.Upload(context.Background(), domain.Document{Content: text})
	require.NoError(t, err)

	ans, err := f.svc.Ask(context.Background(), doc, "cats mammals")
	require.NoError(t, err)
	require.Len(t, ans.Retrieval.Top, 2)
	assert.Equal(t, 1, judge.calls)
	assert.Equal(t, ans.Retrieval.Top[1].ChunkID, ans.RankedChunkIDs[0])
}

func TestForgetThenSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc, err := f.svc.Upload(ctx, domain.Document{Content: "Cats are mammals."})
	require.NoError(t, err)

	require.NoError(t, f.svc.Forget(ctx, doc.SessionID))
	report, err := f.store.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.TotalDeleted())

	_, err = f.svc.Ask(ctx, doc, "What are cats?")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestOpenExistingSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := domain.Document{Content: "# Pets\n\nCats are mammals. Dogs are mammals too."}
	uploaded, err := f.svc.Upload(ctx, src)
	require.NoError(t, err)

	doc := Open(uploaded.SessionID, src)
	assert.Equal(t, uploaded.Units, doc.Units)
	ans, err := f.svc.Ask(ctx, doc, "What are cats?")
	require.NoError(t, err)
	assert.Equal(t, "unit-1", ans.Grounding.MostRelevantUnitID)
}
