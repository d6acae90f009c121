package retriever

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/domain"
	"docqa/internal/index"
	"docqa/internal/session"
)

// fixedEmbedder maps known texts to fixed vectors.
type fixedEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (f fixedEmbedder) Name() string   { return "fixed" }
func (f fixedEmbedder) Dimension() int { return 1 }
func (f fixedEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.vectors[text]
	if !ok {
		return []float32{0}, nil
	}
	return v, nil
}

// sessionAt builds a one-dimensional session with one chunk per coordinate.
func sessionAt(t *testing.T, coords ...float32) *session.Session {
	t.Helper()
	flat, err := index.NewFlat(1)
	require.NoError(t, err)
	sess := &session.Session{ID: "s", Docstore: map[string]domain.Chunk{}, Index: flat}
	for i, c := range coords {
		require.NoError(t, flat.Add([]float32{c}))
		id := fmt.Sprintf("c%d", i)
		sess.Docstore[id] = domain.Chunk{ID: id, Text: fmt.Sprintf("chunk %d", i), Index: i}
		sess.Positions = append(sess.Positions, id)
	}
	return sess
}

func TestRetrieveOrderingAndBounds(t *testing.T) {
	// distances to 0: 0.25, 0, 4, 1, 2.25, 0.01, 1.44
	sess := sessionAt(t, 0.5, 0, 2, 1, 1.5, 0.1, 1.2)
	r := New(fixedEmbedder{}, nil)

	res, err := r.Retrieve(context.Background(), sess, "q", 10)
	require.NoError(t, err)

	require.Len(t, res.All, 6, "distance 4 falls under the noise floor")
	for i, got := range res.All {
		assert.Greater(t, got.Similarity, NoiseFloor)
		assert.LessOrEqual(t, got.Similarity, 1.0)
		if i > 0 {
			assert.GreaterOrEqual(t, res.All[i-1].Similarity, got.Similarity)
		}
	}
	assert.Len(t, res.Top, MaxResults)
	assert.Equal(t, []string{"c1", "c5", "c0", "c3", "c6"}, res.ChunkIDs())
	assert.Equal(t, 1.0, res.Top[0].Similarity)
	assert.Equal(t, "chunk 1\n\nchunk 5\n\nchunk 0\n\nchunk 3\n\nchunk 6", res.Context)
}

func TestRetrieveDefaultK(t *testing.T) {
	sess := sessionAt(t, 0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7)
	res, err := New(fixedEmbedder{}, nil).Retrieve(context.Background(), sess, "q", 0)
	require.NoError(t, err)
	assert.Len(t, res.All, DefaultK)
}

func TestRetrieveSkipsUnresolvablePositions(t *testing.T) {
	sess := sessionAt(t, 0, 0.1)
	delete(sess.Docstore, "c0")

	res, err := New(fixedEmbedder{}, nil).Retrieve(context.Background(), sess, "q", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, res.ChunkIDs())
}

func TestRetrieveEmbeddingFailure(t *testing.T) {
	sess := sessionAt(t, 0)
	_, err := New(fixedEmbedder{err: errors.New("timeout")}, nil).Retrieve(context.Background(), sess, "q", 5)
	assert.ErrorIs(t, err, domain.ErrRetrieval)
	assert.ErrorContains(t, err, "timeout")
}

func TestRetrieveDimensionMismatchIsRetrievalError(t *testing.T) {
	sess := sessionAt(t, 0)
	emb := fixedEmbedder{vectors: map[string][]float32{"q": {1, 2}}}
	_, err := New(emb, nil).Retrieve(context.Background(), sess, "q", 5)
	assert.ErrorIs(t, err, domain.ErrRetrieval)
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity(0))
	assert.InDelta(t, 0.3679, Similarity(1), 1e-4)
	assert.Equal(t, 1.0, Similarity(-0.5))
}
