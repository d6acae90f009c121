package domain

import "context"

// MaxStoredChunkRunes bounds the chunk text kept in the docstore and chunk mapping.
const MaxStoredChunkRunes = 1000

// Document is a single uploaded document in its parsed form.
// Pages is nil for plain-text documents.
type Document struct {
	ID      string
	Path    string
	Content string
	Pages   []Page
}

// Chunk is a bounded segment of a document used as the unit of retrieval.
type Chunk struct {
	ID     string `json:"chunk_id"`
	Text   string `json:"page_content"`
	Index  int    `json:"index"`
	Offset int    `json:"source_offset"`
}

// Page is one page of a layout-aware document.
type Page []Line

// Line is a list of spans as produced by the document parser.
type Line []Span

// Span is a run of text with uniform styling and a bounding box.
type Span struct {
	Text     string      `json:"text"`
	BBox     *[4]float64 `json:"bbox,omitempty"`
	Bold     bool        `json:"is_bold"`
	Italic   bool        `json:"is_italic"`
	FontSize float64     `json:"font_size"`
}

// RetrievalResult is a chunk matched by a query with its similarity in [0,1].
type RetrievalResult struct {
	ChunkID    string  `json:"chunk_id"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}

// HighlightDecision records whether a render unit supports an answer.
type HighlightDecision struct {
	UnitID      string
	Highlighted bool
	Similarity  float64
	Threshold   float64
	Overlap     bool
}

// Embedder converts free text into a fixed-length vector.
// Implementations must be deterministic for identical input.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Chunker splits documents into chunks suitable for retrieval indexing.
type Chunker interface {
	Chunk(document Document) ([]Chunk, error)
}

// Generator produces an answer to query from the retrieved context.
type Generator interface {
	Generate(ctx context.Context, contextText, query string) (string, error)
}

// Judge returns a free-text relevance analysis for a ranking prompt.
type Judge interface {
	Judge(ctx context.Context, prompt string) (string, error)
}

// TruncateRunes returns s cut to at most n runes.
func TruncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
