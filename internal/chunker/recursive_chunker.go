package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"docqa/internal/domain"
)

const (
	DefaultChunkSize = 500
	DefaultOverlap   = 50
	DefaultMaxChunks = 1000
)

// DefaultSeparators are tried in order: paragraph, line, sentence, word, character.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// LengthFunc measures a piece of text in chunk-size units.
type LengthFunc func(string) int

// RuneLength measures text in characters.
func RuneLength(s string) int { return utf8.RuneCountInString(s) }

// TokenLength measures text in cl100k_base tokens.
func TokenLength() (LengthFunc, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("failed to load tiktoken encoding: %w", err)
	}
	return func(s string) int { return len(enc.Encode(s, nil, nil)) }, nil
}

// RecursiveChunker splits text on a prioritized list of separators,
// falling back to a finer separator only for pieces that are still too large.
type RecursiveChunker struct {
	size       int
	overlap    int
	maxChunks  int
	separators []string
	length     LengthFunc
}

// Option configures a RecursiveChunker.
type Option func(*RecursiveChunker)

// WithSeparators overrides the separator priority list.
func WithSeparators(seps []string) Option {
	return func(c *RecursiveChunker) {
		if len(seps) > 0 {
			c.separators = seps
		}
	}
}

// WithLengthFunc overrides how chunk length is measured.
func WithLengthFunc(fn LengthFunc) Option {
	return func(c *RecursiveChunker) {
		if fn != nil {
			c.length = fn
		}
	}
}

// WithMaxChunks caps the number of chunks produced per document.
func WithMaxChunks(n int) Option {
	return func(c *RecursiveChunker) {
		if n > 0 {
			c.maxChunks = n
		}
	}
}

func NewRecursiveChunker(size, overlap int, opts ...Option) *RecursiveChunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	c := &RecursiveChunker{
		size:       size,
		overlap:    overlap,
		maxChunks:  DefaultMaxChunks,
		separators: DefaultSeparators,
		length:     RuneLength,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Chunk splits the document into ordered chunks. IDs are left empty for the
// indexer to assign. Offsets are byte offsets into document.Content.
func (c *RecursiveChunker) Chunk(document domain.Document) ([]domain.Chunk, error) {
	texts := c.Split(document.Content)
	if len(texts) == 0 {
		return nil, domain.ErrEmptyInput
	}
	if len(texts) > c.maxChunks {
		texts = texts[:c.maxChunks]
	}
	chunks := make([]domain.Chunk, len(texts))
	from := 0
	for i, text := range texts {
		offset := locate(document.Content, text, from)
		if offset >= 0 {
			from = offset + 1
		}
		chunks[i] = domain.Chunk{Text: text, Index: i, Offset: offset}
	}
	return chunks, nil
}

// Split returns the chunk texts without any cap applied.
func (c *RecursiveChunker) Split(text string) []string {
	return c.split(text, c.separators)
}

func (c *RecursiveChunker) split(text string, separators []string) []string {
	sep := ""
	var rest []string
	for i, s := range separators {
		if s == "" {
			break
		}
		if strings.Contains(text, s) {
			sep = s
			rest = separators[i+1:]
			break
		}
	}

	var final, good []string
	for _, piece := range splitKeep(text, sep) {
		if c.length(piece) < c.size {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			final = append(final, c.merge(good)...)
			good = nil
		}
		if sep == "" || len(rest) == 0 {
			if t := strings.TrimSpace(piece); t != "" {
				final = append(final, t)
			}
			continue
		}
		final = append(final, c.split(piece, rest)...)
	}
	if len(good) > 0 {
		final = append(final, c.merge(good)...)
	}
	return final
}

// merge joins small pieces into chunks of at most size units, carrying up to
// overlap units of trailing pieces into the next chunk.
func (c *RecursiveChunker) merge(pieces []string) []string {
	var docs, current []string
	total := 0
	for _, p := range pieces {
		l := c.length(p)
		if total+l > c.size && len(current) > 0 {
			if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
				docs = append(docs, doc)
			}
			for len(current) > 0 && (total > c.overlap || (total+l > c.size && total > 0)) {
				total -= c.length(current[0])
				current = current[1:]
			}
		}
		current = append(current, p)
		total += l
	}
	if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
		docs = append(docs, doc)
	}
	return docs
}

// splitKeep splits text on sep, keeping sep at the start of each following piece.
// An empty separator splits into individual characters.
func splitKeep(text, sep string) []string {
	if sep == "" {
		out := make([]string, 0, len(text))
		for _, r := range text {
			out = append(out, string(r))
		}
		return out
	}
	parts := strings.Split(text, sep)
	out := make([]string, 0, len(parts))
	for i, p := range parts {
		if i > 0 {
			p = sep + p
		}
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func locate(content, text string, from int) int {
	if from < len(content) {
		if i := strings.Index(content[from:], text); i >= 0 {
			return from + i
		}
	}
	return strings.Index(content, text)
}
