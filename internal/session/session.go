// Package session defines the persisted state of one indexed document and the
// storage contract its backends implement.
package session

import (
	"context"
	"fmt"
	"time"

	"docqa/internal/domain"
	"docqa/internal/index"
)

// DefaultTTL is how long an unused session survives before a sweep removes it.
const DefaultTTL = time.Hour

// Sweep deletion reasons.
const (
	ReasonExpired = "expired"
	ReasonDeleted = "deleted"
	ReasonCorrupt = "corrupt"
)

// Metadata is the mutable bookkeeping stored next to a session.
type Metadata struct {
	LastUsed time.Time `json:"last_used"`
	Delete   bool      `json:"delete"`
}

// StaleReason reports why a session with this metadata should be swept, or
// "" when it should be kept.
func (m Metadata) StaleReason(now time.Time, ttl time.Duration) string {
	if m.Delete {
		return ReasonDeleted
	}
	if now.Sub(m.LastUsed) > ttl {
		return ReasonExpired
	}
	return ""
}

// PositionMap maps an index position to the chunk id stored at it.
type PositionMap []string

// Validate checks that the map covers exactly size positions, that ids are
// unique, and that every id resolves in docstore.
func (p PositionMap) Validate(docstore map[string]domain.Chunk, size int) error {
	if len(p) != size {
		return fmt.Errorf("position map has %d entries, index has %d vectors", len(p), size)
	}
	if len(docstore) != len(p) {
		return fmt.Errorf("position map has %d entries, docstore has %d chunks", len(p), len(docstore))
	}
	seen := make(map[string]struct{}, len(p))
	for i, id := range p {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("duplicate chunk id %q at position %d", id, i)
		}
		seen[id] = struct{}{}
		if _, ok := docstore[id]; !ok {
			return fmt.Errorf("chunk id %q at position %d missing from docstore", id, i)
		}
	}
	return nil
}

// Session is one indexed document: its vector index, chunk docstore and the
// table linking the two.
type Session struct {
	ID        string
	Docstore  map[string]domain.Chunk
	Positions PositionMap
	Index     *index.Flat
	Meta      Metadata
}

// Resolve returns the chunk stored at an index position.
func (s *Session) Resolve(pos int) (domain.Chunk, bool) {
	if pos < 0 || pos >= len(s.Positions) {
		return domain.Chunk{}, false
	}
	ch, ok := s.Docstore[s.Positions[pos]]
	return ch, ok
}

// SweepReport summarises one cleanup pass.
type SweepReport struct {
	Scanned  int
	Deleted  map[string]int
	Failures int
}

// NewSweepReport returns an empty report ready for counting.
func NewSweepReport() SweepReport {
	return SweepReport{Deleted: make(map[string]int)}
}

// TotalDeleted returns the number of sessions removed for any reason.
func (r SweepReport) TotalDeleted() int {
	n := 0
	for _, c := range r.Deleted {
		n += c
	}
	return n
}

// Store persists sessions. Implementations serialise operations on the same
// session id and keep different sessions independent.
type Store interface {
	// Save persists all artifacts of s. A reader never observes a partial session.
	Save(ctx context.Context, s *Session) error
	// Load returns the session and refreshes its last-used time. Missing or
	// corrupt artifacts yield domain.ErrSessionNotFound.
	Load(ctx context.Context, id string) (*Session, error)
	// MarkDeleted flags the session for removal by the next sweep.
	MarkDeleted(ctx context.Context, id string) error
	// Sweep removes expired, flagged and corrupt sessions. Failures on single
	// sessions are counted, not returned.
	Sweep(ctx context.Context) (SweepReport, error)
}
