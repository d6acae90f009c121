package session

import (
	"encoding/json"
	"fmt"

	"docqa/internal/domain"
	"docqa/internal/index"
)

// Artifact names shared by every backend.
const (
	IndexArtifact    = "index.bin"
	DataArtifact     = "data.json"
	MetadataArtifact = "metadata.json"
)

type dataFile struct {
	Docstore  []domain.Chunk `json:"docstore"`
	Positions []string       `json:"positions"`
}

// Artifacts is the serialized form of a session.
type Artifacts struct {
	Index    []byte
	Data     []byte
	Metadata []byte
}

// Encode serializes s. Chunks are written in position order.
func Encode(s *Session) (Artifacts, error) {
	if s.Index == nil {
		return Artifacts{}, fmt.Errorf("session %s has no index", s.ID)
	}
	if err := s.Positions.Validate(s.Docstore, s.Index.Size()); err != nil {
		return Artifacts{}, err
	}
	idx, err := s.Index.MarshalBinary()
	if err != nil {
		return Artifacts{}, fmt.Errorf("encode index: %w", err)
	}
	df := dataFile{Docstore: make([]domain.Chunk, 0, len(s.Positions)), Positions: s.Positions}
	for _, id := range s.Positions {
		df.Docstore = append(df.Docstore, s.Docstore[id])
	}
	data, err := json.Marshal(df)
	if err != nil {
		return Artifacts{}, fmt.Errorf("encode data: %w", err)
	}
	meta, err := EncodeMetadata(s.Meta)
	if err != nil {
		return Artifacts{}, err
	}
	return Artifacts{Index: idx, Data: data, Metadata: meta}, nil
}

// Decode rebuilds and validates a session from its artifacts.
func Decode(id string, a Artifacts) (*Session, error) {
	flat, err := index.UnmarshalFlat(a.Index)
	if err != nil {
		return nil, fmt.Errorf("decode index: %w", err)
	}
	var df dataFile
	if err := json.Unmarshal(a.Data, &df); err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}
	docstore := make(map[string]domain.Chunk, len(df.Docstore))
	for _, ch := range df.Docstore {
		docstore[ch.ID] = ch
	}
	positions := PositionMap(df.Positions)
	if err := positions.Validate(docstore, flat.Size()); err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}
	meta, err := DecodeMetadata(a.Metadata)
	if err != nil {
		return nil, err
	}
	return &Session{ID: id, Docstore: docstore, Positions: positions, Index: flat, Meta: meta}, nil
}

// EncodeMetadata serializes m; last_used is written as RFC 3339 with nanoseconds.
func EncodeMetadata(m Metadata) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return b, nil
}

// DecodeMetadata parses metadata written by EncodeMetadata.
func DecodeMetadata(b []byte) (Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(b, &m); err != nil {
		return Metadata{}, fmt.Errorf("decode metadata: %w", err)
	}
	if m.LastUsed.IsZero() {
		return Metadata{}, fmt.Errorf("decode metadata: missing last_used")
	}
	return m, nil
}
