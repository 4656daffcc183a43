package domain

import (
	"fmt"
	"time"
)

// SourceType names the kind of record a chunk was rendered from.
type SourceType string

const (
	SourceSpecies     SourceType = "species"
	SourceObservation SourceType = "observation"
	SourceKnowledge   SourceType = "knowledge"
)

// Valid reports whether t is one of the known source types.
func (t SourceType) Valid() bool {
	return t == SourceSpecies || t == SourceObservation || t == SourceKnowledge
}

// SourceRef identifies one source record.
type SourceRef struct {
	Type SourceType `json:"source_type"`
	ID   string     `json:"source_id"`
}

func (r SourceRef) String() string { return string(r.Type) + ":" + r.ID }

// ChunkID derives the stable id of the index-th chunk of a source record.
func ChunkID(ref SourceRef, index int) string {
	return fmt.Sprintf("%s:%s:%d", ref.Type, ref.ID, index)
}

// ChunkMetadata carries the provenance of a chunk.
// SpeciesReferences always holds scientific names.
type ChunkMetadata struct {
	SourceType        SourceType `json:"source_type"`
	SourceID          string     `json:"source_id"`
	ScientificName    string     `json:"scientific_name,omitempty"`
	Title             string     `json:"title,omitempty"`
	Location          string     `json:"location,omitempty"`
	SpeciesReferences []string   `json:"species_references,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// Ref returns the source record the chunk belongs to.
func (m ChunkMetadata) Ref() SourceRef {
	return SourceRef{Type: m.SourceType, ID: m.SourceID}
}

// Chunk is a bounded span of source text, its embedding (nil until computed) and provenance.
type Chunk struct {
	ID        string        `json:"id"`
	Index     int           `json:"index"`
	Text      string        `json:"text"`
	Embedding []float32     `json:"embedding,omitempty"`
	Metadata  ChunkMetadata `json:"metadata"`
}

// Embedded reports whether the chunk has a vector and can take part in search.
func (c Chunk) Embedded() bool { return len(c.Embedding) > 0 }

// SearchResult represents a matching chunk with a relevance score.
type SearchResult struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}
