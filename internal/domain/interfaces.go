package domain

import "context"

// Chunker splits source text into bounded, overlapping segments suitable for embedding.
type Chunker interface {
	Split(text string) []string
}

// Embedder converts free text into fixed-dimension vectors, one per input and in input order.
// A failing call yields no partial results.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// DocumentIndex stores chunks with their vectors and supports similarity search.
// Upsert is atomic per chunk and idempotent by chunk id.
type DocumentIndex interface {
	Upsert(ctx context.Context, chunks []Chunk) error
	DeleteBySource(ctx context.Context, ref SourceRef) error
	// Search returns at most k embedded chunks ranked by similarity, ties broken by
	// newest CreatedAt first and then by chunk id.
	Search(ctx context.Context, vector []float32, k int) ([]SearchResult, error)
	// Sources lists every source record that currently owns at least one chunk.
	Sources(ctx context.Context) ([]SourceRef, error)
	// Unembedded returns up to limit chunks still waiting for an embedding.
	Unembedded(ctx context.Context, limit int) ([]Chunk, error)
	// FillEmbeddings sets the vectors of chunks that are still stored unembedded with the
	// same text and returns how many were filled. Chunks deleted or replaced in the meantime
	// are skipped, never recreated.
	FillEmbeddings(ctx context.Context, chunks []Chunk) (int, error)
}

// Synthesizer composes an answer from a question and its ranked chunks.
// Implementations must not depend on how the chunks were retrieved.
type Synthesizer interface {
	Synthesize(question string, chunks []Chunk) Answer
}

// SourceReader is the read side of the external data layer.
// Lookups of unknown records return ErrNotFound.
type SourceReader interface {
	GetAllSpecies(ctx context.Context) ([]SpeciesRecord, error)
	GetSpecies(ctx context.Context, id string) (*SpeciesRecord, error)
	GetSpeciesByName(ctx context.Context, name string) (*SpeciesRecord, error)
	GetAllObservations(ctx context.Context, filter ObservationFilter) ([]ObservationRecord, error)
	GetObservation(ctx context.Context, id string) (*ObservationRecord, error)
	GetKnowledgeSources(ctx context.Context) ([]KnowledgeRecord, error)
	GetKnowledgeSource(ctx context.Context, id string) (*KnowledgeRecord, error)
}

// SourceWriter creates or replaces source records. Used by seeding and training.
type SourceWriter interface {
	PutSpecies(ctx context.Context, species SpeciesRecord) error
	PutObservation(ctx context.Context, observation ObservationRecord) error
	PutKnowledgeSource(ctx context.Context, knowledge KnowledgeRecord) error
}

// InteractionStore keeps the question/answer history.
type InteractionStore interface {
	PersistQAInteraction(ctx context.Context, interaction QAInteraction) error
	ListQAInteractions(ctx context.Context, userID string, limit int) ([]QAInteraction, error)
}

// DataStore is the full external data layer the core reads from and writes to.
type DataStore interface {
	SourceReader
	SourceWriter
	InteractionStore
	Close() error
}
