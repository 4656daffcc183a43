package domain

import "github.com/m-mizutani/goerr/v2"

// Error taxonomy of the question-answering core. Wrap with goerr and test with errors.Is.
var (
	ErrInvalidInput         = goerr.New("invalid input")
	ErrEmbeddingUnavailable = goerr.New("embedding unavailable")
	ErrIndexUnavailable     = goerr.New("index unavailable")
	ErrNotFound             = goerr.New("not found")
)

// Context keys for error values
const (
	SourceTypeKey = "source_type"
	SourceIDKey   = "source_id"
	ChunkIDKey    = "chunk_id"
)
