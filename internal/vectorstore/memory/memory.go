package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/m-mizutani/goerr/v2"

	"bioscout/internal/domain"
	"bioscout/internal/vectorstore"
)

// Index is an in-memory document index using brute-force cosine similarity.
// Chunks are copied on the way in and out, so callers never share backing arrays with it.
type Index struct {
	mu        sync.RWMutex
	dimension int
	chunks    map[string]domain.Chunk
}

var _ domain.DocumentIndex = (*Index)(nil)

func NewIndex() *Index {
	return &Index{chunks: make(map[string]domain.Chunk)}
}

// Upsert stores all chunks or none. The vector dimension is fixed by the first embedded chunk.
func (s *Index) Upsert(ctx context.Context, chunks []domain.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dim := s.dimension
	for _, c := range chunks {
		if c.ID == "" {
			return goerr.Wrap(domain.ErrInvalidInput, "chunk without id", goerr.V(domain.SourceIDKey, c.Metadata.SourceID))
		}
		if !c.Embedded() {
			continue
		}
		if dim == 0 {
			dim = len(c.Embedding)
		}
		if len(c.Embedding) != dim {
			return goerr.Wrap(domain.ErrInvalidInput, "vector dimension mismatch",
				goerr.V(domain.ChunkIDKey, c.ID), goerr.V("expected", dim), goerr.V("got", len(c.Embedding)))
		}
	}
	s.dimension = dim
	for _, c := range chunks {
		s.chunks[c.ID] = clone(c)
	}
	return nil
}

func (s *Index) DeleteBySource(ctx context.Context, ref domain.SourceRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.chunks {
		if c.Metadata.Ref() == ref {
			delete(s.chunks, id)
		}
	}
	return nil
}

func (s *Index) Search(ctx context.Context, vector []float32, k int) ([]domain.SearchResult, error) {
	if k <= 0 {
		k = vectorstore.DefaultTopK
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]domain.SearchResult, 0, len(s.chunks))
	for _, c := range s.chunks {
		if !c.Embedded() {
			continue
		}
		results = append(results, domain.SearchResult{Chunk: c, Score: vectorstore.Cosine(c.Embedding, vector)})
	}
	results = vectorstore.Rank(results, k)
	for i := range results {
		results[i].Chunk = clone(results[i].Chunk)
	}
	return results, nil
}

func (s *Index) Sources(ctx context.Context) ([]domain.SourceRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[domain.SourceRef]struct{})
	var refs []domain.SourceRef
	for _, c := range s.chunks {
		ref := c.Metadata.Ref()
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].String() < refs[j].String() })
	return refs, nil
}

func (s *Index) Unembedded(ctx context.Context, limit int) ([]domain.Chunk, error) {
	all := s.Chunks()
	out := all[:0]
	for _, c := range all {
		if c.Embedded() {
			continue
		}
		out = append(out, c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Index) FillEmbeddings(ctx context.Context, chunks []domain.Chunk) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	filled := 0
	for _, c := range chunks {
		stored, ok := s.chunks[c.ID]
		if !ok || stored.Embedded() || stored.Text != c.Text || !c.Embedded() {
			continue
		}
		if s.dimension == 0 {
			s.dimension = len(c.Embedding)
		}
		if len(c.Embedding) != s.dimension {
			return filled, goerr.Wrap(domain.ErrInvalidInput, "vector dimension mismatch",
				goerr.V(domain.ChunkIDKey, c.ID), goerr.V("expected", s.dimension), goerr.V("got", len(c.Embedding)))
		}
		stored.Embedding = append([]float32(nil), c.Embedding...)
		s.chunks[c.ID] = stored
		filled++
	}
	return filled, nil
}

// Chunks returns a copy of every stored chunk ordered by id.
func (s *Index) Chunks() []domain.Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Chunk, 0, len(s.chunks))
	for _, c := range s.chunks {
		out = append(out, clone(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func clone(c domain.Chunk) domain.Chunk {
	if c.Embedding != nil {
		c.Embedding = append([]float32(nil), c.Embedding...)
	}
	if c.Metadata.SpeciesReferences != nil {
		c.Metadata.SpeciesReferences = append([]string(nil), c.Metadata.SpeciesReferences...)
	}
	return c
}
