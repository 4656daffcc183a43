package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"bioscout/internal/domain"
	"bioscout/internal/vectorstore"
)

const vectorName = "dense"

// pointNamespace derives stable point UUIDs from chunk ids; Qdrant only accepts
// unsigned integers or UUIDs as point ids.
var pointNamespace = uuid.MustParse("5b0c8f9e-3d1a-4c47-9a43-0d6f1b2e7c55")

// Index is a minimal REST client to Qdrant implementing domain.DocumentIndex.
// It uses one named cosine vector and creates the collection on first use.
type Index struct {
	url        string
	apiKey     string
	collection string
	dimension  int
	client     *http.Client

	mu    sync.Mutex
	ready bool
}

var _ domain.DocumentIndex = (*Index)(nil)

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Dimension  int
	Timeout    time.Duration
}

func NewIndex(cfg Config) *Index {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Index{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
		client:     &http.Client{Timeout: timeout},
	}
}

// PointID returns the Qdrant point id used for a chunk id.
func PointID(chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(chunkID)).String()
}

type payload struct {
	ChunkID           string            `json:"chunk_id"`
	Index             int               `json:"index"`
	Text              string            `json:"text"`
	SourceType        domain.SourceType `json:"source_type"`
	SourceID          string            `json:"source_id"`
	ScientificName    string            `json:"scientific_name,omitempty"`
	Title             string            `json:"title,omitempty"`
	Location          string            `json:"location,omitempty"`
	SpeciesReferences []string          `json:"species_references,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	Embedded          bool              `json:"embedded"`
}

func toPayload(c domain.Chunk) payload {
	m := c.Metadata
	return payload{
		ChunkID:           c.ID,
		Index:             c.Index,
		Text:              c.Text,
		SourceType:        m.SourceType,
		SourceID:          m.SourceID,
		ScientificName:    m.ScientificName,
		Title:             m.Title,
		Location:          m.Location,
		SpeciesReferences: m.SpeciesReferences,
		CreatedAt:         m.CreatedAt,
		Embedded:          c.Embedded(),
	}
}

func (p payload) chunk() domain.Chunk {
	return domain.Chunk{
		ID:    p.ChunkID,
		Index: p.Index,
		Text:  p.Text,
		Metadata: domain.ChunkMetadata{
			SourceType:        p.SourceType,
			SourceID:          p.SourceID,
			ScientificName:    p.ScientificName,
			Title:             p.Title,
			Location:          p.Location,
			SpeciesReferences: p.SpeciesReferences,
			CreatedAt:         p.CreatedAt,
		},
	}
}

type point struct {
	ID      string               `json:"id"`
	Vector  map[string][]float32 `json:"vector"`
	Payload payload              `json:"payload"`
}

type scoredPoint struct {
	Score   float64 `json:"score"`
	Payload payload `json:"payload"`
}

func (s *Index) ensureCollection(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	if s.dimension <= 0 {
		return goerr.Wrap(domain.ErrInvalidInput, "qdrant index needs a vector dimension")
	}
	status, err := s.do(ctx, http.MethodGet, s.collectionURL(""), nil, nil)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		body := map[string]any{
			"vectors": map[string]any{
				vectorName: map[string]any{"size": s.dimension, "distance": "Cosine"},
			},
		}
		if err := s.expect(ctx, http.MethodPut, s.collectionURL(""), body, nil); err != nil {
			return err
		}
		// payload indexes speed up delete-by-source and pending scans
		for _, field := range []struct{ name, schema string }{
			{"source_type", "keyword"}, {"source_id", "keyword"}, {"embedded", "bool"},
		} {
			idx := map[string]any{"field_name": field.name, "field_schema": field.schema}
			if err := s.expect(ctx, http.MethodPut, s.collectionURL("/index?wait=true"), idx, nil); err != nil {
				return err
			}
		}
	}
	s.ready = true
	return nil
}

func (s *Index) Upsert(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := s.ensureCollection(ctx); err != nil {
		return err
	}
	points := make([]point, len(chunks))
	for i, c := range chunks {
		if c.Embedded() && len(c.Embedding) != s.dimension {
			return goerr.Wrap(domain.ErrInvalidInput, "vector dimension mismatch",
				goerr.V(domain.ChunkIDKey, c.ID), goerr.V("expected", s.dimension), goerr.V("got", len(c.Embedding)))
		}
		vec := map[string][]float32{}
		if c.Embedded() {
			vec[vectorName] = c.Embedding
		}
		points[i] = point{ID: PointID(c.ID), Vector: vec, Payload: toPayload(c)}
	}
	return s.expect(ctx, http.MethodPut, s.collectionURL("/points?wait=true"), map[string]any{"points": points}, nil)
}

func sourceFilter(ref domain.SourceRef) map[string]any {
	return map[string]any{
		"must": []map[string]any{
			{"key": "source_type", "match": map[string]any{"value": string(ref.Type)}},
			{"key": "source_id", "match": map[string]any{"value": ref.ID}},
		},
	}
}

func (s *Index) DeleteBySource(ctx context.Context, ref domain.SourceRef) error {
	if err := s.ensureCollection(ctx); err != nil {
		return err
	}
	body := map[string]any{"filter": sourceFilter(ref)}
	return s.expect(ctx, http.MethodPost, s.collectionURL("/points/delete?wait=true"), body, nil)
}

// Search over-fetches so that ties at the cut-off are resolved by the shared ranking.
func (s *Index) Search(ctx context.Context, vector []float32, k int) ([]domain.SearchResult, error) {
	if k <= 0 {
		k = vectorstore.DefaultTopK
	}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}
	req := map[string]any{
		"vector":       map[string]any{"name": vectorName, "vector": vector},
		"limit":        k * 2,
		"with_payload": true,
		"filter": map[string]any{
			"must": []map[string]any{{"key": "embedded", "match": map[string]any{"value": true}}},
		},
	}
	var resp struct {
		Result []scoredPoint `json:"result"`
	}
	if err := s.expect(ctx, http.MethodPost, s.collectionURL("/points/search"), req, &resp); err != nil {
		return nil, err
	}
	results := make([]domain.SearchResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		results = append(results, domain.SearchResult{Chunk: r.Payload.chunk(), Score: r.Score})
	}
	return vectorstore.Rank(results, k), nil
}

type scrollResponse struct {
	Result struct {
		Points []struct {
			Payload payload `json:"payload"`
		} `json:"points"`
		NextPageOffset any `json:"next_page_offset"`
	} `json:"result"`
}

// scroll walks the collection page by page until fn returns false or points run out.
func (s *Index) scroll(ctx context.Context, filter map[string]any, fn func(payload) bool) error {
	if err := s.ensureCollection(ctx); err != nil {
		return err
	}
	var offset any
	for {
		req := map[string]any{"limit": 256, "with_payload": true, "with_vector": false}
		if filter != nil {
			req["filter"] = filter
		}
		if offset != nil {
			req["offset"] = offset
		}
		var resp scrollResponse
		if err := s.expect(ctx, http.MethodPost, s.collectionURL("/points/scroll"), req, &resp); err != nil {
			return err
		}
		for _, p := range resp.Result.Points {
			if !fn(p.Payload) {
				return nil
			}
		}
		if resp.Result.NextPageOffset == nil || len(resp.Result.Points) == 0 {
			return nil
		}
		offset = resp.Result.NextPageOffset
	}
}

func (s *Index) Sources(ctx context.Context) ([]domain.SourceRef, error) {
	seen := make(map[domain.SourceRef]struct{})
	var refs []domain.SourceRef
	err := s.scroll(ctx, nil, func(p payload) bool {
		ref := domain.SourceRef{Type: p.SourceType, ID: p.SourceID}
		if _, ok := seen[ref]; !ok {
			seen[ref] = struct{}{}
			refs = append(refs, ref)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return refs, nil
}

func (s *Index) Unembedded(ctx context.Context, limit int) ([]domain.Chunk, error) {
	filter := map[string]any{
		"must": []map[string]any{{"key": "embedded", "match": map[string]any{"value": false}}},
	}
	var out []domain.Chunk
	err := s.scroll(ctx, filter, func(p payload) bool {
		out = append(out, p.chunk())
		return limit <= 0 || len(out) < limit
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FillEmbeddings re-reads the points that are still pending and rewrites only those whose
// text is unchanged.
func (s *Index) FillEmbeddings(ctx context.Context, chunks []domain.Chunk) (int, error) {
	wanted := make(map[string]domain.Chunk, len(chunks))
	ids := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if !c.Embedded() {
			continue
		}
		if len(c.Embedding) != s.dimension {
			return 0, goerr.Wrap(domain.ErrInvalidInput, "vector dimension mismatch",
				goerr.V(domain.ChunkIDKey, c.ID), goerr.V("expected", s.dimension), goerr.V("got", len(c.Embedding)))
		}
		wanted[c.ID] = c
		ids = append(ids, PointID(c.ID))
	}
	if len(ids) == 0 {
		return 0, nil
	}

	filter := map[string]any{
		"must": []map[string]any{
			{"has_id": ids},
			{"key": "embedded", "match": map[string]any{"value": false}},
		},
	}
	var fill []domain.Chunk
	err := s.scroll(ctx, filter, func(p payload) bool {
		if c, ok := wanted[p.ChunkID]; ok && !p.Embedded && c.Text == p.Text {
			stored := p.chunk()
			stored.Embedding = c.Embedding
			fill = append(fill, stored)
		}
		return true
	})
	if err != nil {
		return 0, err
	}
	if err := s.Upsert(ctx, fill); err != nil {
		return 0, err
	}
	return len(fill), nil
}

// Drop deletes the whole collection.
func (s *Index) Drop(ctx context.Context) error {
	s.mu.Lock()
	s.ready = false
	s.mu.Unlock()
	status, err := s.do(ctx, http.MethodDelete, s.collectionURL(""), nil, nil)
	if err != nil {
		return err
	}
	if status >= 300 && status != http.StatusNotFound {
		return goerr.Wrap(domain.ErrIndexUnavailable, "qdrant drop collection failed", goerr.V("status", status))
	}
	return nil
}

func (s *Index) collectionURL(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", s.url, s.collection, suffix)
}

// expect performs a request and treats any non-2xx status as the index being unavailable.
func (s *Index) expect(ctx context.Context, method, url string, body, out any) error {
	status, err := s.do(ctx, method, url, body, out)
	if err != nil {
		return err
	}
	if status >= 300 {
		return goerr.Wrap(domain.ErrIndexUnavailable, "qdrant request failed",
			goerr.V("method", method), goerr.V("url", url), goerr.V("status", status))
	}
	return nil
}

func (s *Index) do(ctx context.Context, method, url string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, goerr.Wrap(err, "failed to encode qdrant request")
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to build qdrant request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, goerr.Wrap(domain.ErrIndexUnavailable, err.Error(), goerr.V("method", method), goerr.V("url", url))
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, goerr.Wrap(domain.ErrIndexUnavailable, "failed to decode qdrant response: "+err.Error())
		}
	}
	return resp.StatusCode, nil
}
