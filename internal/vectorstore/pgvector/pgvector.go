package pgvector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/lib/pq"
	"github.com/m-mizutani/goerr/v2"
	pgvec "github.com/pgvector/pgvector-go"

	"bioscout/internal/domain"
	"bioscout/internal/vectorstore"
)

const DefaultTable = "bioscout_chunks"

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

type Config struct {
	DSN       string
	Table     string
	Dimension int
}

// Index stores chunks in Postgres and searches them with pgvector cosine distance.
type Index struct {
	db        *sql.DB
	table     string
	dimension int
}

var _ domain.DocumentIndex = (*Index)(nil)

// NewIndex connects to Postgres and creates the vector extension and chunk table if missing.
func NewIndex(ctx context.Context, cfg Config) (*Index, error) {
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if !tableName.MatchString(cfg.Table) {
		return nil, goerr.Wrap(domain.ErrInvalidInput, "invalid table name", goerr.V("table", cfg.Table))
	}
	if cfg.Dimension <= 0 {
		return nil, goerr.Wrap(domain.ErrInvalidInput, "pgvector index needs a vector dimension")
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, goerr.Wrap(domain.ErrIndexUnavailable, err.Error())
	}
	idx := &Index{db: db, table: cfg.Table, dimension: cfg.Dimension}
	if err := idx.createTable(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return idx, nil
}

func (s *Index) createTable(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			source_type TEXT NOT NULL,
			source_id TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			text TEXT NOT NULL,
			embedding vector(%d),
			species_references TEXT[] NOT NULL DEFAULT '{}',
			metadata JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL
		)`, s.table, s.dimension),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_source_idx ON %s (source_type, source_id)`, s.table, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_species_idx ON %s USING GIN (species_references)`, s.table, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return goerr.Wrap(domain.ErrIndexUnavailable, err.Error(), goerr.V("table", s.table))
		}
	}
	return nil
}

func (s *Index) Close() error { return s.db.Close() }

// Upsert writes all chunks in one transaction.
func (s *Index) Upsert(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	for _, c := range chunks {
		if c.Embedded() && len(c.Embedding) != s.dimension {
			return goerr.Wrap(domain.ErrInvalidInput, "vector dimension mismatch",
				goerr.V(domain.ChunkIDKey, c.ID), goerr.V("expected", s.dimension), goerr.V("got", len(c.Embedding)))
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return goerr.Wrap(domain.ErrIndexUnavailable, err.Error())
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, source_type, source_id, chunk_index, text, embedding, species_references, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			source_type = EXCLUDED.source_type,
			source_id = EXCLUDED.source_id,
			chunk_index = EXCLUDED.chunk_index,
			text = EXCLUDED.text,
			embedding = EXCLUDED.embedding,
			species_references = EXCLUDED.species_references,
			metadata = EXCLUDED.metadata,
			created_at = EXCLUDED.created_at`, s.table))
	if err != nil {
		return goerr.Wrap(domain.ErrIndexUnavailable, err.Error())
	}
	defer stmt.Close()

	for _, c := range chunks {
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return goerr.Wrap(err, "failed to encode chunk metadata", goerr.V(domain.ChunkIDKey, c.ID))
		}
		var embedding any
		if c.Embedded() {
			embedding = pgvec.NewVector(c.Embedding)
		}
		refs := c.Metadata.SpeciesReferences
		if refs == nil {
			refs = []string{}
		}
		if _, err := stmt.ExecContext(ctx,
			c.ID,
			string(c.Metadata.SourceType),
			c.Metadata.SourceID,
			c.Index,
			c.Text,
			embedding,
			pq.Array(refs),
			meta,
			c.Metadata.CreatedAt,
		); err != nil {
			return goerr.Wrap(domain.ErrIndexUnavailable, err.Error(), goerr.V(domain.ChunkIDKey, c.ID))
		}
	}
	if err := tx.Commit(); err != nil {
		return goerr.Wrap(domain.ErrIndexUnavailable, err.Error())
	}
	return nil
}

func (s *Index) DeleteBySource(ctx context.Context, ref domain.SourceRef) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE source_type = $1 AND source_id = $2`, s.table),
		string(ref.Type), ref.ID)
	if err != nil {
		return goerr.Wrap(domain.ErrIndexUnavailable, err.Error(),
			goerr.V(domain.SourceTypeKey, ref.Type), goerr.V(domain.SourceIDKey, ref.ID))
	}
	return nil
}

// Search ranks by cosine distance; score is 1 - distance.
func (s *Index) Search(ctx context.Context, vector []float32, k int) ([]domain.SearchResult, error) {
	if k <= 0 {
		k = vectorstore.DefaultTopK
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, chunk_index, text, species_references, metadata, created_at, 1 - (embedding <=> $1) AS score
		FROM %s
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> $1, created_at DESC, id
		LIMIT $2`, s.table),
		pgvec.NewVector(vector), k)
	if err != nil {
		return nil, goerr.Wrap(domain.ErrIndexUnavailable, err.Error())
	}
	defer rows.Close()

	var results []domain.SearchResult
	for rows.Next() {
		var score sql.NullFloat64
		c, err := scanChunk(rows, &score)
		if err != nil {
			return nil, err
		}
		results = append(results, domain.SearchResult{Chunk: c, Score: score.Float64})
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(domain.ErrIndexUnavailable, err.Error())
	}
	return vectorstore.Rank(results, k), nil
}

func (s *Index) Sources(ctx context.Context) ([]domain.SourceRef, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT DISTINCT source_type, source_id FROM %s ORDER BY source_type, source_id`, s.table))
	if err != nil {
		return nil, goerr.Wrap(domain.ErrIndexUnavailable, err.Error())
	}
	defer rows.Close()

	var refs []domain.SourceRef
	for rows.Next() {
		var ref domain.SourceRef
		if err := rows.Scan(&ref.Type, &ref.ID); err != nil {
			return nil, goerr.Wrap(domain.ErrIndexUnavailable, err.Error())
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(domain.ErrIndexUnavailable, err.Error())
	}
	return refs, nil
}

func (s *Index) Unembedded(ctx context.Context, limit int) ([]domain.Chunk, error) {
	query := fmt.Sprintf(`
		SELECT id, chunk_index, text, species_references, metadata, created_at, NULL::float8
		FROM %s WHERE embedding IS NULL ORDER BY id`, s.table)
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, goerr.Wrap(domain.ErrIndexUnavailable, err.Error())
	}
	defer rows.Close()

	var out []domain.Chunk
	for rows.Next() {
		var score sql.NullFloat64
		c, err := scanChunk(rows, &score)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(domain.ErrIndexUnavailable, err.Error())
	}
	return out, nil
}

// FillEmbeddings only touches rows that are still pending with unchanged text, so a
// concurrent re-ingestion wins over a late retry.
func (s *Index) FillEmbeddings(ctx context.Context, chunks []domain.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, goerr.Wrap(domain.ErrIndexUnavailable, err.Error())
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`UPDATE %s SET embedding = $1 WHERE id = $2 AND text = $3 AND embedding IS NULL`, s.table))
	if err != nil {
		return 0, goerr.Wrap(domain.ErrIndexUnavailable, err.Error())
	}
	defer stmt.Close()

	filled := 0
	for _, c := range chunks {
		if !c.Embedded() {
			continue
		}
		if len(c.Embedding) != s.dimension {
			return 0, goerr.Wrap(domain.ErrInvalidInput, "vector dimension mismatch",
				goerr.V(domain.ChunkIDKey, c.ID), goerr.V("expected", s.dimension), goerr.V("got", len(c.Embedding)))
		}
		res, err := stmt.ExecContext(ctx, pgvec.NewVector(c.Embedding), c.ID, c.Text)
		if err != nil {
			return 0, goerr.Wrap(domain.ErrIndexUnavailable, err.Error(), goerr.V(domain.ChunkIDKey, c.ID))
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, goerr.Wrap(domain.ErrIndexUnavailable, err.Error(), goerr.V(domain.ChunkIDKey, c.ID))
		}
		filled += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, goerr.Wrap(domain.ErrIndexUnavailable, err.Error())
	}
	return filled, nil
}

// scanChunk reads one row without the vector; search callers never need it back.
func scanChunk(rows *sql.Rows, score *sql.NullFloat64) (domain.Chunk, error) {
	var (
		c    domain.Chunk
		refs []string
		meta []byte
	)
	if err := rows.Scan(&c.ID, &c.Index, &c.Text, pq.Array(&refs), &meta, &c.Metadata.CreatedAt, score); err != nil {
		return c, goerr.Wrap(domain.ErrIndexUnavailable, err.Error())
	}
	createdAt := c.Metadata.CreatedAt
	if err := json.Unmarshal(meta, &c.Metadata); err != nil {
		return c, goerr.Wrap(err, "failed to decode chunk metadata", goerr.V(domain.ChunkIDKey, c.ID))
	}
	c.Metadata.CreatedAt = createdAt
	if len(refs) > 0 {
		c.Metadata.SpeciesReferences = refs
	}
	return c, nil
}
