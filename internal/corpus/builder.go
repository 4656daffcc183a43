package corpus

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/sync/errgroup"

	"bioscout/internal/domain"
)

const DefaultConcurrency = 4

// Report summarises one ingestion run.
type Report struct {
	Sources    int `json:"sources"`
	Skipped    int `json:"skipped"`
	Chunks     int `json:"chunks"`
	Unembedded int `json:"unembedded"`
	Removed    int `json:"removed"`
}

// Builder turns source records into indexed chunks.
//
// Every source is written as DeleteBySource followed by Upsert, so a re-ingested record never
// leaves chunks from its previous version behind. When the embedding provider fails, the
// affected chunks are stored without vectors and the run reports ErrEmbeddingUnavailable;
// index failures abort the run.
type Builder struct {
	store       domain.SourceReader
	index       domain.DocumentIndex
	chunker     domain.Chunker
	embedder    domain.Embedder
	logger      *slog.Logger
	concurrency int

	mu           sync.Mutex
	fingerprints map[domain.SourceRef]string
}

type Option func(*Builder)

func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) { b.logger = logger }
}

// WithConcurrency bounds how many records are rendered and chunked at once.
func WithConcurrency(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

func NewBuilder(store domain.SourceReader, index domain.DocumentIndex, chunker domain.Chunker, embedder domain.Embedder, opts ...Option) *Builder {
	b := &Builder{
		store:        store,
		index:        index,
		chunker:      chunker,
		embedder:     embedder,
		logger:       slog.New(slog.DiscardHandler),
		concurrency:  DefaultConcurrency,
		fingerprints: make(map[domain.SourceRef]string),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// run accumulates the outcome of writing a set of sources.
type run struct {
	report   Report
	embedErr error
}

func (r *run) result() (Report, error) {
	if r.embedErr != nil {
		return r.report, goerr.Wrap(r.embedErr, "some chunks were stored without embeddings",
			goerr.V("unembedded", r.report.Unembedded))
	}
	return r.report, nil
}

type prepared struct {
	doc         Document
	chunks      []domain.Chunk
	fingerprint string
}

// Build ingests every source record. Unless fullRebuild is set, records whose rendering has
// not changed since they were last fully embedded are skipped. A full rebuild re-ingests
// everything and removes chunks of records that no longer exist in the store.
func (b *Builder) Build(ctx context.Context, fullRebuild bool) (Report, error) {
	docs, err := b.loadAll(ctx)
	if err != nil {
		return Report{}, err
	}
	items, err := b.prepare(ctx, docs)
	if err != nil {
		return Report{}, err
	}

	var r run
	var todo []prepared
	for _, p := range items {
		if !fullRebuild && b.unchanged(p) {
			r.report.Skipped++
			continue
		}
		todo = append(todo, p)
	}

	if err := b.write(ctx, todo, &r); err != nil {
		return r.report, err
	}
	if fullRebuild {
		if err := b.removeStale(ctx, docs, &r.report); err != nil {
			return r.report, err
		}
	}

	report := r.report

	b.logger.Info("corpus build finished",
		slog.Bool("full_rebuild", fullRebuild),
		slog.Int("sources", report.Sources),
		slog.Int("skipped", report.Skipped),
		slog.Int("chunks", report.Chunks),
		slog.Int("unembedded", report.Unembedded),
		slog.Int("removed", report.Removed))

	return r.result()
}

// IngestSource re-ingests one source record. Unknown records yield ErrNotFound.
func (b *Builder) IngestSource(ctx context.Context, ref domain.SourceRef) (Report, error) {
	doc, err := b.load(ctx, ref)
	if err != nil {
		return Report{}, err
	}
	return b.IngestDocuments(ctx, []Document{doc})
}

// IngestDocuments chunks, embeds and writes already rendered documents, replacing whatever
// their sources had in the index.
func (b *Builder) IngestDocuments(ctx context.Context, docs []Document) (Report, error) {
	items, err := b.prepare(ctx, docs)
	if err != nil {
		return Report{}, err
	}
	var r run
	if err := b.write(ctx, items, &r); err != nil {
		return r.report, err
	}
	return r.result()
}

// ReembedPending retries up to limit chunks that were stored without an embedding.
func (b *Builder) ReembedPending(ctx context.Context, limit int) (Report, error) {
	pending, err := b.index.Unembedded(ctx, limit)
	if err != nil {
		return Report{}, err
	}
	report := Report{Unembedded: len(pending)}
	if len(pending) == 0 {
		return report, nil
	}

	texts := make([]string, len(pending))
	for i, c := range pending {
		texts[i] = c.Text
	}
	vecs, err := b.embedder.Embed(ctx, texts)
	if err != nil {
		return report, err
	}
	for i := range pending {
		pending[i].Embedding = vecs[i]
	}
	// Sources re-ingested while the provider was running already own fresh chunks.
	filled, err := b.index.FillEmbeddings(ctx, pending)
	if err != nil {
		return report, err
	}

	seen := make(map[domain.SourceRef]struct{})
	for _, c := range pending {
		seen[c.Metadata.Ref()] = struct{}{}
	}
	report.Sources = len(seen)
	report.Chunks = filled
	report.Unembedded = 0
	b.logger.Info("re-embedded pending chunks",
		slog.Int("chunks", report.Chunks),
		slog.Int("sources", report.Sources),
		slog.Int("superseded", len(pending)-filled))
	return report, nil
}

func (b *Builder) loadAll(ctx context.Context) ([]Document, error) {
	species, err := b.store.GetAllSpecies(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load species")
	}
	observations, err := b.store.GetAllObservations(ctx, domain.ObservationFilter{})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load observations")
	}
	knowledge, err := b.store.GetKnowledgeSources(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load knowledge sources")
	}

	registry := make(map[string]*domain.SpeciesRecord, len(species))
	docs := make([]Document, 0, len(species)+len(observations)+len(knowledge))
	for i := range species {
		registry[species[i].ScientificName] = &species[i]
		docs = append(docs, RenderSpecies(species[i]))
	}
	for _, o := range observations {
		docs = append(docs, RenderObservation(o, registry[o.SpeciesName]))
	}
	for _, k := range knowledge {
		docs = append(docs, RenderKnowledge(k))
	}
	return docs, nil
}

func (b *Builder) load(ctx context.Context, ref domain.SourceRef) (Document, error) {
	switch ref.Type {
	case domain.SourceSpecies:
		s, err := b.store.GetSpecies(ctx, ref.ID)
		if err != nil {
			return Document{}, err
		}
		return RenderSpecies(*s), nil
	case domain.SourceObservation:
		o, err := b.store.GetObservation(ctx, ref.ID)
		if err != nil {
			return Document{}, err
		}
		// species profile is optional context for the rendering
		s, err := b.store.GetSpeciesByName(ctx, o.SpeciesName)
		if err != nil {
			s = nil
		}
		return RenderObservation(*o, s), nil
	case domain.SourceKnowledge:
		k, err := b.store.GetKnowledgeSource(ctx, ref.ID)
		if err != nil {
			return Document{}, err
		}
		return RenderKnowledge(*k), nil
	default:
		return Document{}, goerr.Wrap(domain.ErrInvalidInput, "unknown source type",
			goerr.V(domain.SourceTypeKey, ref.Type), goerr.V(domain.SourceIDKey, ref.ID))
	}
}

// prepare chunks documents concurrently, keeping input order.
func (b *Builder) prepare(ctx context.Context, docs []Document) ([]prepared, error) {
	out := make([]prepared, len(docs))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(b.concurrency)
	for i, doc := range docs {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out[i] = b.chunk(doc)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Builder) chunk(doc Document) prepared {
	texts := b.chunker.Split(doc.Text)
	chunks := make([]domain.Chunk, len(texts))
	for i, text := range texts {
		meta := doc.Metadata
		meta.SpeciesReferences = append([]string(nil), doc.Metadata.SpeciesReferences...)
		chunks[i] = domain.Chunk{
			ID:       domain.ChunkID(doc.Ref, i),
			Index:    i,
			Text:     text,
			Metadata: meta,
		}
	}
	return prepared{doc: doc, chunks: chunks, fingerprint: fingerprint(doc)}
}

func fingerprint(doc Document) string {
	h := sha1.New()
	h.Write([]byte(doc.Text))
	meta, _ := json.Marshal(doc.Metadata)
	h.Write(meta)
	return hex.EncodeToString(h.Sum(nil))
}

func (b *Builder) unchanged(p prepared) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fingerprints[p.doc.Ref] == p.fingerprint
}

func (b *Builder) remember(ref domain.SourceRef, fp string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if fp == "" {
		delete(b.fingerprints, ref)
		return
	}
	b.fingerprints[ref] = fp
}

// write embeds and stores each prepared source. After the first embedding failure the
// remaining sources are stored as pending without calling the provider again. Embedding
// failures are recorded in r; only index failures are returned.
func (b *Builder) write(ctx context.Context, items []prepared, r *run) error {
	for _, p := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		embedded := false
		if r.embedErr == nil && len(p.chunks) > 0 {
			if err := b.embed(ctx, p.chunks); err != nil {
				r.embedErr = err
				b.logger.Warn("embedding failed, storing chunks as pending",
					slog.String(domain.SourceTypeKey, string(p.doc.Ref.Type)),
					slog.String(domain.SourceIDKey, p.doc.Ref.ID),
					slog.Any("error", err))
			} else {
				embedded = true
			}
		}

		if err := b.index.DeleteBySource(ctx, p.doc.Ref); err != nil {
			return goerr.Wrap(err, "failed to delete previous chunks",
				goerr.V(domain.SourceTypeKey, p.doc.Ref.Type), goerr.V(domain.SourceIDKey, p.doc.Ref.ID))
		}
		if err := b.index.Upsert(ctx, p.chunks); err != nil {
			b.remember(p.doc.Ref, "")
			return goerr.Wrap(err, "failed to upsert chunks",
				goerr.V(domain.SourceTypeKey, p.doc.Ref.Type), goerr.V(domain.SourceIDKey, p.doc.Ref.ID))
		}

		r.report.Sources++
		r.report.Chunks += len(p.chunks)
		if embedded || len(p.chunks) == 0 {
			b.remember(p.doc.Ref, p.fingerprint)
		} else {
			r.report.Unembedded += len(p.chunks)
			b.remember(p.doc.Ref, "")
		}
	}
	return nil
}

func (b *Builder) embed(ctx context.Context, chunks []domain.Chunk) error {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := b.embedder.Embed(ctx, texts)
	if err != nil {
		return err
	}
	for i := range chunks {
		chunks[i].Embedding = vecs[i]
	}
	return nil
}

func (b *Builder) removeStale(ctx context.Context, docs []Document, report *Report) error {
	live := make(map[domain.SourceRef]struct{}, len(docs))
	for _, d := range docs {
		live[d.Ref] = struct{}{}
	}
	refs, err := b.index.Sources(ctx)
	if err != nil {
		return goerr.Wrap(err, "failed to list indexed sources")
	}
	for _, ref := range refs {
		if _, ok := live[ref]; ok {
			continue
		}
		if err := b.index.DeleteBySource(ctx, ref); err != nil {
			return goerr.Wrap(err, "failed to remove stale source",
				goerr.V(domain.SourceTypeKey, ref.Type), goerr.V(domain.SourceIDKey, ref.ID))
		}
		b.remember(ref, "")
		report.Removed++
	}
	return nil
}
