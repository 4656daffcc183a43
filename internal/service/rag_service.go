package service

import (
	"context"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"bioscout/internal/async"
	"bioscout/internal/corpus"
	"bioscout/internal/domain"
	"bioscout/internal/matcher"
	"bioscout/internal/vectorstore"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
	// MaxAlternativeLabels bounds the classifier labels reported next to the top one.
	MaxAlternativeLabels = 3

	// TechnicalIssueAnswer is returned by Ask when embedding or retrieval fails.
	TechnicalIssueAnswer = "I'm sorry, I couldn't process your question due to a technical issue. Please try again later."
)

// Dispatcher runs a handler without making the caller wait for it.
type Dispatcher interface {
	Dispatch(ctx context.Context, handler func(ctx context.Context) error)
}

// RAGService answers questions over the species, observation and knowledge corpus and
// administers that corpus.
type RAGService struct {
	store       domain.DataStore
	index       domain.DocumentIndex
	embedder    domain.Embedder
	synthesizer domain.Synthesizer
	builder     *corpus.Builder
	matcher     *matcher.Matcher
	dispatcher  Dispatcher
	logger      *slog.Logger

	topK        int
	minScore    float64
	concurrency int
	now         func() time.Time
}

type Option func(*RAGService)

func WithLogger(logger *slog.Logger) Option {
	return func(s *RAGService) { s.logger = logger }
}

func WithTopK(k int) Option {
	return func(s *RAGService) {
		if k > 0 {
			s.topK = k
		}
	}
}

// WithMinScore drops retrieved chunks scoring at or below score.
func WithMinScore(score float64) Option {
	return func(s *RAGService) { s.minScore = score }
}

func WithDispatcher(d Dispatcher) Option {
	return func(s *RAGService) { s.dispatcher = d }
}

func WithMatcher(m *matcher.Matcher) Option {
	return func(s *RAGService) { s.matcher = m }
}

func WithIngestConcurrency(n int) Option {
	return func(s *RAGService) { s.concurrency = n }
}

func WithClock(now func() time.Time) Option {
	return func(s *RAGService) { s.now = now }
}

func NewRAGService(store domain.DataStore, index domain.DocumentIndex, chunker domain.Chunker, embedder domain.Embedder, synthesizer domain.Synthesizer, opts ...Option) *RAGService {
	s := &RAGService{
		store:       store,
		index:       index,
		embedder:    embedder,
		synthesizer: synthesizer,
		matcher:     matcher.New(),
		logger:      slog.New(slog.DiscardHandler),
		topK:        vectorstore.DefaultTopK,
		concurrency: corpus.DefaultConcurrency,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.dispatcher == nil {
		s.dispatcher = async.NewDispatcher(s.logger)
	}
	s.builder = corpus.NewBuilder(store, index, chunker, embedder,
		corpus.WithLogger(s.logger), corpus.WithConcurrency(s.concurrency))
	return s
}

// Ask answers a question from the indexed corpus. Only an empty question is an error: any
// failure past validation degrades to a fallback answer with no sources.
func (s *RAGService) Ask(ctx context.Context, question, userID string) (domain.AnswerResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return domain.AnswerResult{}, goerr.Wrap(domain.ErrInvalidInput, "question is empty")
	}

	retrieved, err := s.retrieve(ctx, question)
	if err != nil {
		s.logger.Warn("answering with fallback", slog.String("question", question), slog.Any("error", err))
		return fallback(TechnicalIssueAnswer), nil
	}

	chunks := make([]domain.Chunk, len(retrieved))
	for i, r := range retrieved {
		chunks[i] = r.Chunk
	}
	answer := s.synthesizer.Synthesize(question, chunks)
	speciesIDs, observationIDs := s.related(ctx, chunks)
	result := domain.AnswerResult{
		InteractionID:         uuid.NewString(),
		Answer:                answer.Text,
		Sources:               nonNil(answer.Sources),
		RelatedSpeciesIDs:     speciesIDs,
		RelatedObservationIDs: observationIDs,
		FollowUpQuestions:     nonNil(answer.FollowUps),
		Retrieved:             retrieved,
	}

	interaction := domain.QAInteraction{
		ID:                    result.InteractionID,
		Question:              question,
		Answer:                result.Answer,
		Sources:               result.Sources,
		RelatedSpeciesIDs:     result.RelatedSpeciesIDs,
		RelatedObservationIDs: result.RelatedObservationIDs,
		UserID:                strings.TrimSpace(userID),
		Timestamp:             s.now().UTC(),
	}
	s.dispatcher.Dispatch(ctx, func(ctx context.Context) error {
		return s.store.PersistQAInteraction(ctx, interaction)
	})

	s.logger.Info("answered question",
		slog.String("interaction_id", result.InteractionID),
		slog.Int("chunks", len(chunks)),
		slog.Int("sources", len(result.Sources)))
	return result, nil
}

func fallback(text string) domain.AnswerResult {
	return domain.AnswerResult{
		Answer:                text,
		Sources:               []string{},
		RelatedSpeciesIDs:     []string{},
		RelatedObservationIDs: []string{},
		FollowUpQuestions:     []string{},
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (s *RAGService) retrieve(ctx context.Context, question string) ([]domain.SearchResult, error) {
	results, err := s.Search(ctx, question, s.topK)
	if err != nil {
		return nil, err
	}
	kept := make([]domain.SearchResult, 0, len(results))
	for _, r := range results {
		if r.Score <= s.minScore {
			continue
		}
		kept = append(kept, r)
	}
	return kept, nil
}

// Search embeds query and returns the k most similar indexed chunks. A query with nothing
// to embed matches nothing.
func (s *RAGService) Search(ctx context.Context, query string, k int) ([]domain.SearchResult, error) {
	if k <= 0 {
		k = s.topK
	}
	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, goerr.Wrap(domain.ErrEmbeddingUnavailable, "embedder returned no vector for query")
	}
	if isZero(vecs[0]) {
		return []domain.SearchResult{}, nil
	}
	return s.index.Search(ctx, vecs[0], k)
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// related resolves the species and observations the chunks talk about. Names the store
// does not know are skipped.
func (s *RAGService) related(ctx context.Context, chunks []domain.Chunk) ([]string, []string) {
	speciesIDs, observationIDs := []string{}, []string{}
	seenSpecies := make(map[string]struct{})
	seenObservations := make(map[string]struct{})
	resolved := make(map[string]string)

	for _, c := range chunks {
		names := append([]string{c.Metadata.ScientificName}, c.Metadata.SpeciesReferences...)
		for _, name := range names {
			if name == "" {
				continue
			}
			id, ok := resolved[name]
			if !ok {
				if sp, err := s.store.GetSpeciesByName(ctx, name); err == nil {
					id = sp.ID
				} else {
					s.logger.Debug("species reference not resolved", slog.String("name", name), slog.Any("error", err))
				}
				resolved[name] = id
			}
			if id == "" {
				continue
			}
			if _, dup := seenSpecies[id]; !dup {
				seenSpecies[id] = struct{}{}
				speciesIDs = append(speciesIDs, id)
			}
		}
		if c.Metadata.SourceType == domain.SourceObservation && c.Metadata.SourceID != "" {
			if _, dup := seenObservations[c.Metadata.SourceID]; !dup {
				seenObservations[c.Metadata.SourceID] = struct{}{}
				observationIDs = append(observationIDs, c.Metadata.SourceID)
			}
		}
	}
	return speciesIDs, observationIDs
}

// IngestCorpus indexes every source record. See corpus.Builder.Build.
func (s *RAGService) IngestCorpus(ctx context.Context, fullRebuild bool) (corpus.Report, error) {
	return s.builder.Build(ctx, fullRebuild)
}

// IngestSource re-indexes one source record after it was created or edited.
func (s *RAGService) IngestSource(ctx context.Context, ref domain.SourceRef) (corpus.Report, error) {
	if !ref.Type.Valid() || strings.TrimSpace(ref.ID) == "" {
		return corpus.Report{}, goerr.Wrap(domain.ErrInvalidInput, "invalid source reference",
			goerr.V(domain.SourceTypeKey, ref.Type), goerr.V(domain.SourceIDKey, ref.ID))
	}
	return s.builder.IngestSource(ctx, ref)
}

// ReembedPending retries embedding for chunks stored during a provider outage.
func (s *RAGService) ReembedPending(ctx context.Context, limit int) (corpus.Report, error) {
	return s.builder.ReembedPending(ctx, limit)
}

// MatchSpecies matches a free-text label against the species registry.
func (s *RAGService) MatchSpecies(ctx context.Context, label string) (domain.MatchResult, error) {
	if strings.TrimSpace(label) == "" {
		return domain.MatchResult{}, goerr.Wrap(domain.ErrInvalidInput, "label is empty")
	}
	registry, err := s.store.GetAllSpecies(ctx)
	if err != nil {
		return domain.MatchResult{}, goerr.Wrap(err, "failed to load species registry")
	}
	return s.matcher.Match(label, registry), nil
}

// Identify takes classifier predictions, keeps the most confident as the identification
// and matches it against the registry.
func (s *RAGService) Identify(ctx context.Context, predictions []domain.Prediction) (domain.Identification, error) {
	var ranked []domain.Prediction
	for _, p := range predictions {
		if strings.TrimSpace(p.Label) != "" {
			ranked = append(ranked, p)
		}
	}
	if len(ranked) == 0 {
		return domain.Identification{}, goerr.Wrap(domain.ErrInvalidInput, "no predictions to identify")
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Confidence > ranked[j].Confidence })

	top := ranked[0]
	match, err := s.MatchSpecies(ctx, top.Label)
	if err != nil {
		return domain.Identification{}, err
	}
	alternatives := ranked[1:]
	if len(alternatives) > MaxAlternativeLabels {
		alternatives = alternatives[:MaxAlternativeLabels]
	}
	return domain.Identification{
		Label:        top.Label,
		Confidence:   top.Confidence,
		Alternatives: append([]domain.Prediction{}, alternatives...),
		Match:        match,
	}, nil
}

// Train indexes submitted documents. Every document is validated before anything is
// written. Each document is persisted as a knowledge record so that later rebuilds reproduce
// it. Documents about a species or an observation become notes keyed by that source
// (TrainedNoteID) and never replace the indexed rendering of the record itself.
func (s *RAGService) Train(ctx context.Context, docs []domain.TrainingDocument) (corpus.Report, error) {
	if len(docs) == 0 {
		return corpus.Report{}, goerr.Wrap(domain.ErrInvalidInput, "no documents to train on")
	}
	now := s.now().UTC()
	records := make([]domain.KnowledgeRecord, 0, len(docs))
	for i, d := range docs {
		if strings.TrimSpace(d.Text) == "" {
			return corpus.Report{}, goerr.Wrap(domain.ErrInvalidInput, "document text is empty", goerr.V("document", i))
		}
		meta := d.Metadata
		if !meta.SourceType.Valid() {
			return corpus.Report{}, goerr.Wrap(domain.ErrInvalidInput, "unknown source type",
				goerr.V("document", i), goerr.V(domain.SourceTypeKey, meta.SourceType))
		}
		record := domain.KnowledgeRecord{
			ID:                meta.SourceID,
			Title:             meta.Title,
			Content:           d.Text,
			Source:            d.Source,
			SpeciesReferences: append([]string(nil), meta.SpeciesReferences...),
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if meta.SourceType != domain.SourceKnowledge {
			if strings.TrimSpace(meta.SourceID) == "" {
				return corpus.Report{}, goerr.Wrap(domain.ErrInvalidInput, "source id is required",
					goerr.V("document", i), goerr.V(domain.SourceTypeKey, meta.SourceType))
			}
			record.ID = TrainedNoteID(meta.Ref())
			if record.Title == "" {
				record.Title = meta.ScientificName
			}
			if meta.ScientificName != "" && !slices.Contains(record.SpeciesReferences, meta.ScientificName) {
				record.SpeciesReferences = append([]string{meta.ScientificName}, record.SpeciesReferences...)
			}
		}
		if record.ID == "" {
			record.ID = uuid.NewString()
		}
		if record.Title == "" {
			record.Title = "Untitled"
		}
		records = append(records, record)
	}

	rendered := make([]corpus.Document, 0, len(records))
	for _, k := range records {
		if err := s.store.PutKnowledgeSource(ctx, k); err != nil {
			return corpus.Report{}, goerr.Wrap(err, "failed to store knowledge record", goerr.V(domain.SourceIDKey, k.ID))
		}
		rendered = append(rendered, corpus.RenderKnowledge(k))
	}
	return s.builder.IngestDocuments(ctx, rendered)
}

// TrainedNoteID is the knowledge record id under which training text about a species or
// observation is kept.
func TrainedNoteID(ref domain.SourceRef) string {
	return "note-" + string(ref.Type) + "-" + ref.ID
}

// History returns the user's most recent interactions, newest first.
func (s *RAGService) History(ctx context.Context, userID string, limit int) ([]domain.QAInteraction, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, goerr.Wrap(domain.ErrInvalidInput, "user id is required")
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	return s.store.ListQAInteractions(ctx, userID, limit)
}
