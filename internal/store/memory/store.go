package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/m-mizutani/goerr/v2"

	"bioscout/internal/domain"
)

// Ensure Store implements the interface.
var _ domain.DataStore = (*Store)(nil)

// Store is an in-memory implementation of domain.DataStore.
type Store struct {
	mu           sync.RWMutex
	species      map[string]domain.SpeciesRecord
	observations map[string]domain.ObservationRecord
	knowledge    map[string]domain.KnowledgeRecord
	interactions []domain.QAInteraction
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		species:      make(map[string]domain.SpeciesRecord),
		observations: make(map[string]domain.ObservationRecord),
		knowledge:    make(map[string]domain.KnowledgeRecord),
	}
}

func notFound(kind, id string) error {
	return goerr.Wrap(domain.ErrNotFound, kind+" not found", goerr.V("id", id))
}

// GetAllSpecies returns every species ordered by scientific name.
func (s *Store) GetAllSpecies(_ context.Context) ([]domain.SpeciesRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.SpeciesRecord, 0, len(s.species))
	for _, sp := range s.species {
		out = append(out, sp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ScientificName != out[j].ScientificName {
			return out[i].ScientificName < out[j].ScientificName
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) GetSpecies(_ context.Context, id string) (*domain.SpeciesRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sp, ok := s.species[id]
	if !ok {
		return nil, notFound("species", id)
	}
	return &sp, nil
}

// GetSpeciesByName matches the scientific name first, then common names, ignoring case.
func (s *Store) GetSpeciesByName(ctx context.Context, name string) (*domain.SpeciesRecord, error) {
	all, _ := s.GetAllSpecies(ctx)
	for i := range all {
		if strings.EqualFold(all[i].ScientificName, name) {
			return &all[i], nil
		}
	}
	for i := range all {
		for _, common := range all[i].CommonNames {
			if strings.EqualFold(common, name) {
				return &all[i], nil
			}
		}
	}
	return nil, notFound("species", name)
}

func (s *Store) GetAllObservations(_ context.Context, filter domain.ObservationFilter) ([]domain.ObservationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ObservationRecord, 0, len(s.observations))
	for _, o := range s.observations {
		if filter.Matches(o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetObservation(_ context.Context, id string) (*domain.ObservationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.observations[id]
	if !ok {
		return nil, notFound("observation", id)
	}
	return &o, nil
}

func (s *Store) GetKnowledgeSources(_ context.Context) ([]domain.KnowledgeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.KnowledgeRecord, 0, len(s.knowledge))
	for _, k := range s.knowledge {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetKnowledgeSource(_ context.Context, id string) (*domain.KnowledgeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.knowledge[id]
	if !ok {
		return nil, notFound("knowledge source", id)
	}
	return &k, nil
}

func (s *Store) PutSpecies(_ context.Context, species domain.SpeciesRecord) error {
	if species.ID == "" {
		return goerr.Wrap(domain.ErrInvalidInput, "species id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.species[species.ID] = species
	return nil
}

func (s *Store) PutObservation(_ context.Context, observation domain.ObservationRecord) error {
	if observation.ID == "" {
		return goerr.Wrap(domain.ErrInvalidInput, "observation id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observations[observation.ID] = observation
	return nil
}

func (s *Store) PutKnowledgeSource(_ context.Context, knowledge domain.KnowledgeRecord) error {
	if knowledge.ID == "" {
		return goerr.Wrap(domain.ErrInvalidInput, "knowledge source id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.knowledge[knowledge.ID] = knowledge
	return nil
}

// PersistQAInteraction appends an interaction. Interactions are never updated.
func (s *Store) PersistQAInteraction(_ context.Context, interaction domain.QAInteraction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interactions = append(s.interactions, interaction)
	return nil
}

// ListQAInteractions returns the user's interactions, newest first.
func (s *Store) ListQAInteractions(_ context.Context, userID string, limit int) ([]domain.QAInteraction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.QAInteraction
	for _, qa := range s.interactions {
		if qa.UserID == userID {
			out = append(out, qa)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Interactions returns every persisted interaction in insertion order.
func (s *Store) Interactions() []domain.QAInteraction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.QAInteraction(nil), s.interactions...)
}

func (s *Store) Close() error { return nil }
