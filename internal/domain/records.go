package domain

import "time"

// SpeciesRecord is a species profile owned by the external data layer.
type SpeciesRecord struct {
	ID                 string    `json:"id" yaml:"id"`
	ScientificName     string    `json:"scientific_name" yaml:"scientific_name"`
	CommonNames        []string  `json:"common_names" yaml:"common_names"`
	Type               string    `json:"type" yaml:"type"`
	Description        string    `json:"description" yaml:"description"`
	Habitat            string    `json:"habitat" yaml:"habitat"`
	IsEndemic          bool      `json:"is_endemic" yaml:"is_endemic"`
	SeasonalPresence   []string  `json:"seasonal_presence,omitempty" yaml:"seasonal_presence"`
	ConservationStatus string    `json:"conservation_status,omitempty" yaml:"conservation_status"`
	DietaryHabits      string    `json:"dietary_habits,omitempty" yaml:"dietary_habits"`
	CreatedAt          time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt          time.Time `json:"updated_at" yaml:"updated_at"`
}

// ObservationRecord is a citizen-science sighting.
type ObservationRecord struct {
	ID          string    `json:"id" yaml:"id"`
	UserID      string    `json:"user_id,omitempty" yaml:"user_id"`
	SpeciesName string    `json:"species_name" yaml:"species_name"`
	CommonNames []string  `json:"common_names,omitempty" yaml:"common_names"`
	Location    string    `json:"location" yaml:"location"`
	Latitude    float64   `json:"latitude,omitempty" yaml:"latitude"`
	Longitude   float64   `json:"longitude,omitempty" yaml:"longitude"`
	ObservedAt  time.Time `json:"observed_at" yaml:"observed_at"`
	Observer    string    `json:"observer,omitempty" yaml:"observer"`
	Notes       string    `json:"notes,omitempty" yaml:"notes"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"updated_at"`
}

// ObservationFilter narrows GetAllObservations. Zero fields do not filter.
type ObservationFilter struct {
	SpeciesName string
	UserID      string
	Since       time.Time
}

// Matches reports whether o passes the filter.
func (f ObservationFilter) Matches(o ObservationRecord) bool {
	if f.SpeciesName != "" && f.SpeciesName != o.SpeciesName {
		return false
	}
	if f.UserID != "" && f.UserID != o.UserID {
		return false
	}
	if !f.Since.IsZero() && o.ObservedAt.Before(f.Since) {
		return false
	}
	return true
}

// KnowledgeRecord is a free-text knowledge entry.
// SpeciesReferences holds scientific names of the species it talks about.
type KnowledgeRecord struct {
	ID                string    `json:"id" yaml:"id"`
	Title             string    `json:"title" yaml:"title"`
	Content           string    `json:"content" yaml:"content"`
	Source            string    `json:"source,omitempty" yaml:"source"`
	SpeciesReferences []string  `json:"species_references,omitempty" yaml:"species_references"`
	CreatedAt         time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" yaml:"updated_at"`
}

// QAInteraction is one immutable question/answer exchange.
type QAInteraction struct {
	ID                    string    `json:"id"`
	Question              string    `json:"question"`
	Answer                string    `json:"answer"`
	Sources               []string  `json:"sources"`
	RelatedSpeciesIDs     []string  `json:"related_species_ids"`
	RelatedObservationIDs []string  `json:"related_observation_ids"`
	UserID                string    `json:"user_id,omitempty"`
	Timestamp             time.Time `json:"timestamp"`
}
