package domain

// Answer is the output of a Synthesizer.
type Answer struct {
	Text      string
	Sources   []string
	FollowUps []string
}

// AnswerResult is what an ask call returns to the API layer.
type AnswerResult struct {
	InteractionID         string   `json:"interaction_id,omitempty"`
	Answer                string   `json:"answer"`
	Sources               []string `json:"sources"`
	RelatedSpeciesIDs     []string `json:"related_species_ids"`
	RelatedObservationIDs []string `json:"related_observation_ids"`
	FollowUpQuestions     []string `json:"follow_up_questions"`

	// Retrieved holds the ranked chunks the answer was composed from.
	Retrieved []SearchResult `json:"-"`
}

// MatchBasis records which rule produced a species match score.
type MatchBasis string

const (
	MatchExact        MatchBasis = "exact"
	MatchSubstring    MatchBasis = "substring"
	MatchTokenOverlap MatchBasis = "token-overlap"
)

// SpeciesCandidate is a registry species matched against a classifier label.
type SpeciesCandidate struct {
	SpeciesID      string     `json:"species_id"`
	ScientificName string     `json:"scientific_name"`
	CommonNames    []string   `json:"common_names"`
	Type           string     `json:"type,omitempty"`
	MatchScore     float64    `json:"match_score"`
	MatchBasis     MatchBasis `json:"match_basis"`
}

// MatchResult holds the accepted match, if any, and runner-up candidates.
// Best is nil when no candidate reaches the acceptance threshold.
type MatchResult struct {
	Best          *SpeciesCandidate  `json:"best"`
	Alternatives  []SpeciesCandidate `json:"alternatives"`
	DatabaseMatch bool               `json:"database_match"`
}

// Prediction is one ranked label produced by the image classifier.
type Prediction struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Identification combines the classifier output with the registry match.
type Identification struct {
	Label        string       `json:"label"`
	Confidence   float64      `json:"confidence"`
	Alternatives []Prediction `json:"alternatives"`
	Match        MatchResult  `json:"match"`
}

// TrainingDocument is a raw text document with metadata submitted for indexing.
type TrainingDocument struct {
	Text     string        `json:"text"`
	Metadata ChunkMetadata `json:"metadata"`
	// Source is kept on knowledge records created from the document.
	Source string `json:"source,omitempty"`
}
