package matcher

import (
	"sort"
	"strings"

	"bioscout/internal/domain"
)

const (
	// DiscardBelow drops candidates entirely.
	DiscardBelow = 0.3
	// AcceptAt is the minimum score for the best candidate to count as a database match.
	AcceptAt = 0.5
	// MaxAlternatives bounds the runner-up candidates returned with a match.
	MaxAlternatives = 2

	exactScore     = 1.0
	substringScore = 0.8
)

// Scorer rates how well a classifier label names a registry species.
type Scorer interface {
	Score(label string, species domain.SpeciesRecord) (float64, domain.MatchBasis)
}

// NameScorer scores exact name equality, then a substring of the scientific name, then
// bag-of-words overlap against the scientific name and, separately, all common-name words.
type NameScorer struct{}

// Normalize lower-cases a label and turns classifier underscores into spaces.
func Normalize(label string) string {
	return strings.ToLower(strings.TrimSpace(strings.ReplaceAll(label, "_", " ")))
}

func (NameScorer) Score(label string, sp domain.SpeciesRecord) (float64, domain.MatchBasis) {
	label = Normalize(label)
	if label == "" {
		return 0, domain.MatchTokenOverlap
	}
	scientific := strings.ToLower(sp.ScientificName)
	if label == scientific {
		return exactScore, domain.MatchExact
	}
	for _, name := range sp.CommonNames {
		if label == strings.ToLower(name) {
			return exactScore, domain.MatchExact
		}
	}
	if scientific != "" && strings.Contains(scientific, label) {
		return substringScore, domain.MatchSubstring
	}

	labelWords := wordSet(label)
	commonWords := make(map[string]struct{})
	for _, name := range sp.CommonNames {
		for w := range wordSet(strings.ToLower(name)) {
			commonWords[w] = struct{}{}
		}
	}
	score := max(overlap(labelWords, wordSet(scientific)), overlap(labelWords, commonWords))
	return score, domain.MatchTokenOverlap
}

func wordSet(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(s) {
		out[w] = struct{}{}
	}
	return out
}

// overlap is |a ∩ b| / max(|a|, |b|), 0 when b is empty.
func overlap(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for w := range a {
		if _, ok := b[w]; ok {
			shared++
		}
	}
	return float64(shared) / float64(max(len(a), len(b)))
}

// Matcher ranks registry species against classifier labels. It holds no state beyond its
// scorer, so one instance serves concurrent callers.
type Matcher struct {
	scorer Scorer
}

type Option func(*Matcher)

// WithScorer swaps the scoring function.
func WithScorer(s Scorer) Option {
	return func(m *Matcher) { m.scorer = s }
}

func New(opts ...Option) *Matcher {
	m := &Matcher{scorer: NameScorer{}}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Candidates returns every species scoring at least DiscardBelow, best first. The registry
// is ordered by scientific name before scoring, so equal scores keep that order.
func (m *Matcher) Candidates(label string, registry []domain.SpeciesRecord) []domain.SpeciesCandidate {
	ordered := make([]domain.SpeciesRecord, len(registry))
	copy(ordered, registry)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].ScientificName < ordered[j].ScientificName })

	var out []domain.SpeciesCandidate
	for _, sp := range ordered {
		score, basis := m.scorer.Score(label, sp)
		if score < DiscardBelow {
			continue
		}
		out = append(out, domain.SpeciesCandidate{
			SpeciesID:      sp.ID,
			ScientificName: sp.ScientificName,
			CommonNames:    sp.CommonNames,
			Type:           sp.Type,
			MatchScore:     score,
			MatchBasis:     basis,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].MatchScore > out[j].MatchScore })
	return out
}

// Match picks the best candidate when it reaches AcceptAt and reports up to MaxAlternatives
// runners-up. Below the threshold no match is claimed and the strongest candidates are
// returned as alternatives only.
func (m *Matcher) Match(label string, registry []domain.SpeciesRecord) domain.MatchResult {
	candidates := m.Candidates(label, registry)
	result := domain.MatchResult{Alternatives: []domain.SpeciesCandidate{}}
	if len(candidates) == 0 {
		return result
	}
	rest := candidates
	if candidates[0].MatchScore >= AcceptAt {
		best := candidates[0]
		result.Best = &best
		result.DatabaseMatch = true
		rest = candidates[1:]
	}
	if len(rest) > MaxAlternatives {
		rest = rest[:MaxAlternatives]
	}
	result.Alternatives = append(result.Alternatives, rest...)
	return result
}
