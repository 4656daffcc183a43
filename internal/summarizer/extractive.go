package summarizer

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"bioscout/internal/domain"
)

const (
	DefaultMaxSentences = 3
	DefaultMaxFollowUps = 5

	// NoInformationAnswer is returned when nothing in the retrieved context relates to the question.
	NoInformationAnswer = "I don't have specific information about that in my knowledge base yet."

	maxFollowUpSpecies   = 2
	maxFollowUpLocations = 2
)

var tokenPattern = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)

// DefaultQuestionPool pads follow-up suggestions when retrieval names few species or places.
var DefaultQuestionPool = []string{
	"What endangered species live around Islamabad?",
	"Which birds are most common in the Margalla Hills?",
	"What plants are native to the Islamabad region?",
	"When is the best season for birdwatching near Islamabad?",
	"How can I help protect local wildlife?",
	"Which mammals are active at night in the Margalla Hills?",
	"What should I record when I log an observation?",
}

// SentenceScorer rates how relevant a sentence is to a question.
type SentenceScorer interface {
	Score(question, sentence string) float64
}

// OverlapScorer is the bag-of-words overlap |question ∩ sentence| / |question|.
type OverlapScorer struct{}

func (OverlapScorer) Score(question, sentence string) float64 {
	q := Words(question)
	if len(q) == 0 {
		return 0
	}
	s := Words(sentence)
	shared := 0
	for w := range q {
		if _, ok := s[w]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(q))
}

// Words returns the lower-cased word set of text.
func Words(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		out[tok] = struct{}{}
	}
	return out
}

// Extractive answers by quoting the retrieved sentences that best overlap the question.
// Answer text and sources depend only on the inputs; follow-up padding is sampled.
type Extractive struct {
	scorer       SentenceScorer
	maxSentences int
	maxFollowUps int
	pool         []string

	mu  sync.Mutex
	rng *rand.Rand
}

var _ domain.Synthesizer = (*Extractive)(nil)

type Option func(*Extractive)

func WithScorer(s SentenceScorer) Option {
	return func(e *Extractive) { e.scorer = s }
}

func WithMaxSentences(n int) Option {
	return func(e *Extractive) {
		if n > 0 {
			e.maxSentences = n
		}
	}
}

// WithMaxFollowUps bounds the suggestions; zero disables them.
func WithMaxFollowUps(n int) Option {
	return func(e *Extractive) {
		if n >= 0 {
			e.maxFollowUps = n
		}
	}
}

// WithSeed makes follow-up sampling reproducible.
func WithSeed(seed uint64) Option {
	return func(e *Extractive) { e.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

func WithQuestionPool(pool []string) Option {
	return func(e *Extractive) { e.pool = append([]string(nil), pool...) }
}

func NewExtractive(opts ...Option) *Extractive {
	now := uint64(time.Now().UnixNano())
	e := &Extractive{
		scorer:       OverlapScorer{},
		maxSentences: DefaultMaxSentences,
		maxFollowUps: DefaultMaxFollowUps,
		pool:         DefaultQuestionPool,
		rng:          rand.New(rand.NewPCG(now, now>>1)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Extractive) Synthesize(question string, chunks []domain.Chunk) domain.Answer {
	return domain.Answer{
		Text:      e.Compose(question, chunks),
		Sources:   Sources(chunks),
		FollowUps: e.FollowUps(chunks),
	}
}

// Compose selects the top sentences of the concatenated chunk texts by score, ties kept in
// context order, and joins them with ". ".
func (e *Extractive) Compose(question string, chunks []domain.Chunk) string {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	context := strings.Join(texts, "\n\n")

	type scored struct {
		text  string
		score float64
	}
	var sentences []scored
	for _, raw := range strings.Split(context, ".") {
		sentence := strings.Join(strings.Fields(raw), " ")
		if sentence == "" {
			continue
		}
		sentences = append(sentences, scored{sentence, e.scorer.Score(question, sentence)})
	}
	sort.SliceStable(sentences, func(i, j int) bool { return sentences[i].score > sentences[j].score })
	if len(sentences) == 0 || sentences[0].score <= 0 {
		return NoInformationAnswer
	}
	if len(sentences) > e.maxSentences {
		sentences = sentences[:e.maxSentences]
	}
	picked := make([]string, len(sentences))
	for i, s := range sentences {
		picked[i] = s.text
	}
	return strings.Join(picked, ". ") + "."
}

// SourceDescriptor names the record a chunk came from.
func SourceDescriptor(m domain.ChunkMetadata) string {
	switch m.SourceType {
	case domain.SourceSpecies:
		return "Species: " + m.ScientificName
	case domain.SourceKnowledge:
		return "Knowledge Source: " + m.Title
	case domain.SourceObservation:
		if m.Location != "" {
			return fmt.Sprintf("Observation: %s (%s)", m.ScientificName, m.Location)
		}
		return "Observation: " + m.ScientificName
	default:
		return "Source: " + m.SourceID
	}
}

// Sources lists distinct descriptors in first-seen order.
func Sources(chunks []domain.Chunk) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, c := range chunks {
		d := SourceDescriptor(c.Metadata)
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}

// FollowUps suggests two questions for each of the first two species, one for each of the
// first two locations, then pads from the pool without replacement.
func (e *Extractive) FollowUps(chunks []domain.Chunk) []string {
	if e.maxFollowUps == 0 {
		return []string{}
	}
	var species, locations []string
	seenSpecies := make(map[string]struct{})
	seenLocations := make(map[string]struct{})
	addSpecies := func(name string) {
		if name == "" || len(species) == maxFollowUpSpecies {
			return
		}
		if _, ok := seenSpecies[name]; !ok {
			seenSpecies[name] = struct{}{}
			species = append(species, name)
		}
	}
	for _, c := range chunks {
		addSpecies(c.Metadata.ScientificName)
		for _, ref := range c.Metadata.SpeciesReferences {
			addSpecies(ref)
		}
		if loc := c.Metadata.Location; loc != "" && len(locations) < maxFollowUpLocations {
			if _, ok := seenLocations[loc]; !ok {
				seenLocations[loc] = struct{}{}
				locations = append(locations, loc)
			}
		}
	}

	out := []string{}
	seen := make(map[string]struct{})
	add := func(q string) {
		if len(out) == e.maxFollowUps {
			return
		}
		if _, ok := seen[q]; ok {
			return
		}
		seen[q] = struct{}{}
		out = append(out, q)
	}
	for _, sp := range species {
		add(fmt.Sprintf("What is the habitat of %s?", sp))
		add(fmt.Sprintf("When is %s most commonly seen around Islamabad?", sp))
	}
	for _, loc := range locations {
		add(fmt.Sprintf("What other species have been observed in %s?", loc))
	}

	pool := append([]string(nil), e.pool...)
	e.mu.Lock()
	e.rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	e.mu.Unlock()
	for _, q := range pool {
		add(q)
	}
	return out
}
