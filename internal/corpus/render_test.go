package corpus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"bioscout/internal/domain"
)

func TestRenderSpecies(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sp := domain.SpeciesRecord{
		ID:             "sp-1",
		ScientificName: "Pycnonotus leucotis",
		CommonNames:    []string{"White-eared Bulbul", "bird"},
		Type:           "bird",
		Description:    "A bulbul with white cheeks.",
		Habitat:        "Gardens in Islamabad",
		CreatedAt:      created,
	}

	t.Run("optional fields omitted when empty", func(t *testing.T) {
		doc := RenderSpecies(sp)
		assert.Equal(t, "Scientific Name: Pycnonotus leucotis\n"+
			"Common Names: White-eared Bulbul, bird\n"+
			"Type: bird\n"+
			"Description: A bulbul with white cheeks.\n"+
			"Habitat: Gardens in Islamabad\n", doc.Text)
		assert.Equal(t, domain.SourceRef{Type: domain.SourceSpecies, ID: "sp-1"}, doc.Ref)
		assert.Equal(t, "Pycnonotus leucotis", doc.Metadata.ScientificName)
		assert.Equal(t, []string{"Pycnonotus leucotis"}, doc.Metadata.SpeciesReferences)
		assert.Equal(t, created, doc.Metadata.CreatedAt)
	})

	t.Run("optional fields appended in fixed order", func(t *testing.T) {
		full := sp
		full.ConservationStatus = "Least Concern"
		full.DietaryHabits = "Fruit and insects"
		full.SeasonalPresence = []string{"spring", "summer"}
		full.IsEndemic = true
		full.UpdatedAt = created.Add(time.Hour)
		doc := RenderSpecies(full)
		assert.Contains(t, doc.Text, "Habitat: Gardens in Islamabad\n"+
			"Conservation Status: Least Concern\n"+
			"Dietary Habits: Fruit and insects\n"+
			"Seasonal Presence: spring, summer\n"+
			"Endemic: Yes\n")
		assert.Equal(t, full.UpdatedAt, doc.Metadata.CreatedAt, "chunks carry the record's last update time")
	})

	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, RenderSpecies(sp), RenderSpecies(sp))
	})
}

func TestRenderKnowledge(t *testing.T) {
	doc := RenderKnowledge(domain.KnowledgeRecord{
		ID:                "k-1",
		Title:             "Birds of the Margallas",
		Content:           "Over 250 bird species are recorded.",
		SpeciesReferences: []string{"Pycnonotus leucotis"},
	})
	assert.Equal(t, "Title: Birds of the Margallas\nContent: Over 250 bird species are recorded.\n", doc.Text)
	assert.Equal(t, "Birds of the Margallas", doc.Metadata.Title)
	assert.Equal(t, domain.SourceKnowledge, doc.Metadata.SourceType)

	withSource := RenderKnowledge(domain.KnowledgeRecord{ID: "k-2", Title: "T", Content: "C", Source: "WWF Pakistan"})
	assert.Equal(t, "Title: T\nContent: C\nSource: WWF Pakistan\n", withSource.Text)
}

func TestRenderObservation(t *testing.T) {
	obs := domain.ObservationRecord{
		ID:          "o-1",
		SpeciesName: "Panthera pardus",
		Location:    "Trail 5",
		ObservedAt:  time.Date(2024, 3, 9, 7, 30, 0, 0, time.UTC),
		Observer:    "Ayesha",
	}

	t.Run("without registry entry", func(t *testing.T) {
		doc := RenderObservation(obs, nil)
		assert.Equal(t, "Species: Panthera pardus\n"+
			"\nObservation Details:\n"+
			"Date: March 09, 2024\n"+
			"Location: Trail 5\n"+
			"Observer: Ayesha\n", doc.Text)
		assert.Equal(t, "Trail 5", doc.Metadata.Location)
		assert.Equal(t, []string{"Panthera pardus"}, doc.Metadata.SpeciesReferences)
	})

	t.Run("with registry entry", func(t *testing.T) {
		sp := &domain.SpeciesRecord{Type: "mammal", Habitat: "Forest", SeasonalPresence: []string{"winter"}, Description: "Big cat."}
		doc := RenderObservation(obs, sp)
		assert.Contains(t, doc.Text, "\nSpecies Information:\n"+
			"Type: mammal\n"+
			"Habitat: Forest\n"+
			"Endemic: No\n"+
			"Seasonal Presence: winter\n"+
			"Description: Big cat.\n")
	})

	t.Run("unknown location and date", func(t *testing.T) {
		doc := RenderObservation(domain.ObservationRecord{ID: "o-2", SpeciesName: "X"}, nil)
		assert.Contains(t, doc.Text, "Date: Unknown\nLocation: Unknown\n")
	})
}
