package corpus

import (
	"strings"
	"time"

	"bioscout/internal/domain"
)

// Document is the canonical text rendering of one source record plus the metadata
// every chunk cut from it carries.
type Document struct {
	Ref      domain.SourceRef
	Text     string
	Metadata domain.ChunkMetadata
}

type lines struct{ sb strings.Builder }

func (l *lines) add(label, value string) {
	l.sb.WriteString(label)
	l.sb.WriteString(": ")
	l.sb.WriteString(value)
	l.sb.WriteString("\n")
}

func (l *lines) optional(label, value string) {
	if strings.TrimSpace(value) != "" {
		l.add(label, value)
	}
}

// section starts a block separated from the previous one by a blank line.
func (l *lines) section(title string) {
	l.sb.WriteString("\n")
	l.sb.WriteString(title)
	l.sb.WriteString(":\n")
}

func (l *lines) String() string { return l.sb.String() }

func stamp(created, updated time.Time) time.Time {
	if !updated.IsZero() {
		return updated.UTC()
	}
	return created.UTC()
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

// RenderSpecies renders identity fields, then descriptive fields, then optional ones.
func RenderSpecies(s domain.SpeciesRecord) Document {
	var l lines
	l.add("Scientific Name", s.ScientificName)
	l.add("Common Names", strings.Join(s.CommonNames, ", "))
	l.add("Type", s.Type)
	l.add("Description", s.Description)
	l.add("Habitat", s.Habitat)
	l.optional("Conservation Status", s.ConservationStatus)
	l.optional("Dietary Habits", s.DietaryHabits)
	l.optional("Seasonal Presence", strings.Join(s.SeasonalPresence, ", "))
	if s.IsEndemic {
		l.add("Endemic", "Yes")
	}

	ref := domain.SourceRef{Type: domain.SourceSpecies, ID: s.ID}
	return Document{
		Ref:  ref,
		Text: l.String(),
		Metadata: domain.ChunkMetadata{
			SourceType:        ref.Type,
			SourceID:          ref.ID,
			ScientificName:    s.ScientificName,
			SpeciesReferences: []string{s.ScientificName},
			CreatedAt:         stamp(s.CreatedAt, s.UpdatedAt),
		},
	}
}

// RenderKnowledge renders a free-text knowledge entry.
func RenderKnowledge(k domain.KnowledgeRecord) Document {
	var l lines
	l.add("Title", k.Title)
	l.add("Content", k.Content)
	l.optional("Source", k.Source)

	ref := domain.SourceRef{Type: domain.SourceKnowledge, ID: k.ID}
	return Document{
		Ref:  ref,
		Text: l.String(),
		Metadata: domain.ChunkMetadata{
			SourceType:        ref.Type,
			SourceID:          ref.ID,
			Title:             k.Title,
			SpeciesReferences: append([]string(nil), k.SpeciesReferences...),
			CreatedAt:         stamp(k.CreatedAt, k.UpdatedAt),
		},
	}
}

// RenderObservation renders a sighting. When the observed species is in the registry its
// profile is appended so that questions about the species also reach its sightings.
func RenderObservation(o domain.ObservationRecord, species *domain.SpeciesRecord) Document {
	var l lines
	l.add("Species", o.SpeciesName)
	l.optional("Common Names", strings.Join(o.CommonNames, ", "))
	l.section("Observation Details")
	if o.ObservedAt.IsZero() {
		l.add("Date", "Unknown")
	} else {
		l.add("Date", o.ObservedAt.UTC().Format("January 02, 2006"))
	}
	l.add("Location", orUnknown(o.Location))
	l.optional("Observer", o.Observer)
	l.optional("Notes", o.Notes)
	if species != nil {
		l.section("Species Information")
		l.add("Type", orUnknown(species.Type))
		l.add("Habitat", orUnknown(species.Habitat))
		l.add("Endemic", yesNo(species.IsEndemic))
		l.optional("Seasonal Presence", strings.Join(species.SeasonalPresence, ", "))
		l.optional("Description", species.Description)
	}

	ref := domain.SourceRef{Type: domain.SourceObservation, ID: o.ID}
	meta := domain.ChunkMetadata{
		SourceType:     ref.Type,
		SourceID:       ref.ID,
		ScientificName: o.SpeciesName,
		Location:       o.Location,
		CreatedAt:      stamp(o.CreatedAt, o.UpdatedAt),
	}
	if o.SpeciesName != "" {
		meta.SpeciesReferences = []string{o.SpeciesName}
	}
	return Document{Ref: ref, Text: l.String(), Metadata: meta}
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Unknown"
	}
	return s
}
