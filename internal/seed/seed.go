// Package seed loads species, observation and knowledge fixtures into the data store.
package seed

import (
	"bytes"
	"context"
	_ "embed"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"

	"bioscout/internal/domain"
)

//go:embed islamabad.yaml
var builtin []byte

type Fixtures struct {
	Species      []domain.SpeciesRecord     `yaml:"species"`
	Observations []domain.ObservationRecord `yaml:"observations"`
	Knowledge    []domain.KnowledgeRecord   `yaml:"knowledge"`
}

// Counts reports how many records Apply wrote.
type Counts struct {
	Species      int `json:"species"`
	Observations int `json:"observations"`
	Knowledge    int `json:"knowledge"`
}

// Builtin returns the bundled Islamabad sample data.
func Builtin() (*Fixtures, error) {
	return Decode(builtin)
}

// Load reads fixtures from a YAML file.
func Load(path string) (*Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read fixtures", goerr.V("path", path))
	}
	f, err := Decode(data)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to decode fixtures", goerr.V("path", path))
	}
	return f, nil
}

// Decode parses and validates fixtures. Unknown fields are rejected.
func Decode(data []byte) (*Fixtures, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var f Fixtures
	if err := dec.Decode(&f); err != nil {
		return nil, goerr.Wrap(domain.ErrInvalidInput, err.Error())
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *Fixtures) Validate() error {
	seen := make(map[domain.SourceRef]struct{})
	check := func(t domain.SourceType, id, field, value string) error {
		ref := domain.SourceRef{Type: t, ID: id}
		if id == "" {
			return goerr.Wrap(domain.ErrInvalidInput, "fixture without id", goerr.V(domain.SourceTypeKey, t))
		}
		if value == "" {
			return goerr.Wrap(domain.ErrInvalidInput, "fixture field is empty",
				goerr.V(domain.SourceTypeKey, t), goerr.V(domain.SourceIDKey, id), goerr.V("field", field))
		}
		if _, dup := seen[ref]; dup {
			return goerr.Wrap(domain.ErrInvalidInput, "duplicate fixture id",
				goerr.V(domain.SourceTypeKey, t), goerr.V(domain.SourceIDKey, id))
		}
		seen[ref] = struct{}{}
		return nil
	}
	for _, s := range f.Species {
		if err := check(domain.SourceSpecies, s.ID, "scientific_name", s.ScientificName); err != nil {
			return err
		}
	}
	for _, o := range f.Observations {
		if err := check(domain.SourceObservation, o.ID, "species_name", o.SpeciesName); err != nil {
			return err
		}
	}
	for _, k := range f.Knowledge {
		if err := check(domain.SourceKnowledge, k.ID, "content", k.Content); err != nil {
			return err
		}
	}
	return nil
}

// Apply writes every fixture, replacing records with the same id.
func Apply(ctx context.Context, w domain.SourceWriter, f *Fixtures) (Counts, error) {
	var c Counts
	for _, s := range f.Species {
		if err := w.PutSpecies(ctx, s); err != nil {
			return c, goerr.Wrap(err, "failed to seed species", goerr.V(domain.SourceIDKey, s.ID))
		}
		c.Species++
	}
	for _, o := range f.Observations {
		if err := w.PutObservation(ctx, o); err != nil {
			return c, goerr.Wrap(err, "failed to seed observation", goerr.V(domain.SourceIDKey, o.ID))
		}
		c.Observations++
	}
	for _, k := range f.Knowledge {
		if err := w.PutKnowledgeSource(ctx, k); err != nil {
			return c, goerr.Wrap(err, "failed to seed knowledge", goerr.V(domain.SourceIDKey, k.ID))
		}
		c.Knowledge++
	}
	return c, nil
}
