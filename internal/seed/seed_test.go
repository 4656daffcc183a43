package seed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bioscout/internal/domain"
	storemem "bioscout/internal/store/memory"
)

func TestLoad(t *testing.T) {
	f, err := Load("testdata/fixtures.yaml")
	require.NoError(t, err)
	require.Len(t, f.Species, 5)
	assert.Len(t, f.Observations, 2)
	assert.Len(t, f.Knowledge, 2)

	bulbul := f.Species[0]
	assert.Equal(t, "Pycnonotus leucotis", bulbul.ScientificName)
	assert.Equal(t, []string{"White-eared Bulbul"}, bulbul.CommonNames)
	assert.Equal(t, time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC), bulbul.CreatedAt.UTC())
	assert.Equal(t, []string{"Pycnonotus leucotis"}, f.Knowledge[0].SpeciesReferences)

	_, err = Load("testdata/missing.yaml")
	assert.Error(t, err)
}

func TestBuiltin(t *testing.T) {
	f, err := Builtin()
	require.NoError(t, err)
	assert.NotEmpty(t, f.Species)
}

func TestDecode_Invalid(t *testing.T) {
	cases := map[string]string{
		"missing id":      "species:\n  - scientific_name: Panthera pardus\n",
		"missing content": "knowledge:\n  - id: k1\n    title: Empty\n",
		"duplicate id":    "species:\n  - id: s1\n    scientific_name: A\n  - id: s1\n    scientific_name: B\n",
		"unknown field":   "species:\n  - id: s1\n    scientific_name: A\n    wingspan: 30\n",
		"not yaml":        "species: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(doc))
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}

	t.Run("same id across kinds is fine", func(t *testing.T) {
		_, err := Decode([]byte("species:\n  - id: x\n    scientific_name: A\nknowledge:\n  - id: x\n    content: B\n"))
		assert.NoError(t, err)
	})
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	f, err := Load("testdata/fixtures.yaml")
	require.NoError(t, err)

	store := storemem.NewStore()
	counts, err := Apply(ctx, store, f)
	require.NoError(t, err)
	assert.Equal(t, Counts{Species: 5, Observations: 2, Knowledge: 2}, counts)

	sp, err := store.GetSpeciesByName(ctx, "leopard")
	require.NoError(t, err)
	assert.Equal(t, "sp-common-leopard", sp.ID)

	again, err := Apply(ctx, store, f)
	require.NoError(t, err)
	assert.Equal(t, counts, again)
	all, err := store.GetAllSpecies(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}
