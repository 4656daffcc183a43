package summarizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDigest(t *testing.T) {
	texts := []string{
		"Leopards roam the Margalla Hills. Hikers rarely see them.",
		"Leopard sightings in the Margalla Hills rise in winter. Fig trees line the avenues.",
	}

	t.Run("picks frequent content in reading order", func(t *testing.T) {
		got := Digest(texts, 2)
		assert.Equal(t, "Leopards roam the Margalla Hills. Leopard sightings in the Margalla Hills rise in winter.", got)
	})

	t.Run("fewer sentences than requested", func(t *testing.T) {
		assert.Equal(t, "One line only.", Digest([]string{"One line only."}, 5))
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Equal(t, "", Digest(nil, 3))
		assert.Equal(t, "", Digest([]string{"   "}, 3))
	})

	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, Digest(texts, 3), Digest(texts, 3))
	})
}
