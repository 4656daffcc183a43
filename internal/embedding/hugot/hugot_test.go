package hugot

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Requires the model on disk (or network access to download it) under TEST_HUGOT_MODEL_DIR.
func TestEmbedder(t *testing.T) {
	dir := os.Getenv("TEST_HUGOT_MODEL_DIR")
	if dir == "" || testing.Short() {
		t.Skip("TEST_HUGOT_MODEL_DIR not set")
	}

	e, err := NewEmbedder(Config{ModelDir: dir})
	require.NoError(t, err)
	defer func() { assert.NoError(t, e.Close()) }()

	t.Run("batch in input order", func(t *testing.T) {
		vecs, err := e.Embed(context.Background(), []string{"Himalayan bulbul", "Snow leopard"})
		require.NoError(t, err)
		require.Len(t, vecs, 2)
		assert.Len(t, vecs[0], DefaultDimension, "all-MiniLM-L6-v2 produces 384-dimensional embeddings")
		assert.NotEqual(t, vecs[0], vecs[1])
	})

	t.Run("same text produces same embedding", func(t *testing.T) {
		a, err := e.Embed(context.Background(), []string{"Deterministic embedding test"})
		require.NoError(t, err)
		b, err := e.Embed(context.Background(), []string{"Deterministic embedding test"})
		require.NoError(t, err)
		assert.InDeltaSlice(t, a[0], b[0], 1e-5)
	})
}

func TestEmbedder_Closed(t *testing.T) {
	e := &Embedder{dimension: DefaultDimension}
	require.NoError(t, e.Close())
	_, err := e.Embed(context.Background(), []string{"x"})
	assert.Error(t, err)
}
