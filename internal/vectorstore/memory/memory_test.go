package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bioscout/internal/domain"
)

var base = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func chunk(ref domain.SourceRef, i int, vec []float32, at time.Time) domain.Chunk {
	return domain.Chunk{
		ID:        domain.ChunkID(ref, i),
		Index:     i,
		Text:      ref.String(),
		Embedding: vec,
		Metadata:  domain.ChunkMetadata{SourceType: ref.Type, SourceID: ref.ID, CreatedAt: at},
	}
}

func ids(results []domain.SearchResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Chunk.ID
	}
	return out
}

func TestIndex_UpsertAndSearch(t *testing.T) {
	ctx := context.Background()
	bulbul := domain.SourceRef{Type: domain.SourceSpecies, ID: "bulbul"}
	leopard := domain.SourceRef{Type: domain.SourceSpecies, ID: "leopard"}
	note := domain.SourceRef{Type: domain.SourceKnowledge, ID: "note"}

	t.Run("ranks by similarity and breaks ties by recency", func(t *testing.T) {
		idx := NewIndex()
		require.NoError(t, idx.Upsert(ctx, []domain.Chunk{
			chunk(bulbul, 0, []float32{1, 0}, base),
			chunk(leopard, 0, []float32{0, 1}, base),
			chunk(note, 0, []float32{1, 0}, base.Add(time.Hour)),
		}))

		results, err := idx.Search(ctx, []float32{1, 0}, 3)
		require.NoError(t, err)
		assert.Equal(t, []string{"knowledge:note:0", "species:bulbul:0", "species:leopard:0"}, ids(results))
		assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	})

	t.Run("upsert is idempotent by id", func(t *testing.T) {
		idx := NewIndex()
		c := chunk(bulbul, 0, []float32{1, 0}, base)
		require.NoError(t, idx.Upsert(ctx, []domain.Chunk{c}))
		c.Text = "replaced"
		require.NoError(t, idx.Upsert(ctx, []domain.Chunk{c}))
		all := idx.Chunks()
		require.Len(t, all, 1)
		assert.Equal(t, "replaced", all[0].Text)
	})

	t.Run("unembedded chunks are never returned by search", func(t *testing.T) {
		idx := NewIndex()
		require.NoError(t, idx.Upsert(ctx, []domain.Chunk{
			chunk(bulbul, 0, nil, base),
			chunk(leopard, 0, []float32{0, 1}, base),
		}))
		results, err := idx.Search(ctx, []float32{1, 0}, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"species:leopard:0"}, ids(results))

		pending, err := idx.Unembedded(ctx, 10)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, "species:bulbul:0", pending[0].ID)
	})

	t.Run("dimension mismatch rejects the whole batch", func(t *testing.T) {
		idx := NewIndex()
		err := idx.Upsert(ctx, []domain.Chunk{
			chunk(bulbul, 0, []float32{1, 0}, base),
			chunk(leopard, 0, []float32{1, 0, 0}, base),
		})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
		assert.Empty(t, idx.Chunks())
	})

	t.Run("stable order across repeated calls", func(t *testing.T) {
		idx := NewIndex()
		var chunks []domain.Chunk
		for i := 0; i < 10; i++ {
			chunks = append(chunks, chunk(bulbul, i, []float32{1, 1}, base))
		}
		require.NoError(t, idx.Upsert(ctx, chunks))
		first, err := idx.Search(ctx, []float32{1, 1}, 5)
		require.NoError(t, err)
		for i := 0; i < 5; i++ {
			again, err := idx.Search(ctx, []float32{1, 1}, 5)
			require.NoError(t, err)
			assert.Equal(t, ids(first), ids(again))
		}
	})

	t.Run("results are copies", func(t *testing.T) {
		idx := NewIndex()
		require.NoError(t, idx.Upsert(ctx, []domain.Chunk{chunk(bulbul, 0, []float32{1, 0}, base)}))
		results, err := idx.Search(ctx, []float32{1, 0}, 1)
		require.NoError(t, err)
		results[0].Chunk.Embedding[0] = 42
		assert.Equal(t, float32(1), idx.Chunks()[0].Embedding[0])
	})
}

func TestIndex_DeleteBySourceAndSources(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex()
	bulbul := domain.SourceRef{Type: domain.SourceSpecies, ID: "bulbul"}
	obs := domain.SourceRef{Type: domain.SourceObservation, ID: "bulbul"}

	require.NoError(t, idx.Upsert(ctx, []domain.Chunk{
		chunk(bulbul, 0, []float32{1}, base),
		chunk(bulbul, 1, []float32{1}, base),
		chunk(obs, 0, []float32{1}, base),
	}))

	refs, err := idx.Sources(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.SourceRef{obs, bulbul}, refs)

	require.NoError(t, idx.DeleteBySource(ctx, bulbul))
	all := idx.Chunks()
	require.Len(t, all, 1)
	assert.Equal(t, "observation:bulbul:0", all[0].ID, "same id under another source type survives")
}

func TestIndex_FillEmbeddings(t *testing.T) {
	ctx := context.Background()
	bulbul := domain.SourceRef{Type: domain.SourceSpecies, ID: "bulbul"}
	leopard := domain.SourceRef{Type: domain.SourceSpecies, ID: "leopard"}

	idx := NewIndex()
	require.NoError(t, idx.Upsert(ctx, []domain.Chunk{
		chunk(bulbul, 0, nil, base),
		chunk(bulbul, 1, nil, base),
		chunk(leopard, 0, nil, base),
	}))
	pending, err := idx.Unembedded(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 3)

	// bulbul shrinks to one re-worded chunk while the vectors are computed
	require.NoError(t, idx.DeleteBySource(ctx, bulbul))
	fresh := chunk(bulbul, 0, nil, base)
	fresh.Text = "reworded"
	require.NoError(t, idx.Upsert(ctx, []domain.Chunk{fresh}))

	for i := range pending {
		pending[i].Embedding = []float32{1, 0}
	}
	filled, err := idx.FillEmbeddings(ctx, pending)
	require.NoError(t, err)
	assert.Equal(t, 1, filled)

	all := idx.Chunks()
	require.Len(t, all, 2)
	assert.Equal(t, "species:bulbul:0", all[0].ID)
	assert.False(t, all[0].Embedded(), "replaced text keeps waiting for its own vector")
	assert.Equal(t, "species:leopard:0", all[1].ID)
	assert.True(t, all[1].Embedded())

	t.Run("dimension mismatch is rejected", func(t *testing.T) {
		stale := chunk(bulbul, 0, []float32{1, 0, 0}, base)
		stale.Text = "reworded"
		_, err := idx.FillEmbeddings(ctx, []domain.Chunk{stale})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}
