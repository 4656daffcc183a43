package embedding

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bioscout/internal/domain"
)

type fakeProvider struct {
	calls   [][]string
	fail    bool
	short   bool
	block   bool
}

func (f *fakeProvider) Name() string   { return "fake" }
func (f *fakeProvider) Dimension() int { return 2 }

func (f *fakeProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls = append(f.calls, texts)
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.fail {
		return nil, errors.New("provider down")
	}
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		out = append(out, []float32{float32(len(t)), 1})
	}
	if f.short {
		out = out[:len(out)-1]
	}
	return out, nil
}

func texts(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = string(make([]byte, i))
	}
	return out
}

func TestNewBatcher(t *testing.T) {
	b := NewBatcher(&fakeProvider{}, 500, 0)
	assert.Equal(t, DefaultBatchSize, b.BatchSize())
	assert.Equal(t, "fake", b.Name())
	assert.Equal(t, 2, b.Dimension())
}

func TestBatcher_Embed(t *testing.T) {
	ctx := context.Background()

	t.Run("splits into bounded batches and keeps order", func(t *testing.T) {
		p := &fakeProvider{}
		b := NewBatcher(p, 100, time.Second)
		vecs, err := b.Embed(ctx, texts(250))
		require.NoError(t, err)
		require.Len(t, vecs, 250)
		require.Len(t, p.calls, 3)
		assert.Len(t, p.calls[0], 100)
		assert.Len(t, p.calls[2], 50)
		for i, v := range vecs {
			assert.Equal(t, float32(i), v[0])
		}
	})

	t.Run("provider error aborts with no partial result", func(t *testing.T) {
		b := NewBatcher(&fakeProvider{fail: true}, 10, time.Second)
		vecs, err := b.Embed(ctx, texts(25))
		assert.Nil(t, vecs)
		assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
	})

	t.Run("wrong vector count is a provider failure", func(t *testing.T) {
		b := NewBatcher(&fakeProvider{short: true}, 10, time.Second)
		_, err := b.Embed(ctx, texts(3))
		assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
	})

	t.Run("timeout bounds each call", func(t *testing.T) {
		b := NewBatcher(&fakeProvider{block: true}, 10, 20*time.Millisecond)
		start := time.Now()
		_, err := b.Embed(ctx, texts(1))
		assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("embed one", func(t *testing.T) {
		b := NewBatcher(&fakeProvider{}, 10, time.Second)
		v, err := b.EmbedOne(ctx, "abc")
		require.NoError(t, err)
		assert.Equal(t, []float32{3, 1}, v)
	})
}
