package embedding

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"bioscout/internal/domain"
)

const (
	DefaultBatchSize = 100
	DefaultTimeout   = 10 * time.Second
)

// Batcher wraps a provider, bounding every provider call to batchSize texts and timeout.
// Any provider failure fails the whole call with domain.ErrEmbeddingUnavailable.
type Batcher struct {
	provider  domain.Embedder
	batchSize int
	timeout   time.Duration
}

var _ domain.Embedder = (*Batcher)(nil)

func NewBatcher(provider domain.Embedder, batchSize int, timeout time.Duration) *Batcher {
	if batchSize <= 0 || batchSize > DefaultBatchSize {
		batchSize = DefaultBatchSize
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Batcher{provider: provider, batchSize: batchSize, timeout: timeout}
}

// Name returns the identifier of the wrapped provider.
func (b *Batcher) Name() string { return b.provider.Name() }

// Dimension returns the dimensionality of the wrapped provider.
func (b *Batcher) Dimension() int { return b.provider.Dimension() }

// BatchSize returns the maximum number of texts sent per provider call.
func (b *Batcher) BatchSize() int { return b.batchSize }

// Embed embeds texts in provider calls of at most BatchSize texts.
func (b *Batcher) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += b.batchSize {
		end := start + b.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := b.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (b *Batcher) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	vecs, err := b.provider.Embed(ctx, texts)
	if err != nil {
		return nil, goerr.Wrap(domain.ErrEmbeddingUnavailable, err.Error(),
			goerr.V("provider", b.provider.Name()),
			goerr.V("batch_size", len(texts)))
	}
	if len(vecs) != len(texts) {
		return nil, goerr.Wrap(domain.ErrEmbeddingUnavailable, "provider returned wrong number of vectors",
			goerr.V("provider", b.provider.Name()),
			goerr.V("expected", len(texts)),
			goerr.V("got", len(vecs)))
	}
	for i, v := range vecs {
		if len(v) == 0 {
			return nil, goerr.Wrap(domain.ErrEmbeddingUnavailable, "provider returned empty vector",
				goerr.V("provider", b.provider.Name()),
				goerr.V("position", i))
		}
	}
	return vecs, nil
}

// EmbedOne embeds a single text.
func (b *Batcher) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := b.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}
