package hugot

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/m-mizutani/goerr/v2"
)

const (
	DefaultModel     = "sentence-transformers/all-MiniLM-L6-v2"
	DefaultModelDir  = "./models"
	DefaultDimension = 384
)

// Config selects the sentence transformer model and where it is cached.
type Config struct {
	ModelName string
	ModelDir  string
	// Dimension of the model output; all-MiniLM-L6-v2 produces 384.
	Dimension int
}

// Embedder runs a sentence transformer locally through the pure Go hugot backend.
// The underlying pipeline is not safe for concurrent use, so calls are serialised.
type Embedder struct {
	mu        sync.Mutex
	session   *hugot.Session
	run       func(texts []string) ([][]float32, error)
	dimension int
}

// NewEmbedder prepares the model (downloading it on first use) and starts a session.
func NewEmbedder(cfg Config) (*Embedder, error) {
	if cfg.ModelName == "" {
		cfg.ModelName = DefaultModel
	}
	if cfg.ModelDir == "" {
		cfg.ModelDir = DefaultModelDir
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultDimension
	}
	modelPath, err := PrepareModel(cfg.ModelName, cfg.ModelDir)
	if err != nil {
		return nil, err
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create hugot session")
	}
	pipeline, err := hugot.NewPipeline(session, hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "bioscout-embedder",
	})
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, goerr.Wrap(err, "failed to create feature extraction pipeline", goerr.V("cleanup_error", destroyErr.Error()))
		}
		return nil, goerr.Wrap(err, "failed to create feature extraction pipeline")
	}

	return &Embedder{
		session: session,
		run: func(texts []string) ([][]float32, error) {
			out, err := pipeline.RunPipeline(texts)
			if err != nil {
				return nil, err
			}
			return out.Embeddings, nil
		},
		dimension: cfg.Dimension,
	}, nil
}

// PrepareModel downloads the model into dir unless it is already there and returns its path.
func PrepareModel(modelName, dir string) (string, error) {
	modelPath := filepath.Join(dir, strings.ReplaceAll(modelName, "/", "_"))
	if _, err := os.Stat(modelPath); err == nil {
		return modelPath, nil
	} else if !os.IsNotExist(err) {
		return "", goerr.Wrap(err, "failed to stat model directory", goerr.V("path", modelPath))
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", goerr.Wrap(err, "failed to create model directory", goerr.V("dir", dir))
	}
	opts := hugot.NewDownloadOptions()
	opts.OnnxFilePath = "onnx/model.onnx"
	downloaded, err := hugot.DownloadModel(modelName, dir, opts)
	if err != nil {
		return "", goerr.Wrap(err, "failed to download model", goerr.V("model", modelName))
	}
	return downloaded, nil
}

// Name returns the identifier of this embedder implementation.
func (e *Embedder) Name() string { return "hugot" }

// Dimension returns the dimensionality of the produced embedding vectors.
func (e *Embedder) Dimension() int { return e.dimension }

// Embed runs the whole batch through the pipeline in one call.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run == nil {
		return nil, goerr.New("hugot embedder is closed")
	}

	vecs, err := e.run(texts)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate embeddings", goerr.V("batch_size", len(texts)))
	}
	if len(vecs) != len(texts) {
		return nil, goerr.New("unexpected number of embeddings", goerr.V("expected", len(texts)), goerr.V("got", len(vecs)))
	}
	return vecs, nil
}

// Close releases the hugot session.
func (e *Embedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.run = nil
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	if err != nil {
		return goerr.Wrap(err, "failed to destroy hugot session")
	}
	return nil
}
