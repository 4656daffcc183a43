package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// Client is an OpenAI-compatible embeddings client. One call sends the whole batch
// as the request input.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	dimension  int
	client     *http.Client
	maxRetries int
}

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	BaseURL   string
	APIKeyEnv string
	Model     string
	// Dimension is reported before the first response arrives. Zero means learn it lazily.
	Dimension  int
	Timeout    time.Duration
	MaxRetries int
}

// NewClient creates a new embeddings client using the provided configuration.
func NewClient(cfg Config) (*Client, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, goerr.New("missing API key", goerr.V("env", cfg.APIKeyEnv))
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	t := cfg.Timeout
	if t == 0 {
		t = 30 * time.Second
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     key,
		model:      cfg.Model,
		dimension:  cfg.Dimension,
		client:     &http.Client{Timeout: t},
		maxRetries: retries,
	}, nil
}

// Name returns the identifier of this embedder implementation.
func (c *Client) Name() string { return "openai" }

// Dimension returns the dimensionality of the produced embedding vectors.
func (c *Client) Dimension() int { return c.dimension }

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns one vector per text, in input order. Rate limits and server errors are
// retried with backoff until the context is done.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(embeddingRequest{Input: texts, Model: c.model})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode embedding request")
	}
	url := fmt.Sprintf("%s/embeddings", c.baseURL)

	var lastErr error
	var wait time.Duration
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if wait <= 0 {
				wait = retryDelay(attempt - 1)
			}
			if err := sleep(ctx, wait); err != nil {
				return nil, err
			}
		}
		var payload []byte
		payload, wait, lastErr = c.post(ctx, url, data)
		if lastErr == nil {
			return c.decode(payload, len(texts))
		}
		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return nil, perm.err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, goerr.Wrap(lastErr, "openai embeddings failed after retries", goerr.V("attempts", c.maxRetries+1))
}

// post performs one request. Errors are retryable unless they are a *permanentError; the
// returned duration is the server-requested Retry-After delay, if any.
func (c *Client) post(ctx context.Context, url string, data []byte) ([]byte, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, 0, goerr.Wrap(err, "failed to build embedding request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, goerr.Wrap(err, "embedding request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		var wait time.Duration
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil {
				wait = time.Duration(secs) * time.Second
			}
		}
		return nil, wait, goerr.New("openai embeddings failed", goerr.V("status", resp.Status))
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, 0, &permanentError{goerr.New("openai embeddings rejected",
			goerr.V("status", resp.Status), goerr.V("body", string(body)))}
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, goerr.Wrap(err, "failed to read embedding response")
	}
	return payload, 0, nil
}

func (c *Client) decode(payload []byte, want int) ([][]float32, error) {
	var out embeddingResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, goerr.Wrap(err, "failed to decode embedding response")
	}
	if len(out.Data) != want {
		return nil, goerr.New("unexpected number of embeddings", goerr.V("expected", want), goerr.V("got", len(out.Data)))
	}
	sort.SliceStable(out.Data, func(i, j int) bool { return out.Data[i].Index < out.Data[j].Index })
	vecs := make([][]float32, want)
	for i, d := range out.Data {
		if len(d.Embedding) == 0 {
			return nil, goerr.New("empty embedding returned", goerr.V("index", d.Index))
		}
		vecs[i] = d.Embedding
	}
	if c.dimension == 0 {
		c.dimension = len(vecs[0])
	}
	return vecs, nil
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := 200 * time.Millisecond
	// exponential backoff capped at 5s
	d := base << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}
