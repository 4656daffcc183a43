package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	t.Setenv("BIOSCOUT_TEST_KEY", "sk-test")
	c, err := NewClient(Config{BaseURL: url, APIKeyEnv: "BIOSCOUT_TEST_KEY", Model: "m", MaxRetries: 2, Timeout: time.Second})
	require.NoError(t, err)
	return c
}

func TestNewClient_MissingKey(t *testing.T) {
	t.Setenv("BIOSCOUT_EMPTY_KEY", "")
	_, err := NewClient(Config{APIKeyEnv: "BIOSCOUT_EMPTY_KEY"})
	assert.Error(t, err)
}

func TestClient_Embed(t *testing.T) {
	t.Run("batch request returns vectors in input order", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/embeddings", r.URL.Path)
			assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
			var req embeddingRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, []string{"a", "b"}, req.Input)
			// reversed on purpose
			_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`))
		}))
		defer srv.Close()

		c := newTestClient(t, srv.URL)
		vecs, err := c.Embed(context.Background(), []string{"a", "b"})
		require.NoError(t, err)
		assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vecs)
		assert.Equal(t, 2, c.Dimension())
	})

	t.Run("retries server errors", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[0.5]}]}`))
		}))
		defer srv.Close()

		vecs, err := newTestClient(t, srv.URL).Embed(context.Background(), []string{"a"})
		require.NoError(t, err)
		assert.Len(t, vecs, 1)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer srv.Close()

		_, err := newTestClient(t, srv.URL).Embed(context.Background(), []string{"a"})
		assert.Error(t, err)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("count mismatch fails the whole call", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[1]}]}`))
		}))
		defer srv.Close()

		vecs, err := newTestClient(t, srv.URL).Embed(context.Background(), []string{"a", "b"})
		assert.Error(t, err)
		assert.Nil(t, vecs)
	})

	t.Run("empty input makes no request", func(t *testing.T) {
		c := newTestClient(t, "http://127.0.0.1:0")
		vecs, err := c.Embed(context.Background(), nil)
		assert.NoError(t, err)
		assert.Empty(t, vecs)
	})
}
