package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bioscout/internal/chunker"
	"bioscout/internal/corpus"
	"bioscout/internal/domain"
	"bioscout/internal/embedding/lexical"
	"bioscout/internal/seed"
	"bioscout/internal/service"
	storemem "bioscout/internal/store/memory"
	"bioscout/internal/summarizer"
	"bioscout/internal/vectorstore/memory"
)

type inlineDispatcher struct{}

func (inlineDispatcher) Dispatch(ctx context.Context, handler func(ctx context.Context) error) {
	_ = handler(ctx)
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.Background()
	store := storemem.NewStore()
	f, err := seed.Load("../seed/testdata/fixtures.yaml")
	require.NoError(t, err)
	_, err = seed.Apply(ctx, store, f)
	require.NoError(t, err)

	svc := service.NewRAGService(store, memory.NewIndex(), chunker.NewRecursiveChunker(1000, 200),
		lexical.NewEmbedder(512), summarizer.NewExtractive(summarizer.WithSeed(1)),
		service.WithDispatcher(inlineDispatcher{}))
	_, err = svc.IngestCorpus(ctx, true)
	require.NoError(t, err)

	srv := httptest.NewServer(New(svc))
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, srv *httptest.Server, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestServer_Ask(t *testing.T) {
	srv := newTestServer(t)

	t.Run("answers with sources", func(t *testing.T) {
		resp, body := post(t, srv, "/api/rag/ask", `{"question":"Where can I see leopards in the Margalla Hills?","user_id":"u1"}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
		assert.NotEmpty(t, body["answer"])
		assert.Contains(t, body["sources"], "Species: Panthera pardus")
		assert.Contains(t, body["related_species_ids"], "sp-common-leopard")
	})

	t.Run("empty question is a bad request", func(t *testing.T) {
		resp, body := post(t, srv, "/api/rag/ask", `{"question":"  "}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, body["error"], "question is empty")
	})

	t.Run("malformed body", func(t *testing.T) {
		resp, _ := post(t, srv, "/api/rag/ask", `{"question":`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("history lists the question", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/rag/history?user_id=u1&limit=10")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var body struct {
			History []domain.QAInteraction `json:"history"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		require.Len(t, body.History, 1)
		assert.Equal(t, "Where can I see leopards in the Margalla Hills?", body.History[0].Question)
	})

	t.Run("history requires a user", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/rag/history")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		resp, err = http.Get(srv.URL + "/api/rag/history?user_id=u1&limit=many")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestServer_Species(t *testing.T) {
	srv := newTestServer(t)

	resp, body := post(t, srv, "/api/species/match", `{"label":"rhesus_macaque"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	best, ok := body["best"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "sp-rhesus-macaque", best["species_id"])
	assert.Equal(t, true, body["database_match"])

	resp, body = post(t, srv, "/api/species/identify", `{"predictions":[{"label":"tiger","confidence":0.1},{"label":"Leopard","confidence":0.8}]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Leopard", body["label"])
	assert.Len(t, body["alternatives"], 1)

	resp, _ = post(t, srv, "/api/species/match", `{"label":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_Corpus(t *testing.T) {
	srv := newTestServer(t)

	t.Run("train", func(t *testing.T) {
		resp, body := post(t, srv, "/api/rag/train", `{"documents":[{"text":"Kalij pheasants forage under oak trees at dawn.","metadata":{"source_type":"knowledge","title":"Kalij notes"}}]}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.EqualValues(t, 1, body["sources"])

		resp, _ = post(t, srv, "/api/rag/train", `{"documents":[{"text":"x","metadata":{"source_type":"rumour"}}]}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("incremental ingest skips unchanged records", func(t *testing.T) {
		resp, body := post(t, srv, "/api/rag/ingest", `{"full_rebuild":false}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.EqualValues(t, 0, body["sources"])
	})

	t.Run("single source", func(t *testing.T) {
		resp, body := post(t, srv, "/api/rag/ingest", `{"source":{"source_type":"species","source_id":"sp-peepal"}}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.EqualValues(t, 1, body["sources"])

		resp, _ = post(t, srv, "/api/rag/ingest", `{"source":{"source_type":"species","source_id":"sp-dodo"}}`)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("reembed with nothing pending", func(t *testing.T) {
		resp, body := post(t, srv, "/api/rag/reembed", `{"limit":10}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.EqualValues(t, 0, body["chunks"])
	})
}

type failingPort struct{ RAGPort }

func (failingPort) IngestCorpus(context.Context, bool) (corpus.Report, error) {
	return corpus.Report{Sources: 2, Unembedded: 3}, goerr.Wrap(domain.ErrEmbeddingUnavailable, "provider down")
}

func (failingPort) ReembedPending(context.Context, int) (corpus.Report, error) {
	return corpus.Report{}, goerr.New("disk on fire")
}

func TestServer_ErrorMapping(t *testing.T) {
	srv := httptest.NewServer(New(failingPort{}))
	defer srv.Close()

	resp, body := post(t, srv, "/api/rag/ingest", `{}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	report, ok := body["report"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 3, report["unembedded"])

	resp, body = post(t, srv, "/api/rag/reembed", `{}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.NotEmpty(t, body["error"])

	health, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}
