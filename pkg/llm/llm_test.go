package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/newsrec/pkg/coldstart/mocks"
	"github.com/umputun/newsrec/pkg/config"
)

func TestOpenAIEmbedder_Embed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"first", "second"}, req.Input)
		assert.Equal(t, "text-embedding-3-small", req.Model)

		// reversed on purpose, embedder must restore input order
		resp := openai.EmbeddingResponse{Data: []openai.Embedding{
			{Object: "embedding", Embedding: []float32{0, 1}, Index: 1},
			{Object: "embedding", Embedding: []float32{1, 0}, Index: 0},
		}}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	e := NewOpenAIEmbedder(config.EmbeddingConfig{Endpoint: server.URL + "/v1", APIKey: "test-key", Timeout: 5 * time.Second})
	assert.Equal(t, DefaultOpenAIModel, e.Model())

	res, err := e.Embed(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, res)

	res, err = e.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestOpenAIEmbedder_Errors(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":{"message":"internal error","type":"server_error"}}`))
		}))
		defer server.Close()

		e := NewOpenAIEmbedder(config.EmbeddingConfig{Endpoint: server.URL + "/v1", APIKey: "k", Model: "m"})
		_, err := e.Embed(context.Background(), []string{"x"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "openai embeddings request failed")
	})

	t.Run("count mismatch", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(openai.EmbeddingResponse{Data: []openai.Embedding{{Embedding: []float32{1}}}})
		}))
		defer server.Close()

		e := NewOpenAIEmbedder(config.EmbeddingConfig{Endpoint: server.URL + "/v1", APIKey: "k", Model: "m"})
		_, err := e.Embed(context.Background(), []string{"x", "y"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "returned 1 embeddings for 2 texts")
	})
}

// redirectTransport sends every request to target, keeping path and query
type redirectTransport struct {
	target *url.URL
}

func (rt redirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Scheme = rt.target.Scheme
	req.URL.Host = rt.target.Host
	req.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

func TestCohereEmbedder_Embed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/embed", r.URL.Path)
		assert.Equal(t, "Bearer cohere-key", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "embed-multilingual-v3.0", req["model"])
		assert.Equal(t, []any{"first", "second"}, req["texts"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"resp-1","response_type":"embeddings_by_type",` +
			`"embeddings":{"float":[[0.5,0.25],[1,0]]},"texts":["first","second"]}`))
	}))
	defer server.Close()

	target, err := url.Parse(server.URL)
	require.NoError(t, err)
	e := NewCohereEmbedder(config.EmbeddingConfig{APIKey: "cohere-key"}, &http.Client{Transport: redirectTransport{target: target}})
	assert.Equal(t, DefaultCohereModel, e.Model())

	res, err := e.Embed(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.5, 0.25}, {1, 0}}, res)
}

func TestCohereEmbedder_CountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"resp-1","embeddings":{"float":[[1,0]]}}`))
	}))
	defer server.Close()

	target, err := url.Parse(server.URL)
	require.NoError(t, err)
	e := NewCohereEmbedder(config.EmbeddingConfig{APIKey: "k", Model: "embed-english-v3.0"}, &http.Client{Transport: redirectTransport{target: target}})
	_, err = e.Embed(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "returned 1 embeddings for 2 texts")
}

func TestBreakerEmbedder(t *testing.T) {
	boom := errors.New("boom")
	next := &mocks.EmbedderMock{EmbedFunc: func(context.Context, []string) ([][]float32, error) { return nil, boom }}
	b := NewBreakerEmbedder(next, "test", config.BreakerConfig{Failures: 2, Timeout: time.Minute})

	for range 2 {
		_, err := b.Embed(context.Background(), []string{"x"})
		require.ErrorIs(t, err, boom)
	}
	assert.Equal(t, "open", b.State())

	_, err := b.Embed(context.Background(), []string{"x"})
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Len(t, next.EmbedCalls(), 2, "open breaker does not call embedder")
}

func TestNewEmbedder(t *testing.T) {
	e, err := NewEmbedder(config.EmbeddingConfig{})
	require.NoError(t, err)
	assert.Nil(t, e)

	_, err = NewEmbedder(config.EmbeddingConfig{Provider: "bad"})
	require.Error(t, err)

	e, err = NewEmbedder(config.EmbeddingConfig{Provider: ProviderOpenAI, APIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAIEmbedder{}, e)

	e, err = NewEmbedder(config.EmbeddingConfig{Provider: ProviderCohere, APIKey: "k", Breaker: config.BreakerConfig{Failures: 3}})
	require.NoError(t, err)
	assert.IsType(t, &BreakerEmbedder{}, e)
}
