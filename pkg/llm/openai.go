package llm

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"github.com/sashabaranov/go-openai"

	"github.com/umputun/newsrec/pkg/config"
)

// DefaultOpenAIModel used when embedding model is not set
const DefaultOpenAIModel = string(openai.SmallEmbedding3)

// OpenAIEmbedder embeds titles with an OpenAI-compatible embeddings API
type OpenAIEmbedder struct {
	client *openai.Client
	config config.EmbeddingConfig
}

// NewOpenAIEmbedder creates embedder for cfg, custom endpoint allowed for compatible servers
func NewOpenAIEmbedder(cfg config.EmbeddingConfig) *OpenAIEmbedder {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientConfig.BaseURL = cfg.Endpoint
	}
	if cfg.Timeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	return &OpenAIEmbedder{client: openai.NewClientWithConfig(clientConfig), config: cfg}
}

// Embed returns one vector per text, in input order
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: texts,
		Model: openai.EmbeddingModel(e.config.Model),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings request failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d texts", len(resp.Data), len(texts))
	}

	// data is documented to be in input order, index makes it explicit
	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	res := make([][]float32, len(data))
	for i, d := range data {
		res[i] = d.Embedding
	}
	return res, nil
}

// Model returns embedding model name
func (e *OpenAIEmbedder) Model() string { return e.config.Model }
