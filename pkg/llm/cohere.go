package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	cohere "github.com/cohere-ai/cohere-go/v2"
	cohereclient "github.com/cohere-ai/cohere-go/v2/client"

	"github.com/umputun/newsrec/pkg/config"
)

// DefaultCohereModel used when embedding model is not set
const DefaultCohereModel = "embed-multilingual-v3.0"

// CohereEmbedder embeds titles with the Cohere v2 embed API
type CohereEmbedder struct {
	client *cohereclient.Client
	model  string
}

// NewCohereEmbedder creates embedder for cfg. httpClient is optional, it allows a custom transport.
func NewCohereEmbedder(cfg config.EmbeddingConfig, httpClient *http.Client) *CohereEmbedder {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	model := cfg.Model
	if model == "" {
		model = DefaultCohereModel
	}
	client := cohereclient.NewClient(
		cohereclient.WithToken(cfg.APIKey),
		cohereclient.WithHTTPClient(httpClient),
	)
	return &CohereEmbedder{client: client, model: model}
}

// Embed returns one vector per text, in input order
func (e *CohereEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	resp, err := e.client.V2.Embed(ctx, &cohere.V2EmbedRequest{
		Texts:          texts,
		Model:          e.model,
		InputType:      cohere.EmbedInputTypeSearchDocument,
		EmbeddingTypes: []cohere.EmbeddingType{cohere.EmbeddingTypeFloat},
	})
	if err != nil {
		return nil, fmt.Errorf("cohere embed request failed: %w", err)
	}
	if resp == nil || resp.Embeddings == nil || resp.Embeddings.Float == nil {
		return nil, errors.New("cohere returned no float embeddings")
	}
	if len(resp.Embeddings.Float) != len(texts) {
		return nil, fmt.Errorf("cohere returned %d embeddings for %d texts", len(resp.Embeddings.Float), len(texts))
	}

	res := make([][]float32, len(resp.Embeddings.Float))
	for i, vec := range resp.Embeddings.Float {
		fv := make([]float32, len(vec))
		for j, v := range vec {
			fv[j] = float32(v)
		}
		res[i] = fv
	}
	return res, nil
}

// Model returns embedding model name
func (e *CohereEmbedder) Model() string { return e.model }
