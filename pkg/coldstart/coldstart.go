// Package coldstart ranks articles by semantic similarity of their titles to a free-text
// title, for items and users with no interaction history. Titles are embedded with an
// external Embedder, corpus embeddings are cached per article id and title.
package coldstart

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/go-pkgz/lgr"

	"github.com/umputun/newsrec/pkg/domain"
)

//go:generate moq -out mocks/embedder.go -pkg mocks -skip-ensure -fmt goimports . Embedder

// DefaultBatchSize is the number of titles sent to the embedder in one call
const DefaultBatchSize = 96

// Embedder turns texts into dense vectors, one per text in input order
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Match is a scored cold-start result
type Match struct {
	ArticleID string  `json:"article_id"`
	Score     float64 `json:"score"`
}

// Resolver finds articles similar to a title
type Resolver struct {
	embedder  Embedder
	batchSize int
	cache     Cache
	keyPrefix string
}

// Option configures Resolver
type Option func(*Resolver)

// WithBatchSize sets max number of titles per embedding request
func WithBatchSize(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithCache sets embedding cache, nil disables caching
func WithCache(c Cache) Option {
	return func(r *Resolver) { r.cache = c }
}

// WithKeyPrefix sets cache key prefix, it should identify the embedding provider and model
// so vectors of different models never mix in a shared cache
func WithKeyPrefix(prefix string) Option {
	return func(r *Resolver) { r.keyPrefix = prefix }
}

// New makes a resolver with an in-memory cache of DefaultCacheSize entries
func New(embedder Embedder, opts ...Option) *Resolver {
	r := &Resolver{embedder: embedder, batchSize: DefaultBatchSize, cache: NewMemoryCache(DefaultCacheSize)}
	for _, opt := range opts {
		opt(r)
	}
	if r.cache == nil {
		r.cache = noCache{}
	}
	return r
}

// ResolveSimilarArticles returns ids of the topN corpus articles most similar to title
func (r *Resolver) ResolveSimilarArticles(ctx context.Context, title string, corpus []domain.Article, topN int) ([]string, error) {
	matches, err := r.Resolve(ctx, title, corpus, topN)
	if err != nil {
		return nil, err
	}
	res := make([]string, len(matches))
	for i, m := range matches {
		res[i] = m.ArticleID
	}
	return res, nil
}

// Resolve ranks corpus articles by cosine similarity of title embeddings, descending,
// ties in corpus order. topN <= 0 returns the whole corpus ranked.
func (r *Resolver) Resolve(ctx context.Context, title string, corpus []domain.Article, topN int) ([]Match, error) {
	if len(corpus) == 0 {
		return []Match{}, nil
	}

	vectors := make([][]float32, len(corpus))
	var missTexts []string
	var missRows, hitRows []int
	for i, a := range corpus {
		if vec, ok := r.cache.Get(ctx, r.cacheKey(a)); ok {
			vectors[i] = vec
			hitRows = append(hitRows, i)
			continue
		}
		missTexts = append(missTexts, a.Title)
		missRows = append(missRows, i)
	}

	// query title goes first, so a warm cache costs a single small request
	embedded, err := r.embed(ctx, append([]string{title}, missTexts...))
	if err != nil {
		return nil, err
	}
	query := embedded[0]
	for j, row := range missRows {
		vectors[row] = embedded[j+1]
		r.cache.Put(ctx, r.cacheKey(corpus[row]), embedded[j+1])
	}

	// cached vectors of another dimension came from a different model, treat them as misses
	var staleTexts []string
	var staleRows []int
	for _, row := range hitRows {
		if len(vectors[row]) != len(query) {
			staleTexts = append(staleTexts, corpus[row].Title)
			staleRows = append(staleRows, row)
		}
	}
	if len(staleRows) > 0 {
		lgr.Printf("[WARN] %d cached embeddings have wrong dimension, re-embedding", len(staleRows))
		fresh, err := r.embed(ctx, staleTexts)
		if err != nil {
			return nil, err
		}
		for j, row := range staleRows {
			vectors[row] = fresh[j]
			r.cache.Put(ctx, r.cacheKey(corpus[row]), fresh[j])
		}
	}

	res := make([]Match, len(corpus))
	for i, vec := range vectors {
		if len(vec) != len(query) {
			return nil, fmt.Errorf("embedding dimension mismatch for %s: %d != %d", corpus[i].ID, len(vec), len(query))
		}
		res[i] = Match{ArticleID: corpus[i].ID, Score: Cosine(query, vec)}
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].Score > res[j].Score })
	if topN > 0 && len(res) > topN {
		res = res[:topN]
	}
	return res, nil
}

// embed sends texts in batches and checks the response count for each batch
func (r *Resolver) embed(ctx context.Context, texts []string) ([][]float32, error) {
	res := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += r.batchSize {
		end := min(start+r.batchSize, len(texts))
		batch, err := r.embedder.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed titles: %w", err)
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("embedder returned %d vectors for %d titles", len(batch), end-start)
		}
		res = append(res, batch...)
	}
	return res, nil
}

// Cosine returns cosine similarity of two equal-length vectors, 0 if either is all zeros
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func (r *Resolver) cacheKey(a domain.Article) string {
	return r.keyPrefix + a.ID + "\x00" + a.Title
}
