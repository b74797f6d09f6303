// Package llm provides embedding clients for cold-start resolution: OpenAI-compatible
// and Cohere APIs, optionally protected by a circuit breaker.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/go-pkgz/lgr"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/umputun/newsrec/pkg/coldstart"
	"github.com/umputun/newsrec/pkg/config"
)

// supported embedding providers
const (
	ProviderNone   = ""
	ProviderOpenAI = "openai"
	ProviderCohere = "cohere"
)

// NewEmbedder makes an embedder for the configured provider, nil if none is configured
func NewEmbedder(cfg config.EmbeddingConfig) (coldstart.Embedder, error) {
	var res coldstart.Embedder
	switch cfg.Provider {
	case ProviderNone:
		return nil, nil
	case ProviderOpenAI:
		res = NewOpenAIEmbedder(cfg)
	case ProviderCohere:
		res = NewCohereEmbedder(cfg, nil)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	if cfg.Breaker.Failures > 0 {
		res = NewBreakerEmbedder(res, cfg.Provider, cfg.Breaker)
	}
	return res, nil
}

// BreakerEmbedder stops calling a failing embedding API for a while.
// Open state is reported as gobreaker.ErrOpenState.
type BreakerEmbedder struct {
	next coldstart.Embedder
	cb   *gobreaker.CircuitBreaker[[][]float32]
}

// NewBreakerEmbedder wraps next, tripping after cfg.Failures consecutive errors
func NewBreakerEmbedder(next coldstart.Embedder, name string, cfg config.BreakerConfig) *BreakerEmbedder {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	settings := gobreaker.Settings{
		Name:        "embed-" + name,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			lgr.Printf("[WARN] circuit breaker %s: %s -> %s", name, from, to)
		},
	}
	return &BreakerEmbedder{next: next, cb: gobreaker.NewCircuitBreaker[[][]float32](settings)}
}

// Embed calls wrapped embedder unless the breaker is open
func (b *BreakerEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return b.cb.Execute(func() ([][]float32, error) {
		return b.next.Embed(ctx, texts)
	})
}

// State returns current breaker state name
func (b *BreakerEmbedder) State() string {
	return b.cb.State().String()
}
