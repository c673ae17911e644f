// Package providers implements the pluggable embedding and LLM backends
// the engine composes (§4.2, §4.3), plus the registry pattern for
// selecting one by name from configuration.
package providers

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/kbrag/engine/errorsx"
	"github.com/kbrag/engine/ragstore"
)

// EmbeddingProvider is the contract every embedding backend implements
// (§4.2). EmbedOne and EmbedBatch both return errorsx-kinded errors:
// EmptyInput for blank text, ProviderTransient for rate limiting or
// timeouts (retryable per errorsx.Retryable), ProviderPermanent otherwise.
type EmbeddingProvider interface {
	EmbedOne(ctx context.Context, text string) (ragstore.Vector, error)
	EmbedBatch(ctx context.Context, texts []string) ([]ragstore.Vector, error)
	Dimension() int
}

// EmbedderFactory builds an EmbeddingProvider from provider-specific
// configuration (API key, model name, etc).
type EmbedderFactory func(config map[string]interface{}) (EmbeddingProvider, error)

var (
	embedderMu        sync.RWMutex
	embedderFactories = make(map[string]EmbedderFactory)
)

// RegisterEmbedder registers a factory under a provider name (e.g.
// "openai", "ollama"). Called from each provider implementation's init().
func RegisterEmbedder(name string, factory EmbedderFactory) {
	embedderMu.Lock()
	defer embedderMu.Unlock()
	embedderFactories[name] = factory
}

// GetEmbedderFactory looks up a previously registered factory.
func GetEmbedderFactory(name string) (EmbedderFactory, error) {
	embedderMu.RLock()
	defer embedderMu.RUnlock()
	factory, ok := embedderFactories[name]
	if !ok {
		return nil, errorsx.Newf(errorsx.InvalidConfig, "embedding provider not registered: %s", name)
	}
	return factory, nil
}

// retryPolicy is §4.2's backoff schedule: up to 3 attempts, starting at
// 2s and doubling towards a 10s ceiling, applied only to retryable
// (ProviderTransient) errors.
type retryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

func defaultRetryPolicy() retryPolicy {
	return retryPolicy{maxAttempts: 3, baseDelay: 2 * time.Second, maxDelay: 10 * time.Second}
}

func (p retryPolicy) delay(attempt int) time.Duration {
	d := time.Duration(float64(p.baseDelay) * math.Pow(2, float64(attempt)))
	if d > p.maxDelay {
		d = p.maxDelay
	}
	return d
}

// retryingEmbedder wraps an EmbeddingProvider with the §4.2 retry policy.
type retryingEmbedder struct {
	inner  EmbeddingProvider
	policy retryPolicy
	sleep  func(context.Context, time.Duration) error
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// WithRetry wraps a provider so RateLimited/Timeout failures are retried
// per §4.2's backoff schedule before giving up.
func WithRetry(inner EmbeddingProvider) EmbeddingProvider {
	return &retryingEmbedder{inner: inner, policy: defaultRetryPolicy(), sleep: ctxSleep}
}

// withRetryPolicy is the test-seam variant, allowing a faster policy and
// a non-blocking sleep so retry behavior can be verified without paying
// real wall-clock backoff delays.
func withRetryPolicy(inner EmbeddingProvider, policy retryPolicy, sleep func(context.Context, time.Duration) error) EmbeddingProvider {
	return &retryingEmbedder{inner: inner, policy: policy, sleep: sleep}
}

func (r *retryingEmbedder) Dimension() int { return r.inner.Dimension() }

func (r *retryingEmbedder) EmbedOne(ctx context.Context, text string) (ragstore.Vector, error) {
	var vec ragstore.Vector
	err := r.retry(ctx, func() error {
		v, err := r.inner.EmbedOne(ctx, text)
		vec = v
		return err
	})
	return vec, err
}

func (r *retryingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]ragstore.Vector, error) {
	var vecs []ragstore.Vector
	err := r.retry(ctx, func() error {
		v, err := r.inner.EmbedBatch(ctx, texts)
		vecs = v
		return err
	})
	return vecs, err
}

func (r *retryingEmbedder) retry(ctx context.Context, call func() error) error {
	var lastErr error
	for attempt := 0; attempt < r.policy.maxAttempts; attempt++ {
		lastErr = call()
		if lastErr == nil || !errorsx.Retryable(lastErr) {
			return lastErr
		}
		if attempt == r.policy.maxAttempts-1 {
			break
		}
		if err := r.sleep(ctx, r.policy.delay(attempt)); err != nil {
			return err
		}
	}
	return lastErr
}
