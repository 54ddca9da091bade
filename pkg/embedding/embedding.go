// Package embedding computes semantic embeddings of short texts for
// the deduplication stage, batching upstream calls, caching by
// content hash, and retrying rate-limit responses.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/evalforge/evalforge/pkg/platform/ferrors"
)

// DefaultDimension is the embedding vector length used when a
// configuration omits one.
const DefaultDimension = 768

// maxBatchTexts is the most texts sent to the upstream provider in a
// single call.
const maxBatchTexts = 5

// Provider is the upstream embedding backend a Client calls through.
// A real deployment wires Provider to a hosted embedding API; tests
// and offline development use the local deterministic provider
// below.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// Client computes embeddings with an in-process cache and batching
// on top of a Provider.
type Client struct {
	provider  Provider
	dimension int

	mu    sync.RWMutex
	cache map[string][]float64
}

// NewClient wraps provider with caching and batching. dimension is
// used only for the zero-vector short-circuit on empty input; the
// provider is the source of truth for vector length otherwise.
func NewClient(provider Provider, dimension int) *Client {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &Client{
		provider:  provider,
		dimension: dimension,
		cache:     make(map[string][]float64),
	}
}

// Embed returns one embedding per text in texts, preserving order.
// Cache hits are served without calling the provider; cache misses
// are grouped into batches of up to 5 and sent to the provider with
// retry on rate-limit errors. A text repeated within one call is sent
// to the provider once.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	results := make([][]float64, len(texts))
	misses := make(map[string][]int)
	missTexts := make([]string, 0, len(texts))

	for i, text := range texts {
		if text == "" {
			results[i] = make([]float64, c.dimension)
			continue
		}
		if v, ok := c.get(text); ok {
			results[i] = v
			continue
		}
		if _, seen := misses[text]; !seen {
			missTexts = append(missTexts, text)
		}
		misses[text] = append(misses[text], i)
	}

	for start := 0; start < len(missTexts); start += maxBatchTexts {
		end := start + maxBatchTexts
		if end > len(missTexts) {
			end = len(missTexts)
		}
		batch := missTexts[start:end]

		vectors, err := c.embedBatchWithRetry(ctx, batch)
		if err != nil {
			return nil, err
		}
		for j, v := range vectors {
			for _, idx := range misses[batch[j]] {
				results[idx] = v
			}
			c.put(batch[j], v)
		}
	}

	return results, nil
}

func (c *Client) embedBatchWithRetry(ctx context.Context, batch []string) ([][]float64, error) {
	backoff := retry.NewExponential(1 * time.Second)
	backoff = retry.WithMaxDuration(10*time.Second, backoff)
	backoff = retry.WithMaxRetries(2, backoff) // 3 total attempts

	var vectors [][]float64
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		v, err := c.provider.Embed(ctx, batch)
		if err != nil {
			if ferrors.KindOf(err) == ferrors.KindRateLimited {
				return retry.RetryableError(err)
			}
			return err
		}
		vectors = v
		return nil
	})
	if err != nil {
		return nil, ferrors.FailedTo("compute embeddings", err)
	}
	return vectors, nil
}

func (c *Client) get(text string) ([]float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.cache[cacheKey(text)]
	return v, ok
}

func (c *Client) put(text string, vector []float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// A race that recomputes the same embedding twice is tolerated;
	// the second write simply overwrites the first with an identical
	// value for a deterministic provider.
	c.cache[cacheKey(text)] = vector
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
