package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is sized for a large session: one entry per prompted
// violation, and prompts repeat whenever the same violation is retried
// against unchanged context.
const DefaultCacheSize = 512

// CachedClient wraps another client with an LRU of prompt -> completion.
// Keys include the prompt template version, so bumping the template
// abandons every cached completion at once.
type CachedClient struct {
	inner   LLMClient
	version string
	cache   *lru.Cache[string, string]
}

// NewCachedClient builds a cache of the given size in front of inner.
func NewCachedClient(inner LLMClient, templateVersion string, size int) (*CachedClient, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("Failed to build the completion cache: %w", err)
	}
	return &CachedClient{
		inner:   inner,
		version: templateVersion,
		cache:   cache,
	}, nil
}

// Generate serves from cache when the exact prompt was already completed
// under the current template version, otherwise delegates to the wrapped
// client and caches the result.
func (c *CachedClient) Generate(ctx context.Context, prompt string, params *GenerationParams) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := initMetrics(); err != nil {
		return "", fmt.Errorf("Failed to initialize cache metrics: %w", err)
	}

	key := cacheKey(c.version, prompt)
	if out, ok := c.cache.Get(key); ok {
		completionCacheHits.Add(ctx, 1)
		return out, nil
	}
	completionCacheMiss.Add(ctx, 1)

	out, err := c.inner.Generate(ctx, prompt, params)
	if err != nil {
		return "", err
	}
	c.cache.Add(key, out)
	return out, nil
}

// Len reports the number of cached completions.
func (c *CachedClient) Len() int {
	return c.cache.Len()
}

func cacheKey(version, prompt string) string {
	h := sha256.New()
	h.Write([]byte(version))
	h.Write([]byte{0})
	h.Write([]byte(prompt))
	return hex.EncodeToString(h.Sum(nil))
}
