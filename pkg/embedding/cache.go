package embedding

import (
	"context"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// DefaultCacheSize bounds the number of cached vectors; repeated queries
	// within a session should not re-call the external service.
	DefaultCacheSize = 100

	cacheKeyPrefixLen = 128
)

// CachedProvider wraps a Provider with a bounded LRU of successful results,
// keyed on (model, normalized text prefix). Failures are never cached so a
// recovering service is retried on the next call.
type CachedProvider struct {
	inner Provider
	cache *lru.Cache[string, []float32]
}

// NewCachedProvider caches up to size vectors from inner. size <= 0 uses
// DefaultCacheSize.
func NewCachedProvider(inner Provider, size int) (*CachedProvider, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &CachedProvider{inner: inner, cache: cache}, nil
}

func (p *CachedProvider) Model() string { return p.inner.Model() }

func (p *CachedProvider) Embed(ctx context.Context, text string) ([]float32, bool) {
	key := p.cacheKey(text)
	if vec, ok := p.cache.Get(key); ok {
		return vec, true
	}

	vec, ok := p.inner.Embed(ctx, text)
	if !ok {
		return nil, false
	}
	p.cache.Add(key, vec)
	return vec, true
}

// Len reports the current number of cached vectors.
func (p *CachedProvider) Len() int { return p.cache.Len() }

func (p *CachedProvider) cacheKey(text string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	if len(norm) > cacheKeyPrefixLen {
		norm = norm[:cacheKeyPrefixLen]
	}
	return p.inner.Model() + "|" + norm
}
