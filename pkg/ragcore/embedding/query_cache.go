package embedding

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// CachedQueryEmbedFn wraps a query-embedding closure with an in-process
// TTL cache, so a session re-asking (or the planner re-embedding a
// rewritten query that happens to match a recent one) doesn't round-trip
// to the embedding model again. Grounded on the teacher's use of
// patrickmn/go-cache for short-lived in-memory lookups elsewhere in its
// service layer.
func CachedQueryEmbedFn(embed func(ctx context.Context, query string) ([]float32, error), ttl time.Duration) func(ctx context.Context, query string) ([]float32, error) {
	c := cache.New(ttl, 2*ttl)
	return func(ctx context.Context, query string) ([]float32, error) {
		if v, ok := c.Get(query); ok {
			return v.([]float32), nil
		}
		vec, err := embed(ctx, query)
		if err != nil {
			return nil, err
		}
		c.Set(query, vec, cache.DefaultExpiration)
		return vec, nil
	}
}
