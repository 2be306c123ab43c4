package cache

import (
	"context"
	"sort"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/mlejeune/papierflow/internal/core/domain"
)

// AnalysisCache memoizes external analysis calls keyed by content
// fingerprint plus the requested analysis kinds. Entries expire after the
// configured TTL; expired entries are purged lazily by go-cache. Failed
// computations are returned to the caller and never stored.
type AnalysisCache struct {
	store *gocache.Cache
}

func New(ttl time.Duration) *AnalysisCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &AnalysisCache{
		store: gocache.New(ttl, ttl/6),
	}
}

func (c *AnalysisCache) GetOrCompute(
	ctx context.Context,
	fingerprint string,
	kinds []domain.AnalysisKind,
	compute func(context.Context) (domain.AnalysisResult, error),
) (domain.AnalysisResult, bool, error) {
	key := cacheKey(fingerprint, kinds)

	if entry, found := c.store.Get(key); found {
		return entry.(domain.AnalysisResult), true, nil
	}

	result, err := compute(ctx)
	if err != nil {
		return domain.AnalysisResult{}, false, err
	}

	c.store.Set(key, result, gocache.DefaultExpiration)
	return result, false, nil
}

// Len reports the number of live entries, expired ones included until the
// next janitor pass.
func (c *AnalysisCache) Len() int {
	return c.store.ItemCount()
}

func cacheKey(fingerprint string, kinds []domain.AnalysisKind) string {
	names := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		names = append(names, string(kind))
	}
	sort.Strings(names)
	return fingerprint + "|" + strings.Join(names, ",")
}
