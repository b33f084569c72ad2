package cache

import (
	"context"
	"time"

	"puntoventa/backend/internal/domain"
)

// ProductCache holds resolved product details keyed by product id. Every
// Invalidate bumps the id's generation; a fill read under an older generation
// is dropped, so a reader racing a writer cannot cache what the writer just
// replaced. The TTL only bounds staleness after a missed invalidation.
type ProductCache interface {
	Get(ctx context.Context, id int64) (*domain.ProductDetail, bool, error)
	// Generation must be read before loading the value later passed to Set.
	Generation(ctx context.Context, id int64) (int64, error)
	// Set stores detail only while its id is still at generation gen.
	Set(ctx context.Context, detail *domain.ProductDetail, gen int64, ttl time.Duration) error
	Invalidate(ctx context.Context, ids ...int64) error
}

type NoopProductCache struct{}

func (NoopProductCache) Get(_ context.Context, _ int64) (*domain.ProductDetail, bool, error) {
	return nil, false, nil
}

func (NoopProductCache) Generation(_ context.Context, _ int64) (int64, error) {
	return 0, nil
}

func (NoopProductCache) Set(_ context.Context, _ *domain.ProductDetail, _ int64, _ time.Duration) error {
	return nil
}

func (NoopProductCache) Invalidate(_ context.Context, _ ...int64) error {
	return nil
}
