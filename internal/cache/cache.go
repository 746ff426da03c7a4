package cache

import (
	"context"
	"time"

	"distro-backend/internal/core"
)

// NoopStockCache disables caching; every listing read hits the database.
type NoopStockCache struct{}

func (NoopStockCache) GetPositions(_ context.Context) ([]core.StockPosition, bool, error) {
	return nil, false, nil
}

func (NoopStockCache) SetPositions(_ context.Context, _ []core.StockPosition, _ time.Duration) error {
	return nil
}
