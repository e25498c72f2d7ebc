package handlers

import (
	"context"

	"github.com/chainsheet/chainsheet/internal/domain/entities"
)

// ResponseCache caches rendered API responses between requests. Handlers
// treat a nil cache as disabled.
type ResponseCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}) error
	Delete(ctx context.Context, key string) error
}

const balancesCacheKeyAll = "api:balances:all"

func balancesCacheKey(chain entities.Chain) string {
	return "api:balances:" + string(chain)
}
