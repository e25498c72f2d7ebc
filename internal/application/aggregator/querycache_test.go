package aggregator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQueryCache(t *testing.T) {
	cache := newQueryCache(time.Minute)

	assert.False(t, cache.fresh("balances/BTC"))

	cache.mark("balances/BTC")
	cache.mark("balances/ETH")
	assert.True(t, cache.fresh("balances/BTC"))

	cache.flush("balances/BTC")
	assert.False(t, cache.fresh("balances/BTC"))
	assert.True(t, cache.fresh("balances/ETH"))

	cache.flushAll()
	assert.False(t, cache.fresh("balances/ETH"))
}

func TestQueryCacheExpiry(t *testing.T) {
	cache := newQueryCache(10 * time.Millisecond)

	cache.mark("balances/BTC")
	assert.True(t, cache.fresh("balances/BTC"))

	time.Sleep(20 * time.Millisecond)
	assert.False(t, cache.fresh("balances/BTC"))
}
