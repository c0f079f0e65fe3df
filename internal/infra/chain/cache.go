package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultBalanceCacheSize bounds the number of cached (address, block) balances.
const DefaultBalanceCacheSize = 4096

type balanceKey struct {
	address string
	block   uint64
}

// CachedBalances memoizes historical balances. Balances at a mined block never
// change, so entries are never invalidated, only evicted.
type CachedBalances struct {
	reader BalanceReader
	cache  *lru.Cache[balanceKey, *big.Int]
}

// NewCachedBalances wraps reader with an LRU cache of the given size.
func NewCachedBalances(reader BalanceReader, size int) (*CachedBalances, error) {
	if size <= 0 {
		size = DefaultBalanceCacheSize
	}
	cache, err := lru.New[balanceKey, *big.Int](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create balance cache: %w", err)
	}
	return &CachedBalances{reader: reader, cache: cache}, nil
}

// BalanceAt implements BalanceReader.
func (c *CachedBalances) BalanceAt(ctx context.Context, address string, block uint64) (*big.Int, error) {
	key := balanceKey{address: strings.ToLower(address), block: block}
	if bal, ok := c.cache.Get(key); ok {
		return new(big.Int).Set(bal), nil
	}

	bal, err := c.reader.BalanceAt(ctx, address, block)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, new(big.Int).Set(bal))
	return bal, nil
}

// Len returns the number of cached balances.
func (c *CachedBalances) Len() int {
	return c.cache.Len()
}
