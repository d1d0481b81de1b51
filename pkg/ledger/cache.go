package ledger

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/filecoin-project/venus-statechannel/pkg/chanstate"
)

// CachedLedger caches token precision per token address. Only successful
// lookups are cached. Everything else passes through.
type CachedLedger struct {
	Ledger
	decimals *cache.Cache
}

var _ Ledger = (*CachedLedger)(nil)

// NewCachedLedger wraps l, keeping decimals for ttl.
func NewCachedLedger(l Ledger, ttl time.Duration) *CachedLedger {
	return &CachedLedger{
		Ledger:   l,
		decimals: cache.New(ttl, 2*ttl),
	}
}

// Decimals returns the cached precision of token, querying the wrapped
// ledger on a miss.
func (c *CachedLedger) Decimals(ctx context.Context, token chanstate.Address) (uint8, error) {
	key := token.Hex()
	if v, ok := c.decimals.Get(key); ok {
		return v.(uint8), nil
	}
	d, err := c.Ledger.Decimals(ctx, token)
	if err != nil {
		return 0, err
	}
	c.decimals.SetDefault(key, d)
	return d, nil
}
