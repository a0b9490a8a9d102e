package session

import (
	"time"

	"nodewatch/internal/constants"
	"nodewatch/internal/types"
)

// Cache is the session credential cache consulted before every reconnect.
type Cache struct {
	store StoreInterface
	now   func() time.Time
}

func NewCache(store StoreInterface) *Cache {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Cache{store: store, now: time.Now}
}

// Get returns the wallet's unexpired session token. Expired entries are
// removed on read.
func (c *Cache) Get(wallet string) (types.SessionToken, bool) {
	if types.NormalizeWallet(wallet) == "" {
		return types.SessionToken{}, false
	}
	return c.store.Get(wallet)
}

// Store saves token for wallet. A non-positive ttl uses the default.
func (c *Cache) Store(wallet, token string, ttl time.Duration) types.SessionToken {
	if ttl <= 0 {
		ttl = constants.SessionTTL
	}
	st := types.SessionToken{
		WalletAddress: types.NormalizeWallet(wallet),
		Token:         token,
		ExpiresAt:     c.now().Add(ttl),
	}
	c.store.Save(st)
	return st
}

func (c *Cache) Clear(wallet string) {
	c.store.Delete(wallet)
}

func (c *Cache) OnExpire(fn func(wallet string)) {
	c.store.OnExpire(fn)
}

func (c *Cache) Close() error {
	return c.store.Close()
}
