package ledgertest

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/aifitworld/aifitworld-api/internal/domain/ledger"
)

// Cache is an in-process ledger.BalanceCache with the same version rules
// as the Redis one. Values never expire.
type Cache struct {
	mu       sync.Mutex
	values   map[uuid.UUID]int64
	versions map[uuid.UUID]int64
}

var _ ledger.BalanceCache = (*Cache)(nil)

func NewCache() *Cache {
	return &Cache{
		values:   make(map[uuid.UUID]int64),
		versions: make(map[uuid.UUID]int64),
	}
}

func (c *Cache) Get(_ context.Context, userID uuid.UUID) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[userID]
	return v, ok, nil
}

func (c *Cache) Version(_ context.Context, userID uuid.UUID) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.versions[userID], nil
}

func (c *Cache) SetIfVersion(_ context.Context, userID uuid.UUID, version, balance int64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.versions[userID] != version {
		return false, nil
	}
	c.values[userID] = balance
	return true, nil
}

func (c *Cache) Invalidate(_ context.Context, userID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.versions[userID]++
	delete(c.values, userID)
	return nil
}
