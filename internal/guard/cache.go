package guard

import (
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"lovepage-backend/internal/entitlement"
)

const (
	DefaultCacheTTL  = 5 * time.Second
	DefaultCacheSize = 256
)

// Cache holds recent decisions so the UI can gate buttons without a round
// trip per render. It is advisory only; consumes always hit the channel.
//
// Every invalidation bumps a generation. A fetch records the generation
// before it starts and stores its result only if no invalidation happened
// meanwhile, so a decision read before a consume cannot outlive it.
type Cache struct {
	mu  sync.Mutex
	gen uint64
	lru *expirable.LRU[string, entitlement.Decision]
}

// NewCache constructs a bounded cache whose entries expire after ttl.
func NewCache(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{lru: expirable.NewLRU[string, entitlement.Decision](size, nil, ttl)}
}

// CreateKey keys the create decision for accountID.
func CreateKey(accountID string) string { return "create:" + accountID }

// EditKey keys the edit decision for one item.
func EditKey(accountID, itemID string) string { return "edit:" + accountID + ":" + itemID }

func (c *Cache) Get(key string) (entitlement.Decision, bool) {
	return c.lru.Get(key)
}

func (c *Cache) Put(key string, d entitlement.Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, d)
}

// Generation returns the current invalidation generation.
func (c *Cache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// PutIfCurrent stores d only when nothing was invalidated since gen was
// read. It reports whether d was stored.
func (c *Cache) PutIfCurrent(key string, d entitlement.Decision, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	c.lru.Add(key, d)
	return true
}

func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.lru.Remove(key)
}

// InvalidateAccount drops every entry belonging to accountID.
func (c *Cache) InvalidateAccount(accountID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	for _, key := range c.lru.Keys() {
		if key == CreateKey(accountID) || strings.HasPrefix(key, "edit:"+accountID+":") {
			c.lru.Remove(key)
		}
	}
}

func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.lru.Purge()
}

func (c *Cache) Len() int {
	return c.lru.Len()
}
