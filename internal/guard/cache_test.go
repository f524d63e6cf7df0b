package guard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"lovepage-backend/internal/entitlement"
)

func TestCacheInvalidateAndPurge(t *testing.T) {
	c := NewCache(16, time.Minute)
	c.Put(CreateKey("a"), entitlement.Allow(2))
	c.Put(EditKey("a", "p1"), entitlement.Allow(1).WithItem("p1"))
	c.Put(EditKey("ab", "p2"), entitlement.Allow(1).WithItem("p2"))
	c.Put(CreateKey("b"), entitlement.Allow(5))

	d, ok := c.Get(CreateKey("a"))
	assert.True(t, ok)
	assert.Equal(t, 2, d.Remaining)

	c.Invalidate(CreateKey("a"))
	_, ok = c.Get(CreateKey("a"))
	assert.False(t, ok)

	c.InvalidateAccount("a")
	_, ok = c.Get(EditKey("a", "p1"))
	assert.False(t, ok)
	_, ok = c.Get(EditKey("ab", "p2"))
	assert.True(t, ok, "prefix match must not leak into other accounts")

	c.Purge()
	assert.Zero(t, c.Len())
}

func TestCachePutIfCurrentDropsStaleWrites(t *testing.T) {
	c := NewCache(16, time.Minute)

	gen := c.Generation()
	assert.True(t, c.PutIfCurrent(CreateKey("a"), entitlement.Allow(2), gen))

	gen = c.Generation()
	c.Invalidate(CreateKey("a"))
	assert.False(t, c.PutIfCurrent(CreateKey("a"), entitlement.Allow(2), gen))
	_, ok := c.Get(CreateKey("a"))
	assert.False(t, ok)

	gen = c.Generation()
	c.Purge()
	assert.False(t, c.PutIfCurrent(CreateKey("a"), entitlement.Allow(2), gen))
}

func TestCacheEntriesExpire(t *testing.T) {
	c := NewCache(4, 20*time.Millisecond)
	c.Put(CreateKey("a"), entitlement.Allow(1))
	time.Sleep(60 * time.Millisecond)
	_, ok := c.Get(CreateKey("a"))
	assert.False(t, ok)
}

func TestCacheIsBounded(t *testing.T) {
	c := NewCache(2, time.Minute)
	c.Put("k1", entitlement.Allow(1))
	c.Put("k2", entitlement.Allow(1))
	c.Put("k3", entitlement.Allow(1))
	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("k1")
	assert.False(t, ok)
}
