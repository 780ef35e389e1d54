package secrets

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ayefimenko/sharklearning-sub002/internal/observability"
)

func TestValueCache_SetGet(t *testing.T) {
	clock := newFakeClock()
	cache := newValueCache(10, clock.Now, observability.NopLogger())

	cache.set("k", "v", clock.Now().Add(time.Minute))

	value, ok := cache.get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", value)

	_, ok = cache.get("missing")
	assert.False(t, ok)
}

func TestValueCache_ExpiryOnRead(t *testing.T) {
	clock := newFakeClock()
	cache := newValueCache(10, clock.Now, observability.NopLogger())

	cache.set("k", "v", clock.Now().Add(time.Minute))
	clock.Advance(2 * time.Minute)

	_, ok := cache.get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, cache.size())
}

func TestValueCache_Sweep(t *testing.T) {
	clock := newFakeClock()
	cache := newValueCache(10, clock.Now, observability.NopLogger())

	cache.set("short", "v", clock.Now().Add(time.Minute))
	cache.set("long", "v", clock.Now().Add(time.Hour))

	clock.Advance(10 * time.Minute)

	removed := cache.sweep()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, cache.size())

	_, ok := cache.get("long")
	assert.True(t, ok)
}

func TestValueCache_LRUEviction(t *testing.T) {
	clock := newFakeClock()
	cache := newValueCache(3, clock.Now, observability.NopLogger())
	expiry := clock.Now().Add(time.Hour)

	for i := 0; i < 3; i++ {
		cache.set(fmt.Sprintf("k%d", i), "v", expiry)
	}

	// Touch k0 so k1 becomes least recently used.
	_, _ = cache.get("k0")

	cache.set("k3", "v", expiry)
	assert.Equal(t, 3, cache.size())

	_, ok := cache.get("k1")
	assert.False(t, ok)
	_, ok = cache.get("k0")
	assert.True(t, ok)
}

func TestValueCache_UpdateExisting(t *testing.T) {
	clock := newFakeClock()
	cache := newValueCache(10, clock.Now, observability.NopLogger())

	cache.set("k", "v1", clock.Now().Add(time.Minute))
	cache.set("k", "v2", clock.Now().Add(time.Hour))
	assert.Equal(t, 1, cache.size())

	clock.Advance(30 * time.Minute)
	value, ok := cache.get("k")
	assert.True(t, ok)
	assert.Equal(t, "v2", value)
}
