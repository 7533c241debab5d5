package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOwnershipCacheMissThenHit(t *testing.T) {
	c := NewOwnershipCache()

	_, hit := c.Get("chat-1", "user-1")
	assert.False(t, hit)

	c.Set("chat-1", "user-1", true)
	owned, hit := c.Get("chat-1", "user-1")
	assert.True(t, hit)
	assert.True(t, owned)
}

func TestOwnershipCacheCachesNegativeResult(t *testing.T) {
	c := NewOwnershipCache()

	c.Set("chat-1", "intruder", false)
	owned, hit := c.Get("chat-1", "intruder")
	assert.True(t, hit)
	assert.False(t, owned)
}

func TestOwnershipCacheInvalidate(t *testing.T) {
	c := NewOwnershipCache()

	c.Set("chat-1", "user-1", true)
	c.Invalidate("chat-1", "user-1")

	_, hit := c.Get("chat-1", "user-1")
	assert.False(t, hit)
}

func TestOwnershipCacheKeysAreScoped(t *testing.T) {
	c := NewOwnershipCache()

	c.Set("chat-1", "user-1", true)
	_, hit := c.Get("chat-1", "user-2")
	assert.False(t, hit)
	_, hit = c.Get("chat-2", "user-1")
	assert.False(t, hit)
}
