package memory

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// OwnershipCache memoizes chat ownership checks for the websocket subscribe
// path. Entries expire quickly so revoked access is picked up within a TTL.
type OwnershipCache struct {
	cache *cache.Cache
}

func NewOwnershipCache() *OwnershipCache {
	// Short default expiration, purge sweep every minute.
	c := cache.New(5*time.Minute, 1*time.Minute)
	return &OwnershipCache{
		cache: c,
	}
}

func (r *OwnershipCache) key(chatID, userID string) string {
	return chatID + ":" + userID
}

func (r *OwnershipCache) Get(chatID, userID string) (bool, bool) {
	if x, found := r.cache.Get(r.key(chatID, userID)); found {
		return x.(bool), true
	}
	return false, false
}

func (r *OwnershipCache) Set(chatID, userID string, owned bool) {
	r.cache.Set(r.key(chatID, userID), owned, cache.DefaultExpiration)
}

func (r *OwnershipCache) Invalidate(chatID, userID string) {
	r.cache.Delete(r.key(chatID, userID))
}
