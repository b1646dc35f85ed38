package apikeys

import (
	"sync"
	"time"

	"chatgate/internal/platform/models"
)

type cachedKey struct {
	key      models.APIKey
	cachedAt time.Time
}

// Cache holds key records by secret digest for a fixed TTL. Usability is never
// cached; callers evaluate it against the record on every request.
type Cache struct {
	store sync.Map // map[key hash]*cachedKey
	ttl   time.Duration
	now   func() time.Time
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl, now: time.Now}
}

func (c *Cache) Get(secret string) (*models.APIKey, bool) {
	hash := models.HashSecret(secret)
	val, ok := c.store.Load(hash)
	if !ok {
		return nil, false
	}

	entry := val.(*cachedKey)
	if c.now().Sub(entry.cachedAt) > c.ttl {
		c.store.Delete(hash)
		return nil, false
	}

	k := entry.key
	return &k, true
}

func (c *Cache) Set(k *models.APIKey) {
	c.store.Store(k.Hash(), &cachedKey{key: *k, cachedAt: c.now()})
}

func (c *Cache) Invalidate(secret string) {
	c.store.Delete(models.HashSecret(secret))
}

// InvalidateID drops the entry for the key with id, if any.
func (c *Cache) InvalidateID(id int64) {
	c.store.Range(func(k, v any) bool {
		if v.(*cachedKey).key.ID == id {
			c.store.Delete(k)
			return false
		}
		return true
	})
}
