package status

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"repairsync/internal/domain"
)

const DefaultCacheSize = 256

// Key identifies a cached status resolution.
type Key struct {
	StatusID int64
	Locale   string
}

func (k Key) String() string { return fmt.Sprintf("%d/%s", k.StatusID, k.Locale) }

// Cache is a size-bounded LRU of resolved statuses. It is safe for
// concurrent use.
type Cache struct {
	entries *lru.Cache[Key, domain.StatusInfo]
}

func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, err := lru.New[Key, domain.StatusInfo](size)
	if err != nil {
		return nil, err
	}
	return &Cache{entries: entries}, nil
}

func (c *Cache) Get(k Key) (domain.StatusInfo, bool) {
	return c.entries.Get(k)
}

func (c *Cache) Set(k Key, info domain.StatusInfo) {
	c.entries.Add(k, info)
}

// Invalidate drops the given keys, or every entry when called without keys.
func (c *Cache) Invalidate(keys ...Key) {
	if len(keys) == 0 {
		c.entries.Purge()
		return
	}
	for _, k := range keys {
		c.entries.Remove(k)
	}
}

// InvalidateStatus drops every locale cached for statusID, including
// locales that resolved through the default-locale fallback.
func (c *Cache) InvalidateStatus(statusID int64) int {
	n := 0
	for _, k := range c.entries.Keys() {
		if k.StatusID == statusID && c.entries.Remove(k) {
			n++
		}
	}
	return n
}

func (c *Cache) Len() int { return c.entries.Len() }
