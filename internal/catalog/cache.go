package catalog

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gamerequest/gamerequest-server/internal/domain"
)

// CacheEntry is a cached upstream response.
type CacheEntry struct {
	Entries   []domain.CatalogEntry `json:"entries"`
	FetchedAt time.Time             `json:"fetched_at"`
	TTL       time.Duration         `json:"ttl"`
}

// Fresh reports whether the entry may still be served at now.
func (e *CacheEntry) Fresh(now time.Time) bool {
	return now.Sub(e.FetchedAt) < e.TTL
}

// Cache is one tier of the catalog cache. Implementations must be safe for
// concurrent use. Writes are last-write-wins.
type Cache interface {
	Name() string
	Get(ctx context.Context, key string) (*CacheEntry, bool, error)
	Set(ctx context.Context, key string, e *CacheEntry) error
}

func searchKey(term string, limit int) string {
	return fmt.Sprintf("search:%d:%s", limit, normalizeKey(term))
}

func detailKey(id int64) string {
	return fmt.Sprintf("game:%d", id)
}

func normalizeKey(term string) string {
	return strings.Join(strings.Fields(strings.ToLower(term)), " ")
}

// MemoryCache is the in-process tier.
type MemoryCache struct {
	entries sync.Map // string -> *CacheEntry
	now     func() time.Time
}

// NewMemoryCache creates an empty memory tier.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{now: time.Now}
}

func (c *MemoryCache) Name() string { return "memory" }

// Get returns the entry for key. Expired entries are removed on read.
func (c *MemoryCache) Get(_ context.Context, key string) (*CacheEntry, bool, error) {
	v, ok := c.entries.Load(key)
	if !ok {
		return nil, false, nil
	}
	e := v.(*CacheEntry)
	if !e.Fresh(c.now()) {
		c.entries.CompareAndDelete(key, v)
		return nil, false, nil
	}
	return e, true, nil
}

// Set stores e under key.
func (c *MemoryCache) Set(_ context.Context, key string, e *CacheEntry) error {
	c.entries.Store(key, e)
	return nil
}

// Purge drops every expired entry and returns how many were removed.
func (c *MemoryCache) Purge() int {
	now := c.now()
	removed := 0
	c.entries.Range(func(k, v any) bool {
		if !v.(*CacheEntry).Fresh(now) && c.entries.CompareAndDelete(k, v) {
			removed++
		}
		return true
	})
	return removed
}

// Len counts stored entries, fresh or not.
func (c *MemoryCache) Len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
