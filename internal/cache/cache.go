// Package cache provides short-lived memoization of remote query results.
//
// Entries live in a bounded LRU so memory stays flat under many accounts;
// expiry is per entry and lazy. The cache is injected into the pipeline (no
// singleton) so tests can substitute a deterministic clock.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

type entry struct {
	value      interface{}
	insertedAt time.Time
	ttl        time.Duration
}

// Cache memoizes producer results by key with a per-entry TTL. Safe for
// concurrent use. Two concurrent misses for the same key may both invoke
// their producer; the last writer wins, which is acceptable for
// idempotent fetches.
type Cache struct {
	entries *lru.Cache
	now     func() time.Time
}

// New creates a cache holding at most size entries.
func New(size int) (*Cache, error) {
	entries, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Cache{entries: entries, now: time.Now}, nil
}

// SetClock replaces the cache's notion of now. Intended for tests.
func (c *Cache) SetClock(now func() time.Time) { c.now = now }

// Get returns the unexpired value stored under key. Expired entries are
// reclaimed on lookup and reported as absent.
func (c *Cache) Get(key string) (interface{}, bool) {
	v, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	e := v.(entry)
	if c.now().Sub(e.insertedAt) >= e.ttl {
		c.entries.Remove(key)
		return nil, false
	}
	return e.value, true
}

// Add stores value under key with the given ttl, replacing any previous
// entry.
func (c *Cache) Add(key string, value interface{}, ttl time.Duration) {
	c.entries.Add(key, entry{value: value, insertedAt: c.now(), ttl: ttl})
}

// GetOrCompute returns the cached value for key, or invokes produce, stores
// its result and returns it. Producer errors are not cached.
func (c *Cache) GetOrCompute(key string, ttl time.Duration, produce func() (interface{}, error)) (interface{}, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, err := produce()
	if err != nil {
		return nil, err
	}

	c.Add(key, v, ttl)
	return v, nil
}

// Len returns the number of resident entries, expired or not.
func (c *Cache) Len() int { return c.entries.Len() }

// Key builds a deterministic digest for a request identity. The reference
// time is bucketed to its UTC day, so repeated requests within the same day
// for the same account, fuel and period share one entry.
func Key(accountNumber, fuel string, periodDays int, referenceTime time.Time) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%s", accountNumber, fuel, periodDays, referenceTime.UTC().Format("2006-01-02"))
	return hex.EncodeToString(h.Sum(nil))
}

// SubKey derives a key for a dependent fetch (tariffs, account document)
// scoped under the same day bucket as its parent request.
func SubKey(parent, suffix string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s", parent, suffix)
	return hex.EncodeToString(h.Sum(nil))
}
