package answer

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// cacheKey includes the user's cache generation at the time the request
// started, so an answer computed against documents that have since changed
// is never served.
type cacheKey struct {
	userID     int64
	generation uint64
	topK       int
	question   string
}

// Cache keeps recent answers per user. Entries expire after the TTL and
// are purged whenever the user's documents change.
type Cache struct {
	lru *expirable.LRU[cacheKey, Result]

	mu          sync.Mutex
	generations map[int64]uint64
}

// NewCache returns a cache holding up to size answers for ttl.
func NewCache(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = 512
	}
	return &Cache{
		lru:         expirable.NewLRU[cacheKey, Result](size, nil, ttl),
		generations: make(map[int64]uint64),
	}
}

// key builds the lookup key for a question asked now.
func (c *Cache) key(userID int64, topK int, question string) cacheKey {
	c.mu.Lock()
	gen := c.generations[userID]
	c.mu.Unlock()
	return cacheKey{
		userID:     userID,
		generation: gen,
		topK:       topK,
		question:   strings.Join(strings.Fields(strings.ToLower(question)), " "),
	}
}

func (c *Cache) get(key cacheKey) (Result, bool) {
	res, ok := c.lru.Get(key)
	if !ok {
		return Result{}, false
	}
	res.Sources = slices.Clone(res.Sources)
	return res, true
}

// add stores res unless the user's documents changed after key was built.
func (c *Cache) add(key cacheKey, res Result) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[key.userID] != key.generation {
		return false
	}
	res.Sources = slices.Clone(res.Sources)
	c.lru.Add(key, res)
	return true
}

// PurgeUser drops every cached answer for userID. Answers still being
// computed when PurgeUser is called are not cached when they finish.
func (c *Cache) PurgeUser(userID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generations[userID]++
	for _, key := range c.lru.Keys() {
		if key.userID == userID {
			c.lru.Remove(key)
		}
	}
}

// Len returns the number of cached answers.
func (c *Cache) Len() int {
	return c.lru.Len()
}
