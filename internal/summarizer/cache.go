package summarizer

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/sna-ai/sna/internal/models"
)

// Cache is the process-wide summary cache, keyed by content hash. It is
// volatile; restart resets it and the database warms it back up on demand.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]models.Summary
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string]models.Summary)}
}

func (c *Cache) Get(key string) (models.Summary, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.entries[key]
	return s, ok
}

func (c *Cache) Set(key string, s models.Summary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = s
}

func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// GroupContentHash is the shared cache key for every member of a dedup
// group.
func GroupContentHash(dedupType models.DedupType, representativeTweetID string) string {
	return hashKey(string(dedupType) + ":" + representativeTweetID)
}

// StandaloneContentHash keys a tweet that belongs to no group.
func StandaloneContentHash(tweetID string) string {
	return hashKey("standalone:" + tweetID)
}

func hashKey(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
