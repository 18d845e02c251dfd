package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/robsonrrr/leads-100-sub007/models"
)

// CacheConfig describes the in-memory response cache. The cache is a
// performance optimization only: it lives in process memory and is lost
// on restart.
type CacheConfig struct {
	TTL        time.Duration
	MaxEntries int
}

// DefaultCacheConfig returns the settings used in production.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL:        5 * time.Minute,
		MaxEntries: 256,
	}
}

type cacheEntry struct {
	completion models.Completion
	insertedAt time.Time
}

// responseCache stores completions for tool-free requests, keyed by a
// hash of the serialized message list. Expiry is checked lazily on
// lookup; once the entry count exceeds the ceiling, the oldest-inserted
// entry is evicted.
type responseCache struct {
	cfg CacheConfig

	mu      sync.Mutex
	entries map[string]cacheEntry
	now     func() time.Time
}

func newResponseCache(cfg CacheConfig) *responseCache {
	return &responseCache{
		cfg:     cfg,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// cacheKey derives a deterministic key from the exact serialized message
// list, partitioned by model and caller.
func cacheKey(req models.Completion_Request) string {
	payload := struct {
		Model    string               `json:"model"`
		Caller   string               `json:"caller"`
		Messages []models.ChatMessage `json:"messages"`
	}{req.Model, req.Caller_ID, req.Messages}

	b, err := json.Marshal(payload)
	if err != nil {
		// Marshal of plain structs cannot realistically fail; an empty key
		// simply disables caching for this request.
		return ""
	}

	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// get returns a cached completion younger than the TTL. Stale entries
// are dropped on the way out.
func (c *responseCache) get(key string) (models.Completion, bool) {
	if key == "" {
		return models.Completion{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return models.Completion{}, false
	}

	if c.now().Sub(entry.insertedAt) > c.cfg.TTL {
		delete(c.entries, key)
		return models.Completion{}, false
	}

	return entry.completion, true
}

// put stores a completion, evicting the oldest insertion when full.
func (c *responseCache) put(key string, completion models.Completion) {
	if key == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.cfg.MaxEntries {
		oldestKey := ""
		var oldestAt time.Time
		for k, e := range c.entries {
			if oldestKey == "" || e.insertedAt.Before(oldestAt) {
				oldestKey = k
				oldestAt = e.insertedAt
			}
		}
		delete(c.entries, oldestKey)
	}

	c.entries[key] = cacheEntry{completion: completion, insertedAt: c.now()}
}

// size reports the current entry count.
func (c *responseCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
