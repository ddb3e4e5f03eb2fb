package agent

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ashare-labs/quantd/internal/signal"
)

// resultCache is a small in-memory TTL cache for agent results.
// Entries expire lazily on read; each agent owns its own cache, so no
// cross-agent coordination is needed.
type resultCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	result    *signal.AgentResult
	expiresAt time.Time
}

func newResultCache() *resultCache {
	return &resultCache{entries: make(map[string]cacheEntry)}
}

func (c *resultCache) get(key string) (*signal.AgentResult, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}
	return entry.result, true
}

func (c *resultCache) set(key string, result *signal.AgentResult, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = cacheEntry{result: result, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
}

// cacheKey derives a deterministic key from the agent name, symbol and
// any extra parameters via a content hash.
func cacheKey(agentName, symbol string, extra map[string]string) string {
	parts := []string{agentName, symbol}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, k+"="+extra[k])
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
