package application

import (
	"strings"
	"sync"
	"time"

	"github.com/example/meeting-scheduler/internal/recurrence"
)

// ruleCache keeps recently parsed recurrence rules keyed by their stored
// text, so series operations do not re-parse the same expression on every
// call. Only successful parses are cached.
type ruleCache struct {
	mu         sync.RWMutex
	now        func() time.Time
	ttl        time.Duration
	maxEntries int
	entries    map[string]ruleCacheEntry
}

type ruleCacheEntry struct {
	rule      recurrence.Rule
	expiresAt time.Time
}

func newRuleCache(ttl time.Duration, maxEntries int, now func() time.Time) *ruleCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 256
	}
	if now == nil {
		now = time.Now
	}
	return &ruleCache{
		now:        now,
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]ruleCacheEntry),
	}
}

// Parse returns the cached rule for expression, parsing it on a miss.
func (c *ruleCache) Parse(expression string) (recurrence.Rule, error) {
	key := strings.TrimSpace(expression)
	if rule, ok := c.get(key); ok {
		return rule, nil
	}
	rule, err := recurrence.Parse(key)
	if err != nil {
		return recurrence.Rule{}, err
	}
	c.store(key, rule)
	return rule, nil
}

func (c *ruleCache) get(key string) (recurrence.Rule, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return recurrence.Rule{}, false
	}
	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return recurrence.Rule{}, false
	}
	return entry.rule, true
}

func (c *ruleCache) store(key string, rule recurrence.Rule) {
	expiry := c.now().Add(c.ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cleanupLocked()
	if len(c.entries) >= c.maxEntries {
		c.evictOneLocked()
	}
	c.entries[key] = ruleCacheEntry{rule: rule, expiresAt: expiry}
}

func (c *ruleCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *ruleCache) cleanupLocked() {
	now := c.now()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}

func (c *ruleCache) evictOneLocked() {
	for key := range c.entries {
		delete(c.entries, key)
		return
	}
}
