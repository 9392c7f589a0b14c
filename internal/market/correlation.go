package market

import "sync"

// CorrelationCache keeps the latest pairwise correlation per instrument pair.
// Read-only enrichment for judgment context; no graph traversal lives here.
type CorrelationCache struct {
	mu    sync.RWMutex
	pairs map[string]CorrelationUpdate
}

// NewCorrelationCache creates an empty cache.
func NewCorrelationCache() *CorrelationCache {
	return &CorrelationCache{pairs: map[string]CorrelationUpdate{}}
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// Update stores the latest correlation for a pair.
func (c *CorrelationCache) Update(u CorrelationUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pairs[pairKey(u.InstrumentA, u.InstrumentB)] = u
}

// Get returns the latest correlation for a pair, if any.
func (c *CorrelationCache) Get(a, b string) (CorrelationUpdate, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.pairs[pairKey(a, b)]
	return u, ok
}

// Len returns the number of tracked pairs.
func (c *CorrelationCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pairs)
}
