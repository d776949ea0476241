package policy

import (
	"strings"
	"sync"
	"time"
)

// decisionCache remembers decisions for a short time. When full it drops the
// oldest key; an expired entry stays until it is overwritten or dropped.
type decisionCache struct {
	size int
	ttl  time.Duration
	now  func() time.Time

	mu    sync.Mutex
	items map[string]cached
	order []string
}

type cached struct {
	decision *Decision
	expires  time.Time
}

func newDecisionCache(size int, ttl time.Duration) *decisionCache {
	if size <= 0 {
		size = 1024
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &decisionCache{size: size, ttl: ttl, now: time.Now, items: make(map[string]cached, size)}
}

// cacheKey leaves Args out. Policies that read input.args need
// disable_cache.
func cacheKey(in *ToolInput) string {
	return in.ClientID + "\x00" + in.Tool + "\x00" + strings.ToLower(in.Domain)
}

func (c *decisionCache) get(in *ToolInput) (*Decision, bool) {
	key := cacheKey(in)
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(it.expires) {
		return nil, false
	}
	return it.decision, true
}

func (c *decisionCache) put(in *ToolInput, d *Decision) {
	key := cacheKey(in)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[key]; !ok {
		c.order = append(c.order, key)
	}
	c.items[key] = cached{decision: d, expires: c.now().Add(c.ttl)}

	for len(c.order) > c.size {
		delete(c.items, c.order[0])
		c.order = c.order[1:]
	}
}

func (c *decisionCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
