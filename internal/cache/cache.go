// ABOUTME: In-memory caching of the default residual risk policy to reduce policy store lookups.
// ABOUTME: Uses TTL-based expiration so policy edits become visible without a restart.

package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jfeddern/RiskGate/internal/types"

	"github.com/sirupsen/logrus"
)

// DefaultTTL is used when no TTL is configured
const DefaultTTL = 5 * time.Minute

// PolicySource is the uncached policy lookup
type PolicySource interface {
	DefaultPolicy(ctx context.Context) (*types.PolicyConfig, error)
}

type CacheEntry struct {
	Data      *types.PolicyConfig // nil when no default policy exists
	ExpiresAt time.Time
}

// PolicyCache wraps a PolicySource and remembers its answer for the TTL.
// "No default policy" is cached as well; lookup errors are not.
type PolicyCache struct {
	source PolicySource
	entry  *CacheEntry
	mutex  sync.RWMutex
	ttl    time.Duration
	now    func() time.Time
	logger *logrus.Logger

	hits   int
	misses int
}

func NewPolicyCache(source PolicySource, ttl time.Duration, logger *logrus.Logger) *PolicyCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &PolicyCache{
		source: source,
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
	}
}

// DefaultPolicy returns the cached default policy, refreshing it from the source once expired
func (c *PolicyCache) DefaultPolicy(ctx context.Context) (*types.PolicyConfig, error) {
	if policy, ok := c.get(); ok {
		return policy, nil
	}

	policy, err := c.source.DefaultPolicy(ctx)
	if err != nil {
		return nil, err
	}

	c.set(policy)
	return clonePolicy(policy), nil
}

func (c *PolicyCache) get() (*types.PolicyConfig, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.entry == nil || c.now().After(c.entry.ExpiresAt) {
		c.misses++
		return nil, false
	}

	c.hits++
	c.logger.Debug("Policy cache hit")
	return clonePolicy(c.entry.Data), true
}

func (c *PolicyCache) set(policy *types.PolicyConfig) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entry = &CacheEntry{
		Data:      clonePolicy(policy),
		ExpiresAt: c.now().Add(c.ttl),
	}

	fields := logrus.Fields{"ttl": c.ttl}
	if policy != nil {
		fields["policy_id"] = policy.ID
	}
	c.logger.WithFields(fields).Debug("Cached default policy")
}

// Invalidate drops the cached policy so the next lookup goes to the source
func (c *PolicyCache) Invalidate() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.entry = nil
}

func (c *PolicyCache) Stats() (hits int, misses int) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.hits, c.misses
}

func clonePolicy(p *types.PolicyConfig) *types.PolicyConfig {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}
