package authflow

import (
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"tokenrelay/pkg/oauth"
)

// DefaultSessionTTL bounds how long an authorization attempt can wait for its callback.
const DefaultSessionTTL = 10 * time.Minute

// session is the transient state of one authorization attempt.
type session struct {
	config    oauth.ResourceConfig
	pkce      *oauth.PKCEChallenge
	createdAt time.Time
}

// sessionCache holds pending sessions keyed by state. A session can be taken once.
type sessionCache struct {
	mu    sync.Mutex
	cache *ttlcache.Cache[string, *session]
}

func newSessionCache(ttl time.Duration) *sessionCache {
	cache := ttlcache.New(ttlcache.WithTTL[string, *session](ttl))
	go cache.Start()
	return &sessionCache{cache: cache}
}

func (c *sessionCache) put(state string, s *session) {
	c.cache.Set(state, s, ttlcache.DefaultTTL)
}

// take returns and removes the session for state, or nil when it is unknown or expired.
func (c *sessionCache) take(state string) *session {
	if state == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	item := c.cache.Get(state)
	if item == nil {
		return nil
	}
	c.cache.Delete(state)
	if item.IsExpired() {
		return nil
	}
	return item.Value()
}

func (c *sessionCache) len() int {
	return c.cache.Len()
}

func (c *sessionCache) stop() {
	c.cache.Stop()
}
