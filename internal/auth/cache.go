package auth

import (
	"crypto/sha256"
	"sync"
	"time"
)

// TokenCache remembers recently verified tokens so bcrypt runs once per TTL.
// Keys are SHA-256 digests; the raw token is never stored.
type TokenCache struct {
	store sync.Map // map[[32]byte]time.Time
	ttl   time.Duration
	now   func() time.Time
}

// NewTokenCache creates a cache with the given TTL.
func NewTokenCache(ttl time.Duration) *TokenCache {
	return &TokenCache{ttl: ttl, now: time.Now}
}

// Valid reports whether token was verified within the TTL.
func (c *TokenCache) Valid(token string) bool {
	val, ok := c.store.Load(sha256.Sum256([]byte(token)))
	if !ok {
		return false
	}
	if c.now().Before(val.(time.Time)) {
		return true
	}
	c.store.Delete(sha256.Sum256([]byte(token)))
	return false
}

// Remember marks token as verified for one TTL.
func (c *TokenCache) Remember(token string) {
	c.store.Store(sha256.Sum256([]byte(token)), c.now().Add(c.ttl))
}
