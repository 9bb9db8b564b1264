package wecom

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Tokens expiring within this margin are treated as stale and refreshed.
const tokenSafetyMargin = 60 * time.Second

// defaultTokenTTL applies when the issuing endpoint omits expires_in.
const defaultTokenTTL = 7200

// TokenFetchFunc calls the credential-issuing endpoint and returns the fresh
// token plus its declared lifetime in seconds.
type TokenFetchFunc func(ctx context.Context, corpID, corpSecret string) (token string, expiresIn int, err error)

type tokenEntry struct {
	token     string
	expiresAt time.Time
}

// TokenCache caches access tokens per corpId:corpSecret pair. Different apps
// under one corp use different secrets and therefore different tokens, so the
// pair is the cache key. Concurrent refreshes for the same key collapse into
// a single upstream call; a failed refresh caches nothing and fails every
// waiter, so the next caller retries fresh.
type TokenCache struct {
	fetch TokenFetchFunc

	mu      sync.Mutex
	entries map[string]*tokenEntry
	group   singleflight.Group

	now func() time.Time
}

func NewTokenCache(fetch TokenFetchFunc) *TokenCache {
	return &TokenCache{
		fetch:   fetch,
		entries: make(map[string]*tokenEntry),
		now:     time.Now,
	}
}

// Token returns a valid access token for the credential pair, fetching one
// only when the cached token is missing or inside the safety margin.
func (c *TokenCache) Token(ctx context.Context, corpID, corpSecret string) (string, error) {
	key := corpID + ":" + corpSecret

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && e.expiresAt.After(c.now().Add(tokenSafetyMargin)) {
		token := e.token
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check: a refresh that finished while we queued on the group
		// already stored a fresh token.
		c.mu.Lock()
		if e, ok := c.entries[key]; ok && e.expiresAt.After(c.now().Add(tokenSafetyMargin)) {
			token := e.token
			c.mu.Unlock()
			return token, nil
		}
		c.mu.Unlock()

		token, expiresIn, err := c.fetch(ctx, corpID, corpSecret)
		if err != nil {
			return "", err
		}
		if expiresIn <= 0 {
			expiresIn = defaultTokenTTL
		}

		c.mu.Lock()
		c.entries[key] = &tokenEntry{
			token:     token,
			expiresAt: c.now().Add(time.Duration(expiresIn) * time.Second),
		}
		c.mu.Unlock()
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
