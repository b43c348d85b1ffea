package account

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/anthropics/cloudcode-relay/internal/config"
)

// TokenProvider is the external collaborator the controller asks for
// per-account credentials (spec §2 item 1: "Token Provider (external)").
// OAuth device flow and refresh-token handling are out of scope for this
// repository; this interface is the seam a real implementation plugs
// into. GetToken may return a cached token; Refresh always goes upstream.
type TokenProvider interface {
	GetToken(ctx context.Context, a *Account) (string, error)
	GetProject(ctx context.Context, a *Account) (string, error)
	Refresh(ctx context.Context, a *Account) (string, error)
}

// Refresher performs the actual token acquisition for one account. A real
// deployment supplies one backed by the Google OAuth device flow; it is
// the only part of credential handling this repository does not own.
type Refresher interface {
	Refresh(ctx context.Context, a *Account) (accessToken string, err error)
}

type cachedToken struct {
	token     string
	expiresAt time.Time
}

// CachingTokenProvider is a TokenProvider that caches a Refresher's output
// in memory with a short TTL (grounded on the teacher's credentials
// cache), so a hot retry loop doesn't refresh on every attempt.
type CachingTokenProvider struct {
	refresher Refresher
	ttl       time.Duration

	mu    sync.RWMutex
	cache map[string]cachedToken
}

// NewCachingTokenProvider wraps refresher with a ttl-bounded in-memory
// cache keyed by account email.
func NewCachingTokenProvider(refresher Refresher, ttl time.Duration) *CachingTokenProvider {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachingTokenProvider{
		refresher: refresher,
		ttl:       ttl,
		cache:     make(map[string]cachedToken),
	}
}

// GetToken returns a cached token if still fresh, otherwise refreshes.
func (c *CachingTokenProvider) GetToken(ctx context.Context, a *Account) (string, error) {
	if a == nil {
		return "", fmt.Errorf("account is nil")
	}

	c.mu.RLock()
	cached, ok := c.cache[a.Email]
	c.mu.RUnlock()
	if ok && cached.expiresAt.After(time.Now()) {
		return cached.token, nil
	}

	return c.Refresh(ctx, a)
}

// Refresh bypasses the cache and asks the underlying Refresher for a
// fresh token, then caches the result.
func (c *CachingTokenProvider) Refresh(ctx context.Context, a *Account) (string, error) {
	token, err := c.refresher.Refresh(ctx, a)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.cache[a.Email] = cachedToken{token: token, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
	return token, nil
}

// GetProject returns the account's cached project id, or the default
// project when none has been discovered yet.
func (c *CachingTokenProvider) GetProject(ctx context.Context, a *Account) (string, error) {
	if a.ProjectID != "" {
		return a.ProjectID, nil
	}
	return config.DefaultProjectID, nil
}

// ClearCache drops every cached token, forcing the next GetToken call for
// any account to refresh.
func (c *CachingTokenProvider) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]cachedToken)
}

// ClearCacheForAccount drops the cached token for one account.
func (c *CachingTokenProvider) ClearCacheForAccount(email string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cache, email)
}

// StaticRefresher treats an account's CredentialHandle.Ref as the access
// token verbatim. This is what an apiKey-sourced account uses in place of
// OAuth, and what development/test setups use when no real Refresher is
// wired in.
type StaticRefresher struct{}

// Refresh returns the account's credential ref unchanged.
func (StaticRefresher) Refresh(_ context.Context, a *Account) (string, error) {
	if a.CredentialHandle.Ref == "" {
		return "", fmt.Errorf("account %s has no credential material", a.Email)
	}
	return a.CredentialHandle.Ref, nil
}
