package auth

import (
	"sync"
	"time"
)

// TokenInfo is the mutable bearer-token state shared between the refresh
// task and every outbound request. All reads and writes go through the
// mutex so the three fields are always observed together.
type TokenInfo struct {
	mu          sync.RWMutex
	accessToken string
	ttlSeconds  int64
	lastRefresh time.Time
}

// Update atomically replaces the token, its TTL, and the refresh time.
func (t *TokenInfo) Update(accessToken string, ttlSeconds int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.accessToken = accessToken
	t.ttlSeconds = ttlSeconds
	t.lastRefresh = time.Now()
}

// AccessToken returns the current token, which may be empty before the
// first successful login.
func (t *TokenInfo) AccessToken() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.accessToken
}

// TTL returns the server-reported token lifetime.
func (t *TokenInfo) TTL() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return time.Duration(t.ttlSeconds) * time.Second
}

// IsValid reports whether the token is present and still inside its
// lifetime, minus a refresh window of one tenth of the TTL. A zero TTL
// never validates, which forces a login on every precheck.
func (t *TokenInfo) IsValid() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.accessToken == "" || t.ttlSeconds <= 0 {
		return false
	}
	refreshWindow := t.ttlSeconds / 10
	elapsedMs := time.Since(t.lastRefresh).Milliseconds()
	return elapsedMs < (t.ttlSeconds-refreshWindow)*1000
}
