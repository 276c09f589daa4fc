package licensing

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ClientBinding is the session snapshot stored per binding key: the
// last-issued token and the full context it was issued under. It is
// created or overwritten on every issue/refresh and read by the request
// validator on every subsequent call. Entries leave the cache only through
// TTL expiry.
type ClientBinding struct {
	Token           string
	EncryptedUserID string
	ServiceID       string
	ServiceVersion  string
	Checksum        string
	IssuedAt        time.Time
}

// SessionCache stores ClientBinding snapshots keyed by binding key.
type SessionCache struct {
	store *expirable.LRU[string, ClientBinding]
}

// NewSessionCache builds a TTL-bounded session store.
func NewSessionCache(maxEntries int, ttl time.Duration) *SessionCache {
	return &SessionCache{
		store: expirable.NewLRU[string, ClientBinding](maxEntries, nil, ttl),
	}
}

// Get returns the binding for key if present.
func (s *SessionCache) Get(key string) (ClientBinding, bool) {
	return s.store.Get(key)
}

// Put stores or overwrites the binding for key. Last writer wins; racing
// issue/validate calls on the same binding converge on the same entitlement
// source of truth, so the loser simply observes a protocol rejection on its
// next call.
func (s *SessionCache) Put(key string, binding ClientBinding) {
	s.store.Add(key, binding)
}

// Len returns the number of live bindings.
func (s *SessionCache) Len() int {
	return s.store.Len()
}

// Blacklist marks explicitly superseded tokens (forced refresh) as revoked
// until the longest moment they could still be considered recently valid.
// Tokens are keyed by digest so the store never holds raw token material.
type Blacklist struct {
	store *expirable.LRU[string, struct{}]
}

// NewBlacklist builds the revocation store. The TTL should be derived from
// the token TTL (roughly twice the base TTL, capped) so a revoked token
// cannot outlive the marker.
func NewBlacklist(maxEntries int, ttl time.Duration) *Blacklist {
	return &Blacklist{
		store: expirable.NewLRU[string, struct{}](maxEntries, nil, ttl),
	}
}

// Revoke marks a token as revoked. A blacklisted token is never
// resurrected, even if its claims would otherwise still be live.
func (b *Blacklist) Revoke(token string) {
	b.store.Add(tokenDigest(token), struct{}{})
}

// Contains reports whether token has been revoked.
func (b *Blacklist) Contains(token string) bool {
	_, ok := b.store.Get(tokenDigest(token))
	return ok
}

// Len returns the number of live revocation markers.
func (b *Blacklist) Len() int {
	return b.store.Len()
}

func tokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// BlacklistTTL derives the revocation-marker lifetime from the token TTL:
// twice the base TTL, capped at cap when cap is positive.
func BlacklistTTL(tokenTTL, cap time.Duration) time.Duration {
	ttl := 2 * tokenTTL
	if cap > 0 && ttl > cap {
		ttl = cap
	}
	return ttl
}
