// Package identity caches which GitHub account a token belongs to.
//
// Entries are keyed by a fingerprint of the token, never the token itself.
// An entry is immutable once stored; a refresh inserts a new entry.
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/mscno/ghdrive/pkg/model"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTTL is how long a resolved login is trusted.
	DefaultTTL = 5 * time.Minute

	fingerprintLen = 16
	sweepThreshold = 1024
)

// UserLookup resolves the account behind a token.
type UserLookup interface {
	AuthenticatedUser(ctx context.Context, token string) (model.Identity, error)
}

type entry struct {
	login     string
	expiresAt time.Time
}

// Cache maps token fingerprints to logins with a TTL.
type Cache struct {
	lookup UserLookup
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]entry
	group   singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

// NewCache creates a Cache. A non-positive ttl means DefaultTTL.
func NewCache(lookup UserLookup, ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		lookup:  lookup,
		ttl:     ttl,
		now:     time.Now,
		logger:  slog.Default(),
		entries: make(map[string]entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fingerprint is a short non-reversible derivative of token.
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])[:fingerprintLen]
}

// Login returns the login owning token, asking GitHub on a miss or expiry.
// Failed lookups are returned to the caller and never cached.
func (c *Cache) Login(ctx context.Context, token string) (string, error) {
	key := Fingerprint(token)
	if login, ok := c.get(key); ok {
		return login, nil
	}

	// The shared lookup must not inherit one caller's cancellation; the
	// upstream client still bounds it with its metadata timeout.
	lookupCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		// Another caller may have filled the entry while we waited.
		if login, ok := c.get(key); ok {
			return login, nil
		}
		id, err := c.lookup.AuthenticatedUser(lookupCtx, token)
		if err != nil {
			return "", err
		}
		c.put(key, id.Login)
		c.logger.Debug("identity resolved", "fingerprint", key, "login", id.Login)
		return id.Login, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Prime stores an identity that was resolved elsewhere, such as during
// the OAuth callback.
func (c *Cache) Prime(token, login string) {
	c.put(Fingerprint(token), login)
}

// Len reports the number of stored entries, including expired ones.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || !c.now().Before(e.expiresAt) {
		return "", false
	}
	return e.login, true
}

func (c *Cache) put(key, login string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= sweepThreshold {
		c.sweepLocked()
	}
	c.entries[key] = entry{login: login, expiresAt: c.now().Add(c.ttl)}
}

func (c *Cache) sweepLocked() {
	now := c.now()
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}
