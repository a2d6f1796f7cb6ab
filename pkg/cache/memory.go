package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skeinhq/skein/pkg/domain"
)

type entry struct {
	value     any
	expiresAt time.Time
}

// MemoryCache is an in-process ContextCache for single-node deployments and
// tests. Expired entries are dropped lazily on read.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	clock   func() time.Time
}

// NewMemoryCache creates an in-memory cache with DefaultTTL.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]entry),
		ttl:     DefaultTTL,
		clock:   time.Now,
	}
}

// WithTTL overrides the entry TTL.
func (c *MemoryCache) WithTTL(ttl time.Duration) *MemoryCache {
	c.ttl = ttl
	return c
}

// WithClock overrides the clock for tests.
func (c *MemoryCache) WithClock(clock func() time.Time) *MemoryCache {
	c.clock = clock
	return c
}

func (c *MemoryCache) get(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.clock().After(e.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

func (c *MemoryCache) set(key string, v any) {
	c.mu.Lock()
	c.entries[key] = entry{value: v, expiresAt: c.clock().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *MemoryCache) del(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *MemoryCache) GetOrganization(_ context.Context, id uuid.UUID) (*domain.Organization, bool) {
	v, ok := c.get(orgKey(id))
	if !ok {
		return nil, false
	}
	org := v.(domain.Organization)
	return &org, true
}

func (c *MemoryCache) SetOrganization(_ context.Context, org domain.Organization) {
	c.set(orgKey(org.ID), org)
}

func (c *MemoryCache) InvalidateOrganization(_ context.Context, id uuid.UUID) {
	c.del(orgKey(id))
}

func (c *MemoryCache) GetUserByEmail(_ context.Context, email string) (*domain.User, bool) {
	v, ok := c.get(userKey(email))
	if !ok {
		return nil, false
	}
	user := v.(domain.User)
	return &user, true
}

func (c *MemoryCache) SetUserByEmail(_ context.Context, user domain.User) {
	c.set(userKey(user.Email), user)
}

func (c *MemoryCache) InvalidateUserByEmail(_ context.Context, email string) {
	c.del(userKey(email))
}

func (c *MemoryCache) GetAPIKeyOrgID(_ context.Context, rawKey string) (uuid.UUID, bool) {
	v, ok := c.get(apiKeyKey(rawKey))
	if !ok {
		return uuid.Nil, false
	}
	return v.(uuid.UUID), true
}

func (c *MemoryCache) SetAPIKeyOrgID(_ context.Context, rawKey string, orgID uuid.UUID) {
	c.set(apiKeyKey(rawKey), orgID)
}

func (c *MemoryCache) InvalidateAPIKey(_ context.Context, rawKey string) {
	c.del(apiKeyKey(rawKey))
}
