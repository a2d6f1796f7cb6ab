package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/skeinhq/skein/pkg/domain"
)

// RedisCache is the production ContextCache backend. All operations fail
// open: redis being down degrades to a cold cache, not an outage.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisCache creates a redis-backed context cache with DefaultTTL.
func NewRedisCache(client *redis.Client, logger *slog.Logger) *RedisCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCache{client: client, ttl: DefaultTTL, logger: logger}
}

// WithTTL overrides the entry TTL.
func (c *RedisCache) WithTTL(ttl time.Duration) *RedisCache {
	c.ttl = ttl
	return c
}

func (c *RedisCache) getJSON(ctx context.Context, key string, out any) bool {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Debug("cache read failed, treating as miss", "error", err)
		}
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		c.logger.Debug("cache entry corrupt, treating as miss", "error", err)
		return false
	}
	return true
}

func (c *RedisCache) setJSON(ctx context.Context, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Debug("cache write failed", "error", err)
	}
}

func (c *RedisCache) del(ctx context.Context, key string) {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.logger.Debug("cache invalidation failed", "error", err)
	}
}

func (c *RedisCache) GetOrganization(ctx context.Context, id uuid.UUID) (*domain.Organization, bool) {
	var org domain.Organization
	if !c.getJSON(ctx, orgKey(id), &org) {
		return nil, false
	}
	return &org, true
}

func (c *RedisCache) SetOrganization(ctx context.Context, org domain.Organization) {
	c.setJSON(ctx, orgKey(org.ID), org)
}

func (c *RedisCache) InvalidateOrganization(ctx context.Context, id uuid.UUID) {
	c.del(ctx, orgKey(id))
}

func (c *RedisCache) GetUserByEmail(ctx context.Context, email string) (*domain.User, bool) {
	var user domain.User
	if !c.getJSON(ctx, userKey(email), &user) {
		return nil, false
	}
	return &user, true
}

func (c *RedisCache) SetUserByEmail(ctx context.Context, user domain.User) {
	c.setJSON(ctx, userKey(user.Email), user)
}

func (c *RedisCache) InvalidateUserByEmail(ctx context.Context, email string) {
	c.del(ctx, userKey(email))
}

func (c *RedisCache) GetAPIKeyOrgID(ctx context.Context, rawKey string) (uuid.UUID, bool) {
	raw, err := c.client.Get(ctx, apiKeyKey(rawKey)).Result()
	if err != nil {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func (c *RedisCache) SetAPIKeyOrgID(ctx context.Context, rawKey string, orgID uuid.UUID) {
	if err := c.client.Set(ctx, apiKeyKey(rawKey), orgID.String(), c.ttl).Err(); err != nil {
		c.logger.Debug("cache write failed", "error", err)
	}
}

func (c *RedisCache) InvalidateAPIKey(ctx context.Context, rawKey string) {
	c.del(ctx, apiKeyKey(rawKey))
}
