package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"event-api/domain"
	"event-api/internal/consts"
)

// Cache wraps a user store with Redis-backed caching for read operations.
// Writes go to the backing store first, then bump the users generation and
// evict the affected keys. A fill only lands when the generation it read
// before querying the store is still current, so a read that raced a write
// never puts the pre-write value back.
type Cache struct {
	base  domain.UserStore
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
// A nil client or zero TTL disables caching.
func NewCache(base domain.UserStore, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

var _ domain.UserStore = (*Cache)(nil)

func (c *Cache) ListAll(ctx context.Context) ([]domain.User, error) {
	var users []domain.User
	if c.load(ctx, consts.UsersListKey, &users) {
		return users, nil
	}
	gen, ok := c.generation(ctx)
	users, err := c.base.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		c.store(ctx, gen, consts.UsersListKey, users)
	}
	return users, nil
}

func (c *Cache) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	var cached domain.User
	if c.load(ctx, userCacheKey(id), &cached) {
		return &cached, nil
	}
	gen, ok := c.generation(ctx)
	u, err := c.base.GetByID(ctx, id)
	if err != nil || u == nil {
		return u, err
	}
	if ok {
		c.store(ctx, gen, userCacheKey(id), u)
	}
	return u, nil
}

func (c *Cache) Insert(ctx context.Context, name, email string) (domain.User, error) {
	u, err := c.base.Insert(ctx, name, email)
	if err != nil {
		return u, err
	}
	c.evict(ctx, consts.UsersListKey)
	return u, nil
}

func (c *Cache) UpdateByID(ctx context.Context, id int64, name, email string) (domain.User, error) {
	u, err := c.base.UpdateByID(ctx, id, name, email)
	// evict on failure too: ErrNotFound means any cached copy is stale
	c.evict(ctx, userCacheKey(id), consts.UsersListKey)
	return u, err
}

func (c *Cache) DeleteByID(ctx context.Context, id int64) error {
	err := c.base.DeleteByID(ctx, id)
	c.evict(ctx, userCacheKey(id), consts.UsersListKey)
	return err
}

// Ping checks the backing store when it supports readiness checks.
func (c *Cache) Ping(ctx context.Context) error {
	if p, ok := c.base.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (c *Cache) load(ctx context.Context, key string, dst any) bool {
	if c.redis == nil {
		return false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return false
	}
	if err := sonic.ConfigStd.Unmarshal(data, dst); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return false
	}
	return true
}

// generation reads the current users generation. ok is false when the cache
// is disabled or Redis cannot be read, in which case nothing is stored.
func (c *Cache) generation(ctx context.Context) (string, bool) {
	if c.redis == nil || c.ttl == 0 {
		return "", false
	}
	gen, err := c.redis.Get(ctx, consts.UsersGenerationKey).Result()
	if err == redis.Nil {
		return "0", true
	}
	if err != nil {
		return "", false
	}
	return gen, true
}

// storeIfCurrent sets KEYS[2] only while KEYS[1] still holds ARGV[1].
var storeIfCurrent = redis.NewScript(`
local gen = redis.call("GET", KEYS[1]) or "0"
if gen ~= ARGV[1] then
	return 0
end
redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
return 1
`)

func (c *Cache) store(ctx context.Context, gen, key string, v any) {
	data, err := sonic.ConfigStd.Marshal(v)
	if err != nil {
		return
	}
	_ = storeIfCurrent.Run(ctx, c.redis,
		[]string{consts.UsersGenerationKey, key},
		gen, string(data), c.ttl.Milliseconds(),
	).Err()
}

// evict bumps the generation and drops keys in one transaction.
func (c *Cache) evict(ctx context.Context, keys ...string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, consts.UsersGenerationKey)
		pipe.Del(ctx, keys...)
		return nil
	})
}

func userCacheKey(id int64) string {
	return consts.UserKeyPrefix + strconv.FormatInt(id, 10)
}
