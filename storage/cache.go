package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"todo-api/domain"
)

type backend interface {
	Ping(ctx context.Context) error
	ListTodos(ctx context.Context, completed *bool) ([]domain.Todo, error)
	CreateTodo(ctx context.Context, t domain.Todo) (int64, error)
	UpdateTodo(ctx context.Context, id int64, patch domain.TodoPatch) error
	CompleteAll(ctx context.Context) (int64, error)
	DeleteTodo(ctx context.Context, id int64) error
}

const generationKey = "todos:gen"

// Cache wraps a Storage instance with Redis-backed caching of list results.
//
// Cached lists are stored under the current generation. Every successful
// mutation bumps the generation, so lists cached before the write are never
// served again.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.base.Ping(ctx)
}

func (c *Cache) ListTodos(ctx context.Context, completed *bool) ([]domain.Todo, error) {
	gen, ok := c.generation(ctx)
	if ok {
		if todos, hit := c.load(ctx, listCacheKey(gen, completed)); hit {
			return todos, nil
		}
	}

	todos, err := c.base.ListTodos(ctx, completed)
	if err != nil {
		return nil, err
	}

	if ok {
		c.store(ctx, listCacheKey(gen, completed), todos)
	}
	return todos, nil
}

func (c *Cache) CreateTodo(ctx context.Context, t domain.Todo) (int64, error) {
	id, err := c.base.CreateTodo(ctx, t)
	if err != nil {
		return 0, err
	}
	c.bump(ctx)
	return id, nil
}

func (c *Cache) UpdateTodo(ctx context.Context, id int64, patch domain.TodoPatch) error {
	if err := c.base.UpdateTodo(ctx, id, patch); err != nil {
		return err
	}
	c.bump(ctx)
	return nil
}

func (c *Cache) CompleteAll(ctx context.Context) (int64, error) {
	n, err := c.base.CompleteAll(ctx)
	if err != nil {
		return 0, err
	}
	c.bump(ctx)
	return n, nil
}

func (c *Cache) DeleteTodo(ctx context.Context, id int64) error {
	if err := c.base.DeleteTodo(ctx, id); err != nil {
		return err
	}
	c.bump(ctx)
	return nil
}

// generation returns the current cache generation. ok is false when Redis is
// unavailable and the cache must be bypassed.
func (c *Cache) generation(ctx context.Context) (int64, bool) {
	if c.redis == nil || c.ttl == 0 {
		return 0, false
	}
	gen, err := c.redis.Get(ctx, generationKey).Int64()
	if err == redis.Nil {
		return 0, true
	}
	if err != nil {
		return 0, false
	}
	return gen, true
}

func (c *Cache) load(ctx context.Context, key string) ([]domain.Todo, bool) {
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return nil, false
	}
	var todos []domain.Todo
	if err := sonic.Unmarshal(data, &todos); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return nil, false
	}
	return todos, true
}

func (c *Cache) store(ctx context.Context, key string, todos []domain.Todo) {
	data, err := sonic.Marshal(todos)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

func (c *Cache) bump(ctx context.Context) {
	if c.redis == nil {
		return
	}
	if err := c.redis.Incr(ctx, generationKey).Err(); err != nil {
		log.WithError(err).Warn("cache generation bump failed; lists may be stale until ttl")
	}
}

func listCacheKey(gen int64, completed *bool) string {
	filter := "all"
	if completed != nil {
		filter = strconv.FormatBool(*completed)
	}
	return "todos:" + strconv.FormatInt(gen, 10) + ":" + filter
}
