package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/weiawesome/roomchat/internal/domain"
	"github.com/weiawesome/roomchat/pkg/log"
)

var errCacheMiss = errors.New("cache miss")

// CachedStore serves ListByRoom from Redis. Each room has a generation
// counter that writes bump, so a list loaded before a write is never read
// back after it. A room whose bump failed is read from the backing store
// until a later bump succeeds.
type CachedStore struct {
	next   MessageStore
	client *redis.Client
	prefix string
	ttl    time.Duration
	sf     singleflight.Group

	mu    sync.Mutex
	stale map[string]struct{}
}

func NewCachedStore(next MessageStore, client *redis.Client, prefix string, ttl time.Duration) *CachedStore {
	return &CachedStore{
		next:   next,
		client: client,
		prefix: prefix,
		ttl:    ttl,
		stale:  make(map[string]struct{}),
	}
}

func (c *CachedStore) genKey(room string) string {
	return fmt.Sprintf("%s:%s:gen", c.prefix, room)
}

func (c *CachedStore) listKey(room string, gen int64) string {
	return fmt.Sprintf("%s:%s:list:%d", c.prefix, room, gen)
}

func (c *CachedStore) Insert(ctx context.Context, msg *domain.Message) (string, error) {
	id, err := c.next.Insert(ctx, msg)
	if err != nil {
		return "", err
	}
	c.invalidate(ctx, msg.Room)
	return id, nil
}

func (c *CachedStore) ListByRoom(ctx context.Context, room string) ([]domain.Message, error) {
	if c.isStale(room) && !c.invalidate(ctx, room) {
		return c.next.ListByRoom(ctx, room)
	}

	gen, err := c.client.Get(ctx, c.genKey(room)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldRoom, room).Msg("cache generation read error")
		return c.next.ListByRoom(ctx, room)
	}

	key := c.listKey(room, gen)
	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		return c.fetchWithCache(ctx, room, key)
	})
	if err != nil {
		return nil, err
	}

	msgs, ok := result.([]domain.Message)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from singleflight")
	}
	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (c *CachedStore) fetchWithCache(ctx context.Context, room, key string) ([]domain.Message, error) {
	cached, err := c.get(ctx, key)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, errCacheMiss) {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Msg("cache get error")
	}

	msgs, err := c.next.ListByRoom(ctx, room)
	if err != nil {
		return nil, err
	}

	if err := c.set(ctx, key, msgs); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Msg("cache set error")
	}
	return msgs, nil
}

func (c *CachedStore) DeleteAll(ctx context.Context, room string) (int64, error) {
	n, err := c.next.DeleteAll(ctx, room)
	if err != nil {
		return 0, err
	}
	c.invalidate(ctx, room)
	return n, nil
}

func (c *CachedStore) DistinctRooms(ctx context.Context) ([]string, error) {
	return c.next.DistinctRooms(ctx)
}

func (c *CachedStore) Close() error {
	return c.next.Close()
}

func (c *CachedStore) get(ctx context.Context, key string) ([]domain.Message, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errCacheMiss
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var msgs []domain.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache data: %w", err)
	}
	return msgs, nil
}

func (c *CachedStore) set(ctx context.Context, key string, msgs []domain.Message) error {
	data, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("failed to marshal cache data: %w", err)
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set in redis: %w", err)
	}
	return nil
}

// invalidate bumps the room's generation and reports whether it succeeded.
func (c *CachedStore) invalidate(ctx context.Context, room string) bool {
	err := c.client.Incr(ctx, c.genKey(room)).Err()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.stale[room] = struct{}{}
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldRoom, room).Msg("cache invalidation failed, bypassing cache for room")
		return false
	}
	delete(c.stale, room)
	return true
}

func (c *CachedStore) isStale(room string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.stale[room]
	return ok
}
