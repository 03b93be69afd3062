package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/ariefcatur/go-order-stock/internal/logger"
	"github.com/ariefcatur/go-order-stock/internal/orders"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Cache implements orders.Cache on Redis. Reads and writes go through a
// circuit breaker; failures are logged and reported as misses.
type Cache struct {
	rdb    redis.UniversalClient
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
}

var _ orders.Cache = (*Cache)(nil)

func NewCache(rdb redis.UniversalClient, logger *zap.Logger) *Cache {
	return &Cache{
		rdb:    rdb,
		cb:     NewBreaker("redis-cache", logger),
		logger: logger,
	}
}

// statusEntry is the value stored under order_status:{id}.
type statusEntry struct {
	Status    orders.Status `json:"status"`
	UpdatedAt time.Time     `json:"updated_at"`
}

func (c *Cache) GetOrder(ctx context.Context, id int64) (orders.Order, bool) {
	var o orders.Order
	return o, c.getJSON(ctx, OrderKey(id), &o)
}

// SetOrder overwrites the entry with a committed order unless the cached copy
// carries a later status change.
func (c *Cache) SetOrder(ctx context.Context, o orders.Order) {
	key := OrderKey(o.ID)
	b, err := json.Marshal(o)
	if err != nil {
		c.warn(ctx, "cache encode failed", key, err)
		return
	}
	_, err = execute(c.cb, func() (struct{}, error) {
		return struct{}{}, c.rdb.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if err == nil {
				var cur orders.Order
				if json.Unmarshal(raw, &cur) == nil && cur.StatusChangedAt.After(o.StatusChangedAt) {
					return nil
				}
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, b, TTLOrderCache)
				return nil
			})
			return err
		}, key)
	})
	if err != nil {
		c.warn(ctx, "cache set failed", key, err)
	}
}

// FillOrder writes only if no entry exists, so a read that raced a write
// cannot replace the writer's newer copy.
func (c *Cache) FillOrder(ctx context.Context, o orders.Order) {
	c.setJSON(ctx, OrderKey(o.ID), o, TTLOrderCache, true)
}

func (c *Cache) GetProduct(ctx context.Context, id int64) (orders.Product, bool) {
	var p orders.Product
	return p, c.getJSON(ctx, ProductKey(id), &p)
}

func (c *Cache) SetProduct(ctx context.Context, p orders.Product) {
	c.setJSON(ctx, ProductKey(p.ID), p, TTLProduct, false)
}

func (c *Cache) FillProduct(ctx context.Context, p orders.Product) {
	c.setJSON(ctx, ProductKey(p.ID), p, TTLProduct, true)
}

func (c *Cache) InvalidateProduct(ctx context.Context, id int64) {
	c.del(ctx, ProductKey(id))
}

func (c *Cache) GetStatus(ctx context.Context, orderID int64) (orders.Status, bool) {
	var e statusEntry
	if !c.getJSON(ctx, OrderStatusKey(orderID), &e) || !e.Status.Valid() {
		return "", false
	}
	return e.Status, true
}

// SetStatus records s as of at, keeping the cached entry if it is newer.
func (c *Cache) SetStatus(ctx context.Context, orderID int64, s orders.Status, at time.Time) {
	if _, err := c.SetStatusIfNewer(ctx, orderID, s, at); err != nil {
		c.warn(ctx, "status cache set failed", OrderStatusKey(orderID), err)
	}
}

// SetStatusIfNewer writes the status entry unless the cached one was updated
// after at. The read and the write are one optimistic transaction.
func (c *Cache) SetStatusIfNewer(ctx context.Context, orderID int64, s orders.Status, at time.Time) (bool, error) {
	key := OrderStatusKey(orderID)
	return execute(c.cb, func() (bool, error) {
		written := false
		err := c.rdb.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if err == nil {
				var cur statusEntry
				if json.Unmarshal(raw, &cur) == nil && cur.UpdatedAt.After(at) {
					return nil
				}
			}
			b, err := json.Marshal(statusEntry{Status: s, UpdatedAt: at.UTC()})
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, b, TTLStatusCache)
				return nil
			})
			if err == nil {
				written = true
			}
			return err
		}, key)
		return written, err
	})
}

// Seen reports whether service already processed eventID.
func (c *Cache) Seen(ctx context.Context, service, eventID string) (bool, error) {
	return execute(c.cb, func() (bool, error) {
		return Exists(ctx, c.rdb, DedupKey(service, eventID))
	})
}

func (c *Cache) MarkSeen(ctx context.Context, service, eventID string) error {
	_, err := execute(c.cb, func() (struct{}, error) {
		return struct{}{}, c.rdb.Set(ctx, DedupKey(service, eventID), "1", TTLDedup).Err()
	})
	return err
}

// LookupIdempotent returns the order created earlier under key, if any.
func (c *Cache) LookupIdempotent(ctx context.Context, key string) (int64, bool) {
	id, err := execute(c.cb, func() (int64, error) {
		v, err := c.rdb.Get(ctx, IdemKey(key)).Result()
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		return strconv.ParseInt(v, 10, 64)
	})
	if err != nil {
		c.warn(ctx, "idempotency lookup failed", key, err)
		return 0, false
	}
	return id, id > 0
}

// RememberIdempotent binds key to orderID unless the key is already bound.
func (c *Cache) RememberIdempotent(ctx context.Context, key string, orderID int64) {
	_, err := execute(c.cb, func() (bool, error) {
		return c.rdb.SetNX(ctx, IdemKey(key), strconv.FormatInt(orderID, 10), TTLIdempotency).Result()
	})
	if err != nil {
		c.warn(ctx, "idempotency store failed", key, err)
	}
}

// getJSON treats a miss as success for the breaker.
func (c *Cache) getJSON(ctx context.Context, key string, out any) bool {
	raw, err := execute(c.cb, func() ([]byte, error) {
		b, err := c.rdb.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return b, err
	})
	if err != nil {
		c.warn(ctx, "cache get failed", key, err)
		return false
	}
	if raw == nil {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		c.warn(ctx, "cache entry corrupt", key, err)
		c.del(ctx, key)
		return false
	}
	return true
}

func (c *Cache) setJSON(ctx context.Context, key string, v any, ttl time.Duration, onlyIfAbsent bool) {
	b, err := json.Marshal(v)
	if err != nil {
		c.warn(ctx, "cache encode failed", key, err)
		return
	}
	args := redis.SetArgs{TTL: ttl}
	if onlyIfAbsent {
		args.Mode = "NX"
	}
	_, err = execute(c.cb, func() (struct{}, error) {
		err := c.rdb.SetArgs(ctx, key, b, args).Err()
		if errors.Is(err, redis.Nil) {
			// NX and the key exists
			return struct{}{}, nil
		}
		return struct{}{}, err
	})
	if err != nil {
		c.warn(ctx, "cache set failed", key, err)
	}
}

func (c *Cache) del(ctx context.Context, key string) {
	_, err := execute(c.cb, func() (struct{}, error) {
		return struct{}{}, c.rdb.Del(ctx, key).Err()
	})
	if err != nil {
		c.warn(ctx, "cache delete failed", key, err)
	}
}

func (c *Cache) warn(ctx context.Context, msg, key string, err error) {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		logger.Debug(ctx, c.logger, msg, zap.String("key", key), zap.Error(err))
		return
	}
	logger.Warn(ctx, c.logger, msg, zap.String("key", key), zap.Error(err))
}
