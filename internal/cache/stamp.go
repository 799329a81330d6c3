// Package cache keeps session stamps in redis. A stamp never changes once
// written, so a cached value can never go stale; everything else the
// resolver reads is mutable and goes straight to the store.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/mind-engage/rehabscore/internal/logger"
	"github.com/mind-engage/rehabscore/internal/resolve"
)

const keyPrefix = "rehabscore:stamp:"

// KV is the slice of a key/value store the cache needs.
type KV interface {
	Get(ctx context.Context, key string) (val string, ok bool, err error)
	Set(ctx context.Context, key, val string, ttl time.Duration) error
}

type RedisKV struct {
	rdb *goredis.Client
}

func NewRedisKV(ctx context.Context, addr string) (*RedisKV, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisKV{rdb: rdb}, nil
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.rdb.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *RedisKV) Set(ctx context.Context, key, val string, ttl time.Duration) error {
	return r.rdb.Set(ctx, key, val, ttl).Err()
}

func (r *RedisKV) Ping(ctx context.Context) error { return r.rdb.Ping(ctx).Err() }

func (r *RedisKV) Close() error { return r.rdb.Close() }

type Option func(*StampCache)

// WithTTL bounds how long a stamp stays in redis. Zero keeps it forever.
func WithTTL(d time.Duration) Option { return func(c *StampCache) { c.ttl = d } }

func WithLogger(l *logger.Logger) Option { return func(c *StampCache) { c.log = l } }

// StampCache wraps a resolve.StampStore. Concurrent misses for the same
// session share one store read.
type StampCache struct {
	next  resolve.StampStore
	kv    KV
	ttl   time.Duration
	group singleflight.Group
	log   *logger.Logger
}

var _ resolve.StampStore = (*StampCache)(nil)

func NewStampCache(next resolve.StampStore, kv KV, opts ...Option) *StampCache {
	c := &StampCache{next: next, kv: kv, ttl: 24 * time.Hour}
	for _, o := range opts {
		o(c)
	}
	if c.log == nil {
		c.log = logger.Nop()
	}
	c.log = c.log.With("service", "StampCache")
	return c
}

// SessionConfig serves a stamp from redis when present. Redis failures fall
// back to the store.
func (c *StampCache) SessionConfig(ctx context.Context, sessionID string) (*string, error) {
	key := keyPrefix + sessionID
	if v, ok, err := c.kv.Get(ctx, key); err != nil {
		c.log.Warn("stamp cache read failed", "session_id", sessionID, "err", err)
	} else if ok {
		return &v, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		id, err := c.next.SessionConfig(ctx, sessionID)
		if err != nil || id == nil {
			return id, err
		}
		c.remember(ctx, sessionID, *id)
		return id, nil
	})
	if err != nil {
		return nil, err
	}
	id, _ := v.(*string)
	if id == nil {
		return nil, nil
	}
	out := *id
	return &out, nil
}

func (c *StampCache) StampSessionConfig(ctx context.Context, sessionID, configID string) (string, error) {
	got, err := c.next.StampSessionConfig(ctx, sessionID, configID)
	if err == nil || errors.Is(err, resolve.ErrAlreadyStamped) {
		c.remember(ctx, sessionID, got)
	}
	return got, err
}

func (c *StampCache) PatientPreference(ctx context.Context, patientID string) (*string, error) {
	return c.next.PatientPreference(ctx, patientID)
}

func (c *StampCache) GlobalDefaultID(ctx context.Context, name string) (*string, error) {
	return c.next.GlobalDefaultID(ctx, name)
}

func (c *StampCache) AnyActiveID(ctx context.Context) (*string, error) {
	return c.next.AnyActiveID(ctx)
}

func (c *StampCache) remember(ctx context.Context, sessionID, configID string) {
	if configID == "" {
		return
	}
	if err := c.kv.Set(ctx, keyPrefix+sessionID, configID, c.ttl); err != nil {
		c.log.Warn("stamp cache write failed", "session_id", sessionID, "err", err)
	}
}
