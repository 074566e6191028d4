package geocache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/madscience/crmkit/internal/config"
	"github.com/redis/go-redis/v9"
)

// missTTL bounds how long a failed lookup is remembered in redis, so an
// address fixed upstream in OpenStreetMap is eventually retried.
const missTTL = 30 * 24 * time.Hour

// RedisStore shares the cache between the CRM server and map builds.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore creates a RedisStore on an existing client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, addr string) (Entry, bool, error) {
	raw, err := s.rdb.Get(ctx, config.CacheKey.GeocodeKey(addr)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("redis get geocode: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, false, fmt.Errorf("decode geocode entry: %w", err)
	}
	return e, true, nil
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, e Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	var ttl time.Duration
	if !e.Found() {
		ttl = missTTL
	}
	if err := s.rdb.Set(ctx, config.CacheKey.GeocodeKey(e.Address), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set geocode: %w", err)
	}
	return nil
}

// Flush implements Store; redis writes through.
func (s *RedisStore) Flush(context.Context) error { return nil }
