package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowguard/flowguard/internal/ban"
	"github.com/flowguard/flowguard/internal/flowerr"
	"github.com/flowguard/flowguard/internal/flowtype"
)

// RedisConfig configures a Redis-backed store. Grounded on the teacher's
// pkg/rate.RedisLimiter / pkg/store.RedisOptions shape, adapted to
// go-redis/v9 (the pack's own go.mod already pins redis/go-redis/v9, in
// place of the teacher's older go-redis/v8).
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

func (c RedisConfig) client() *redis.Client {
	return redis.NewClient(&redis.Options{Addr: c.Addr, Password: c.Password, DB: c.DB})
}

// RedisBanStore implements internal/ban.Store over one Redis string key
// per ban target (JSON-encoded record) plus a sorted set of expiries for
// PurgeExpired. Grounded on the Lua-script, single-round-trip idiom of
// pkg/rate.RedisLimiter, simplified here to plain GET/SET/ZADD commands
// since ban records don't need the sliding-window script's atomicity.
type RedisBanStore struct {
	client *redis.Client
	prefix string
}

// NewRedisBanStore creates a RedisBanStore over an existing client.
func NewRedisBanStore(client *redis.Client, keyPrefix string) *RedisBanStore {
	return &RedisBanStore{client: client, prefix: keyPrefix}
}

// NewRedisBanStoreFromConfig dials a new client from cfg.
func NewRedisBanStoreFromConfig(cfg RedisConfig) *RedisBanStore {
	return NewRedisBanStore(cfg.client(), cfg.KeyPrefix)
}

func (s *RedisBanStore) recordKey(target flowtype.BanTarget) string {
	return s.prefix + "ban:" + target.Key()
}

const expiryIndexSuffix = "ban:expiry_index"

func (s *RedisBanStore) expiryIndexKey() string { return s.prefix + expiryIndexSuffix }

func (s *RedisBanStore) Save(ctx context.Context, record flowtype.BanRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return flowerr.New(flowerr.StorageQueryFailed, "failed to marshal ban record").
			WithComponent(flowerr.ComponentStorage).WithCause(err)
	}
	key := s.recordKey(record.Target)
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key, payload, 0)
	pipe.ZAdd(ctx, s.expiryIndexKey(), redis.Z{Score: float64(record.ExpiresAt.Unix()), Member: key})
	if _, err := pipe.Exec(ctx); err != nil {
		return flowerr.New(flowerr.StorageQueryFailed, "failed to persist ban record").
			WithComponent(flowerr.ComponentStorage).WithCause(err)
	}
	return nil
}

func (s *RedisBanStore) IsBanned(ctx context.Context, target flowtype.BanTarget) (*flowtype.BanRecord, error) {
	raw, err := s.client.Get(ctx, s.recordKey(target)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, flowerr.New(flowerr.StorageQueryFailed, "failed to read ban record").
			WithComponent(flowerr.ComponentStorage).WithCause(err)
	}
	var record flowtype.BanRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, flowerr.New(flowerr.StorageQueryFailed, "failed to unmarshal ban record").
			WithComponent(flowerr.ComponentStorage).WithCause(err)
	}
	if !record.Active(time.Now()) {
		return nil, nil
	}
	return &record, nil
}

func (s *RedisBanStore) Remove(ctx context.Context, target flowtype.BanTarget) error {
	key := s.recordKey(target)
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.ZRem(ctx, s.expiryIndexKey(), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return flowerr.New(flowerr.StorageQueryFailed, "failed to remove ban record").
			WithComponent(flowerr.ComponentStorage).WithCause(err)
	}
	return nil
}

func (s *RedisBanStore) History(ctx context.Context, target flowtype.BanTarget) (*ban.History, error) {
	raw, err := s.client.Get(ctx, s.recordKey(target)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, flowerr.New(flowerr.StorageQueryFailed, "failed to read ban history").
			WithComponent(flowerr.ComponentStorage).WithCause(err)
	}
	var record flowtype.BanRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, flowerr.New(flowerr.StorageQueryFailed, "failed to unmarshal ban record").
			WithComponent(flowerr.ComponentStorage).WithCause(err)
	}
	return &ban.History{BanTimes: record.BanTimes}, nil
}

func (s *RedisBanStore) PurgeExpired(ctx context.Context) (int, error) {
	now := float64(time.Now().Unix())
	keys, err := s.client.ZRangeByScore(ctx, s.expiryIndexKey(), &redis.ZRangeBy{Min: "-inf", Max: formatFloat(now)}).Result()
	if err != nil {
		return 0, flowerr.New(flowerr.StorageQueryFailed, "failed to scan expiry index").
			WithComponent(flowerr.ComponentStorage).WithCause(err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	pipe := s.client.TxPipeline()
	for _, k := range keys {
		pipe.Del(ctx, k)
	}
	pipe.ZRem(ctx, s.expiryIndexKey(), anySlice(keys)...)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, flowerr.New(flowerr.StorageQueryFailed, "failed to purge expired ban records").
			WithComponent(flowerr.ComponentStorage).WithCause(err)
	}
	return len(keys), nil
}

func anySlice(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 0, 64)
}

// RedisCacheStore implements internal/cache.RemoteStore over plain
// GET/SET with a Redis-native TTL, the L3 remote tier spec §4.C assumes.
type RedisCacheStore struct {
	client *redis.Client
	prefix string
}

// NewRedisCacheStore creates a RedisCacheStore over an existing client.
func NewRedisCacheStore(client *redis.Client, keyPrefix string) *RedisCacheStore {
	return &RedisCacheStore{client: client, prefix: keyPrefix}
}

// NewRedisCacheStoreFromConfig dials a new client from cfg.
func NewRedisCacheStoreFromConfig(cfg RedisConfig) *RedisCacheStore {
	return NewRedisCacheStore(cfg.client(), cfg.KeyPrefix)
}

func (s *RedisCacheStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, flowerr.New(flowerr.StorageQueryFailed, "failed to read cache value").
			WithComponent(flowerr.ComponentStorage).WithCause(err)
	}
	return v, true, nil
}

func (s *RedisCacheStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.prefix+key, value, ttl).Err(); err != nil {
		return flowerr.New(flowerr.StorageQueryFailed, "failed to write cache value").
			WithComponent(flowerr.ComponentStorage).WithCause(err)
	}
	return nil
}
