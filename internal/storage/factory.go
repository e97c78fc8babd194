package storage

import (
	"fmt"

	"github.com/flowguard/flowguard/internal/ban"
	"github.com/flowguard/flowguard/internal/cache"
)

// BackendType names a storage backend, mirroring the teacher's
// pkg/store.StoreType enum.
type BackendType string

const (
	BackendMemory   BackendType = "memory"
	BackendRedis    BackendType = "redis"
	BackendPostgres BackendType = "postgres"
)

// BanStoreConfig selects and configures a ban.Store backend.
type BanStoreConfig struct {
	Type     BackendType
	Redis    RedisConfig
	Postgres PostgresConfig
}

// NewBanStore builds a ban.Store per cfg.Type, mirroring the teacher's
// pkg/store.NewTokenStore switch-on-type factory.
func NewBanStore(cfg BanStoreConfig) (ban.Store, error) {
	switch cfg.Type {
	case "", BackendMemory:
		return NewMemoryBanStore(), nil
	case BackendRedis:
		return NewRedisBanStoreFromConfig(cfg.Redis), nil
	case BackendPostgres:
		return NewPostgresBanStore(cfg.Postgres)
	default:
		return nil, fmt.Errorf("storage: unknown ban store backend %q", cfg.Type)
	}
}

// CacheStoreConfig selects and configures a cache.RemoteStore backend.
type CacheStoreConfig struct {
	Type  BackendType
	Redis RedisConfig
}

// NewCacheStore builds a cache.RemoteStore per cfg.Type. Postgres is not a
// supported L3 cache backend (no SPEC_FULL.md component needs a relational
// remote cache tier; Postgres is wired for ban durability only).
func NewCacheStore(cfg CacheStoreConfig) (cache.RemoteStore, error) {
	switch cfg.Type {
	case "", BackendMemory:
		return NewMemoryCacheStore(), nil
	case BackendRedis:
		return NewRedisCacheStoreFromConfig(cfg.Redis), nil
	default:
		return nil, fmt.Errorf("storage: unknown cache store backend %q", cfg.Type)
	}
}
