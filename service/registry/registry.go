// Package registry caches decoded vault state in Redis. Vault configuration
// (mints, authorities, farm linkage) changes rarely, so builders read it
// through here instead of hitting the RPC node on every plan.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/vaultflow/service/metrics"
	"github.com/brojonat/vaultflow/service/vault"
	"github.com/gagliardetto/solana-go"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "vaultflow:vault:"

// Cache is the slice of the Redis API the registry uses. *redis.Client
// satisfies it.
type Cache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// ChainReader fetches raw account data on a cache miss.
type ChainReader interface {
	AccountData(ctx context.Context, addr solana.PublicKey) ([]byte, error)
}

// Registry resolves vault state with a Redis read-through cache. The cached
// value is the raw account data; decoding stays in the vault package so the
// cache never holds a stale struct layout.
type Registry struct {
	cache   Cache
	chain   ChainReader
	ttl     time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a registry. m may be nil.
func New(cache Cache, chain ChainReader, ttl time.Duration, m *metrics.Metrics, logger *slog.Logger) *Registry {
	return &Registry{
		cache:   cache,
		chain:   chain,
		ttl:     ttl,
		logger:  logger,
		metrics: m,
	}
}

// VaultState returns the decoded state of the vault, from cache when fresh.
// Cache failures degrade to a chain read rather than failing the lookup.
func (r *Registry) VaultState(ctx context.Context, addr solana.PublicKey) (*vault.VaultState, error) {
	key := keyPrefix + addr.String()

	cached, err := r.cache.Get(ctx, key).Bytes()
	if err == nil {
		state, err := vault.DecodeVaultState(cached)
		if err == nil {
			r.record("hit")
			return state, nil
		}
		// Undecodable cache entries are dropped, not served.
		r.logger.WarnContext(ctx, "evicting corrupt registry entry",
			"vault", addr.String(),
			"error", err,
		)
		r.cache.Del(ctx, key)
	} else if !errors.Is(err, redis.Nil) {
		r.logger.WarnContext(ctx, "registry cache read failed",
			"vault", addr.String(),
			"error", err,
		)
		r.record("error")
	}

	data, err := r.chain.AccountData(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("fetch vault state %s: %w", addr, err)
	}
	state, err := vault.DecodeVaultState(data)
	if err != nil {
		return nil, fmt.Errorf("decode vault state %s: %w", addr, err)
	}

	if err := r.cache.Set(ctx, key, data, r.ttl).Err(); err != nil {
		r.logger.WarnContext(ctx, "registry cache write failed",
			"vault", addr.String(),
			"error", err,
		)
	}
	r.record("miss")
	return state, nil
}

// Invalidate drops a vault's cache entry, forcing the next lookup to the
// chain.
func (r *Registry) Invalidate(ctx context.Context, addr solana.PublicKey) {
	r.cache.Del(ctx, keyPrefix+addr.String())
}

func (r *Registry) record(outcome string) {
	if r.metrics != nil {
		r.metrics.RecordRegistryLookup(outcome)
	}
}
