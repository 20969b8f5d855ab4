package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	chainsol "github.com/brojonat/vaultflow/service/solana"
	"github.com/brojonat/vaultflow/service/vault"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCache struct {
	store  map[string][]byte
	getErr error
	setErr error
	dels   []string
}

func newMockCache() *mockCache {
	return &mockCache{store: make(map[string][]byte)}
}

func (m *mockCache) Get(ctx context.Context, key string) *redis.StringCmd {
	if m.getErr != nil {
		return redis.NewStringResult("", m.getErr)
	}
	v, ok := m.store[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(string(v), nil)
}

func (m *mockCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if m.setErr != nil {
		return redis.NewStatusResult("", m.setErr)
	}
	m.store[key] = value.([]byte)
	return redis.NewStatusResult("OK", nil)
}

func (m *mockCache) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		m.dels = append(m.dels, key)
		delete(m.store, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

type mockChain struct {
	data  map[solana.PublicKey][]byte
	calls int
}

func (m *mockChain) AccountData(ctx context.Context, addr solana.PublicKey) ([]byte, error) {
	m.calls++
	data, ok := m.data[addr]
	if !ok {
		return nil, chainsol.ErrAccountNotFound
	}
	return data, nil
}

func encodeVaultState(t *testing.T, state *vault.VaultState) []byte {
	t.Helper()
	var buf []byte
	// Account discriminator for vault state, as published.
	buf = append(buf, 228, 196, 82, 165, 98, 210, 235, 152)
	body, err := bin.MarshalBorsh(state)
	require.NoError(t, err)
	return append(buf, body...)
}

func testRegistry(t *testing.T) (*Registry, *mockCache, *mockChain, solana.PublicKey, *vault.VaultState) {
	t.Helper()
	addr := solana.NewWallet().PublicKey()
	state := &vault.VaultState{
		TokenMint:   solana.NewWallet().PublicKey(),
		TokenVault:  solana.NewWallet().PublicKey(),
		SharesMint:  solana.NewWallet().PublicKey(),
		TotalTokens: 500,
		TotalShares: 400,
	}

	cache := newMockCache()
	chain := &mockChain{data: map[solana.PublicKey][]byte{addr: encodeVaultState(t, state)}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cache, chain, time.Minute, nil, logger), cache, chain, addr, state
}

func TestVaultState_MissThenHit(t *testing.T) {
	reg, cache, chain, addr, want := testRegistry(t)
	ctx := context.Background()

	got, err := reg.VaultState(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, want.TokenMint, got.TokenMint)
	assert.Equal(t, 1, chain.calls)
	assert.Contains(t, cache.store, keyPrefix+addr.String())

	// Second lookup is served from cache.
	got, err = reg.VaultState(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, want.SharesMint, got.SharesMint)
	assert.Equal(t, 1, chain.calls, "cache hit must not touch the chain")
}

func TestVaultState_CorruptEntryEvicted(t *testing.T) {
	reg, cache, chain, addr, _ := testRegistry(t)
	ctx := context.Background()

	key := keyPrefix + addr.String()
	cache.store[key] = []byte("not a vault state")

	got, err := reg.VaultState(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, 1, chain.calls, "corrupt entry falls through to the chain")
	assert.Contains(t, cache.dels, key)
	assert.NotNil(t, got)
}

func TestVaultState_CacheFailureDegradesToChain(t *testing.T) {
	reg, cache, chain, addr, _ := testRegistry(t)
	cache.getErr = errors.New("connection refused")

	_, err := reg.VaultState(context.Background(), addr)
	require.NoError(t, err, "a down cache must not fail lookups")
	assert.Equal(t, 1, chain.calls)
}

func TestVaultState_UnknownVault(t *testing.T) {
	reg, _, _, _, _ := testRegistry(t)

	_, err := reg.VaultState(context.Background(), solana.NewWallet().PublicKey())
	require.ErrorIs(t, err, chainsol.ErrAccountNotFound)
}

func TestInvalidate(t *testing.T) {
	reg, _, chain, addr, _ := testRegistry(t)
	ctx := context.Background()

	_, err := reg.VaultState(ctx, addr)
	require.NoError(t, err)

	reg.Invalidate(ctx, addr)

	_, err = reg.VaultState(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, 2, chain.calls, "invalidation forces a chain re-read")
}
