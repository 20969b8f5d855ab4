package vault

import (
	"bytes"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDerive_Deterministic(t *testing.T) {
	program := solana.MustPublicKeyFromBase58("FarmsPZpWu9i7Kky8tPN37rs2TpmMrAZrC7S7vJa91Hr")
	seeds := [][]byte{[]byte("user"), bytes.Repeat([]byte{7}, 32)}

	addr1, bump1, err := Derive(seeds, program)
	require.NoError(t, err)
	addr2, bump2, err := Derive(seeds, program)
	require.NoError(t, err)

	assert.Equal(t, addr1, addr2)
	assert.Equal(t, bump1, bump2)
	assert.False(t, addr1.IsZero())
}

func TestDerive_SeedOrderMatters(t *testing.T) {
	program := solana.MustPublicKeyFromBase58("FarmsPZpWu9i7Kky8tPN37rs2TpmMrAZrC7S7vJa91Hr")
	a := []byte("alpha")
	b := []byte("beta")

	addr1, _, err := Derive([][]byte{a, b}, program)
	require.NoError(t, err)
	addr2, _, err := Derive([][]byte{b, a}, program)
	require.NoError(t, err)

	assert.NotEqual(t, addr1, addr2)
}

func TestDerive_InvalidSeed(t *testing.T) {
	program := solana.NewWallet().PublicKey()
	tooLong := bytes.Repeat([]byte{1}, solana.MaxSeedLength+1)

	_, _, err := Derive([][]byte{tooLong}, program)
	require.ErrorIs(t, err, ErrInvalidSeed)
}

func TestDeriveAssociatedAccount_Deterministic(t *testing.T) {
	owner := solana.MustPublicKeyFromBase58("9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM")
	mint := solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")

	ata1, err := DeriveAssociatedAccount(owner, mint)
	require.NoError(t, err)
	ata2, err := DeriveAssociatedAccount(owner, mint)
	require.NoError(t, err)

	assert.Equal(t, ata1, ata2)

	// Known-good vector for the canonical ATA derivation.
	expected, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	require.NoError(t, err)
	assert.Equal(t, expected, ata1)
}

func TestDeriveFarmAddresses_DistinctPerUser(t *testing.T) {
	program := solana.MustPublicKeyFromBase58("FarmsPZpWu9i7Kky8tPN37rs2TpmMrAZrC7S7vJa91Hr")
	farm := solana.NewWallet().PublicKey()
	alice := solana.NewWallet().PublicKey()
	bob := solana.NewWallet().PublicKey()

	aliceRecord, _, err := DeriveFarmUserRecord(farm, alice, program)
	require.NoError(t, err)
	bobRecord, _, err := DeriveFarmUserRecord(farm, bob, program)
	require.NoError(t, err)
	assert.NotEqual(t, aliceRecord, bobRecord)

	aliceStake, _, err := DeriveDelegatedStake(farm, alice, program)
	require.NoError(t, err)
	assert.NotEqual(t, aliceRecord, aliceStake)

	rewardVault, _, err := DeriveRewardVault(farm, program)
	require.NoError(t, err)
	assert.False(t, rewardVault.IsZero())
}
