package vault

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Seed strings are part of the external programs' interfaces. They must match
// the on-chain derivation byte-for-byte and are not tunable.
var (
	baseAuthoritySeed = []byte("authority")
	farmUserSeed      = []byte("user")
	delegatedSeed     = []byte("delegated")
	rewardVaultSeed   = []byte("rewards")
)

// Derive computes the program-derived address for the given seeds. It is
// deterministic and pure; the only failure mode is a seed longer than the
// runtime's limit, reported as ErrInvalidSeed.
func Derive(seeds [][]byte, program solana.PublicKey) (solana.PublicKey, uint8, error) {
	for i, seed := range seeds {
		if len(seed) > solana.MaxSeedLength {
			return solana.PublicKey{}, 0, fmt.Errorf("%w: seed %d is %d bytes, max %d",
				ErrInvalidSeed, i, len(seed), solana.MaxSeedLength)
		}
	}
	addr, bump, err := solana.FindProgramAddress(seeds, program)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("find program address: %w", err)
	}
	return addr, bump, nil
}

// DeriveAssociatedAccount computes the canonical associated token account for
// an owner and mint. Same determinism guarantee as Derive.
func DeriveAssociatedAccount(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("find associated token address: %w", err)
	}
	return ata, nil
}

// DeriveBaseAuthority computes the vault's signing authority PDA.
func DeriveBaseAuthority(vaultState, vaultProgram solana.PublicKey) (solana.PublicKey, uint8, error) {
	return Derive([][]byte{baseAuthoritySeed, vaultState.Bytes()}, vaultProgram)
}

// DeriveFarmUserRecord computes the user's staking record PDA for a farm.
func DeriveFarmUserRecord(farmState, owner, farmsProgram solana.PublicKey) (solana.PublicKey, uint8, error) {
	return Derive([][]byte{farmUserSeed, farmState.Bytes(), owner.Bytes()}, farmsProgram)
}

// DeriveDelegatedStake computes the PDA holding the user's staked shares.
func DeriveDelegatedStake(farmState, owner, farmsProgram solana.PublicKey) (solana.PublicKey, uint8, error) {
	return Derive([][]byte{delegatedSeed, farmState.Bytes(), owner.Bytes()}, farmsProgram)
}

// DeriveRewardVault computes the farm's reward treasury PDA.
func DeriveRewardVault(farmState, farmsProgram solana.PublicKey) (solana.PublicKey, uint8, error) {
	return Derive([][]byte{rewardVaultSeed, farmState.Bytes()}, farmsProgram)
}
