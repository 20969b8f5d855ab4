package vault

import (
	"bytes"
	"fmt"
	"math/big"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Account discriminators published by the target programs. An account whose
// first 8 bytes differ is not an instance of the expected type.
var (
	vaultStateAccountDisc    = [8]byte{228, 196, 82, 165, 98, 210, 235, 152}
	farmUserStateAccountDisc = [8]byte{252, 226, 38, 202, 135, 69, 159, 126}
)

// VaultState is the decoded on-chain state of a vault. FarmState is the zero
// address when the vault has no staking component; that is a valid
// configuration, not an error.
type VaultState struct {
	TokenMint   solana.PublicKey
	TokenVault  solana.PublicKey
	SharesMint  solana.PublicKey
	FarmState   solana.PublicKey
	BaseBump    uint8
	TotalTokens uint64
	TotalShares uint64
}

// FarmUserState is the decoded staking record of one user in one farm.
type FarmUserState struct {
	Owner             solana.PublicKey
	FarmState         solana.PublicKey
	ActiveStakeShares uint64
}

// HasFarm reports whether the vault has a staking program configured.
func (v *VaultState) HasFarm() bool {
	return !v.FarmState.IsZero()
}

// DecodeVaultState decodes a raw vault state account.
func DecodeVaultState(data []byte) (*VaultState, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("vault state account too short: %d bytes", len(data))
	}
	if !bytes.Equal(data[:8], vaultStateAccountDisc[:]) {
		return nil, fmt.Errorf("not a vault state account: discriminator mismatch")
	}

	var state VaultState
	if err := bin.NewBorshDecoder(data[8:]).Decode(&state); err != nil {
		return nil, fmt.Errorf("decode vault state: %w", err)
	}
	return &state, nil
}

// DecodeFarmUserState decodes a raw farm user record account.
func DecodeFarmUserState(data []byte) (*FarmUserState, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("farm user state account too short: %d bytes", len(data))
	}
	if !bytes.Equal(data[:8], farmUserStateAccountDisc[:]) {
		return nil, fmt.Errorf("not a farm user state account: discriminator mismatch")
	}

	var state FarmUserState
	if err := bin.NewBorshDecoder(data[8:]).Decode(&state); err != nil {
		return nil, fmt.Errorf("decode farm user state: %w", err)
	}
	return &state, nil
}

// SharesForTokens converts a desired token amount into the share quantity to
// unstake/withdraw. The conversion is pure integer arithmetic with ceiling
// division, so the user never receives less than the requested amount due to
// truncation; the fractional remainder stays in the vault. On an empty vault
// (no shares issued yet) the exchange rate is 1:1.
func (v *VaultState) SharesForTokens(amount uint64) (uint64, error) {
	if amount == 0 {
		return 0, fmt.Errorf("amount must be positive")
	}
	if v.TotalShares == 0 || v.TotalTokens == 0 {
		return amount, nil
	}

	// ceil(amount * totalShares / totalTokens), in big.Int to avoid overflow
	// on large vaults.
	num := new(big.Int).Mul(new(big.Int).SetUint64(amount), new(big.Int).SetUint64(v.TotalShares))
	den := new(big.Int).SetUint64(v.TotalTokens)
	shares, rem := new(big.Int).QuoRem(num, den, new(big.Int))
	if rem.Sign() != 0 {
		shares.Add(shares, big.NewInt(1))
	}
	if !shares.IsUint64() {
		return 0, fmt.Errorf("share quantity overflows uint64")
	}
	return shares.Uint64(), nil
}

// TokensForShares converts a share quantity into the token amount it
// currently redeems for, rounding down.
func (v *VaultState) TokensForShares(shares uint64) uint64 {
	if v.TotalShares == 0 {
		return shares
	}
	num := new(big.Int).Mul(new(big.Int).SetUint64(shares), new(big.Int).SetUint64(v.TotalTokens))
	out := new(big.Int).Quo(num, new(big.Int).SetUint64(v.TotalShares))
	if !out.IsUint64() {
		return 0
	}
	return out.Uint64()
}
