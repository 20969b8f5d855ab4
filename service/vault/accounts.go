package vault

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Deriver resolves every account the vault and farms programs need for a
// logical operation. It is pure; existence probing happens separately so the
// derivation itself stays unit-testable without network access.
type Deriver struct {
	VaultProgram solana.PublicKey
	FarmsProgram solana.PublicKey
}

// VaultAccounts is the account set one vault operation (deposit, withdraw)
// touches. Produced fresh per plan; never cached beyond a single plan's
// lifetime because account existence can change between calls.
type VaultAccounts struct {
	VaultState        solana.PublicKey
	TokenVault        solana.PublicKey
	TokenMint         solana.PublicKey
	BaseAuthority     solana.PublicKey
	SharesMint        solana.PublicKey
	UserTokenAccount  solana.PublicKey
	UserSharesAccount solana.PublicKey
}

// FarmAccounts is the account set one staking operation touches.
type FarmAccounts struct {
	FarmState             solana.PublicKey
	UserFarmRecord        solana.PublicKey
	DelegatedStakeAccount solana.PublicKey
	RewardVault           solana.PublicKey
	FarmsProgram          solana.PublicKey
}

// OperationAccounts bundles everything the encoder needs for one instruction.
// Farm is nil when the vault has no staking component.
type OperationAccounts struct {
	Owner solana.PublicKey
	Vault VaultAccounts
	Farm  *FarmAccounts
}

// VaultAccounts derives the full vault account set for an owner against a
// decoded vault state.
func (d *Deriver) VaultAccounts(vaultState solana.PublicKey, state *VaultState, owner solana.PublicKey) (VaultAccounts, error) {
	baseAuthority, _, err := DeriveBaseAuthority(vaultState, d.VaultProgram)
	if err != nil {
		return VaultAccounts{}, fmt.Errorf("derive base authority: %w", err)
	}

	userToken, err := DeriveAssociatedAccount(owner, state.TokenMint)
	if err != nil {
		return VaultAccounts{}, fmt.Errorf("derive user token account: %w", err)
	}

	userShares, err := DeriveAssociatedAccount(owner, state.SharesMint)
	if err != nil {
		return VaultAccounts{}, fmt.Errorf("derive user shares account: %w", err)
	}

	return VaultAccounts{
		VaultState:        vaultState,
		TokenVault:        state.TokenVault,
		TokenMint:         state.TokenMint,
		BaseAuthority:     baseAuthority,
		SharesMint:        state.SharesMint,
		UserTokenAccount:  userToken,
		UserSharesAccount: userShares,
	}, nil
}

// FarmAccounts derives the full staking account set for an owner. Callers
// must not invoke this for a vault without a farm; check VaultState.HasFarm
// first.
func (d *Deriver) FarmAccounts(farmState, owner solana.PublicKey) (FarmAccounts, error) {
	userRecord, _, err := DeriveFarmUserRecord(farmState, owner, d.FarmsProgram)
	if err != nil {
		return FarmAccounts{}, fmt.Errorf("derive user farm record: %w", err)
	}

	delegated, _, err := DeriveDelegatedStake(farmState, owner, d.FarmsProgram)
	if err != nil {
		return FarmAccounts{}, fmt.Errorf("derive delegated stake account: %w", err)
	}

	rewardVault, _, err := DeriveRewardVault(farmState, d.FarmsProgram)
	if err != nil {
		return FarmAccounts{}, fmt.Errorf("derive reward vault: %w", err)
	}

	return FarmAccounts{
		FarmState:             farmState,
		UserFarmRecord:        userRecord,
		DelegatedStakeAccount: delegated,
		RewardVault:           rewardVault,
		FarmsProgram:          d.FarmsProgram,
	}, nil
}
