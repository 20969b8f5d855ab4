package vault

import (
	"context"

	"github.com/gagliardetto/solana-go"
)

// ChainReader is the read-only chain-state probe the plan builder consumes.
// The concrete implementation lives in service/solana; tests substitute a
// fixture.
type ChainReader interface {
	// AccountsExist reports, per address, whether an account is currently
	// allocated there.
	AccountsExist(ctx context.Context, addrs ...solana.PublicKey) (map[solana.PublicKey]bool, error)

	// AccountData fetches an account's raw data.
	AccountData(ctx context.Context, addr solana.PublicKey) ([]byte, error)
}

// ExistenceFacts is a read-only snapshot of the conditional accounts a plan
// depends on. It is gathered immediately before building and never persisted:
// it can be stale by the time the plan runs, and final correctness is
// enforced by the on-chain program, not by this snapshot.
type ExistenceFacts struct {
	UserTokenAccount  bool
	UserSharesAccount bool
	UserFarmRecord    bool
}

// probeFacts gathers the snapshot in a single batched read. A farmless vault
// passes the zero address for the farm record, which is reported as absent
// without being queried.
func probeFacts(ctx context.Context, chain ChainReader, vaultAccs VaultAccounts, farm *FarmAccounts) (ExistenceFacts, error) {
	addrs := []solana.PublicKey{vaultAccs.UserTokenAccount, vaultAccs.UserSharesAccount}
	if farm != nil {
		addrs = append(addrs, farm.UserFarmRecord)
	}

	exists, err := chain.AccountsExist(ctx, addrs...)
	if err != nil {
		return ExistenceFacts{}, &ProbeError{Err: err}
	}

	facts := ExistenceFacts{
		UserTokenAccount:  exists[vaultAccs.UserTokenAccount],
		UserSharesAccount: exists[vaultAccs.UserSharesAccount],
	}
	if farm != nil {
		facts.UserFarmRecord = exists[farm.UserFarmRecord]
	}
	return facts, nil
}
