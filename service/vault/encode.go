package vault

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// OperationKind identifies one logical operation against the vault or farms
// program. The set is closed; encoding any other value fails with
// ErrUnknownOperation.
type OperationKind uint8

const (
	OpDepositAndStake OperationKind = iota
	OpStartUnstake
	OpUnstake
	OpWithdraw
	OpClaimFarmRewards
)

// String returns the operation name used in labels, logs, and metrics.
func (op OperationKind) String() string {
	switch op {
	case OpDepositAndStake:
		return "deposit_and_stake"
	case OpStartUnstake:
		return "start_unstake"
	case OpUnstake:
		return "unstake"
	case OpWithdraw:
		return "withdraw"
	case OpClaimFarmRewards:
		return "claim_farm_rewards"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(op))
	}
}

// Instruction discriminators published by the target programs. The first 8
// bytes of every instruction's data must match these exactly; a mismatch is
// rejected on-chain with no partial effect, so these constants are covered by
// conformance tests against literal byte vectors.
var (
	depositAndStakeDisc  = [8]byte{42, 143, 36, 40, 74, 180, 200, 42}
	startUnstakeDisc     = [8]byte{200, 243, 106, 111, 170, 72, 31, 117}
	unstakeDisc          = [8]byte{90, 95, 107, 42, 205, 124, 50, 225}
	withdrawDisc         = [8]byte{183, 18, 70, 156, 148, 109, 161, 34}
	claimFarmRewardsDisc = [8]byte{68, 200, 228, 233, 184, 32, 226, 188}
)

// Required account counts per operation. Both the count and the per-position
// signer/writable flags are ABI invariants of the target programs.
const (
	depositAndStakeAccountCount  = 13
	startUnstakeAccountCount     = 5
	unstakeAccountCount          = 6
	withdrawAccountCount         = 9
	claimFarmRewardsAccountCount = 7
)

// OperationArgs carries the typed arguments for one operation. Unused fields
// are ignored by operations that do not take them. All numeric arguments are
// packed as fixed-width little-endian integers; variable-length encodings are
// never used on this interface.
type OperationArgs struct {
	// Amount is the token amount for DepositAndStake, in base units.
	Amount uint64
	// Shares is the share quantity for StartUnstake and Withdraw.
	Shares uint64
	// WithStakeInit makes DepositAndStake initialize the user's farm record
	// before staking. Set when the record does not exist yet.
	WithStakeInit bool
}

// Encode produces the raw instruction for an operation. Encoding is pure: no
// I/O, no side effects. Errors are programming mistakes (unknown operation,
// missing accounts) and are fatal, never retried.
func (d *Deriver) Encode(op OperationKind, args OperationArgs, accounts OperationAccounts) (solana.Instruction, error) {
	switch op {
	case OpDepositAndStake:
		return d.encodeDepositAndStake(args, accounts)
	case OpStartUnstake:
		return d.encodeStartUnstake(args, accounts)
	case OpUnstake:
		return d.encodeUnstake(accounts)
	case OpWithdraw:
		return d.encodeWithdraw(args, accounts)
	case OpClaimFarmRewards:
		return d.encodeClaimFarmRewards(accounts)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownOperation, uint8(op))
	}
}

// encodeDepositAndStake builds the combined deposit-and-stake instruction.
// For a vault without a farm the four farm positions carry the zero address
// and the program skips the staking leg; the position count never changes.
func (d *Deriver) encodeDepositAndStake(args OperationArgs, accounts OperationAccounts) (solana.Instruction, error) {
	data := make([]byte, 8+8+1)
	copy(data, depositAndStakeDisc[:])
	binary.LittleEndian.PutUint64(data[8:], args.Amount)
	if args.WithStakeInit {
		data[16] = 1
	}

	var farm FarmAccounts
	if accounts.Farm != nil {
		farm = *accounts.Farm
	}

	metas := solana.AccountMetaSlice{
		solana.NewAccountMeta(accounts.Owner, true, true),
		solana.NewAccountMeta(accounts.Vault.VaultState, true, false),
		solana.NewAccountMeta(accounts.Vault.TokenVault, true, false),
		solana.NewAccountMeta(accounts.Vault.TokenMint, false, false),
		solana.NewAccountMeta(accounts.Vault.BaseAuthority, false, false),
		solana.NewAccountMeta(accounts.Vault.SharesMint, true, false),
		solana.NewAccountMeta(accounts.Vault.UserTokenAccount, true, false),
		solana.NewAccountMeta(accounts.Vault.UserSharesAccount, true, false),
		solana.NewAccountMeta(farm.FarmState, true, false),
		solana.NewAccountMeta(farm.UserFarmRecord, true, false),
		solana.NewAccountMeta(farm.DelegatedStakeAccount, true, false),
		solana.NewAccountMeta(farm.FarmsProgram, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	}
	if err := requireAccounts(OpDepositAndStake, metas, depositAndStakeAccountCount, accounts.Farm == nil, 8, 12); err != nil {
		return nil, err
	}

	return solana.NewInstruction(d.VaultProgram, metas, data), nil
}

func (d *Deriver) encodeStartUnstake(args OperationArgs, accounts OperationAccounts) (solana.Instruction, error) {
	if accounts.Farm == nil {
		return nil, fmt.Errorf("%w: start_unstake requires farm accounts", ErrAccountCountMismatch)
	}

	data := make([]byte, 8+8)
	copy(data, startUnstakeDisc[:])
	binary.LittleEndian.PutUint64(data[8:], args.Shares)

	metas := solana.AccountMetaSlice{
		solana.NewAccountMeta(accounts.Owner, true, true),
		solana.NewAccountMeta(accounts.Farm.FarmState, true, false),
		solana.NewAccountMeta(accounts.Farm.UserFarmRecord, true, false),
		solana.NewAccountMeta(accounts.Farm.DelegatedStakeAccount, true, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	}
	if err := requireAccounts(OpStartUnstake, metas, startUnstakeAccountCount, false); err != nil {
		return nil, err
	}

	return solana.NewInstruction(d.FarmsProgram, metas, data), nil
}

func (d *Deriver) encodeUnstake(accounts OperationAccounts) (solana.Instruction, error) {
	if accounts.Farm == nil {
		return nil, fmt.Errorf("%w: unstake requires farm accounts", ErrAccountCountMismatch)
	}

	data := make([]byte, 8)
	copy(data, unstakeDisc[:])

	metas := solana.AccountMetaSlice{
		solana.NewAccountMeta(accounts.Owner, true, true),
		solana.NewAccountMeta(accounts.Farm.FarmState, true, false),
		solana.NewAccountMeta(accounts.Farm.UserFarmRecord, true, false),
		solana.NewAccountMeta(accounts.Farm.DelegatedStakeAccount, true, false),
		solana.NewAccountMeta(accounts.Vault.UserSharesAccount, true, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	}
	if err := requireAccounts(OpUnstake, metas, unstakeAccountCount, false); err != nil {
		return nil, err
	}

	return solana.NewInstruction(d.FarmsProgram, metas, data), nil
}

func (d *Deriver) encodeWithdraw(args OperationArgs, accounts OperationAccounts) (solana.Instruction, error) {
	data := make([]byte, 8+8)
	copy(data, withdrawDisc[:])
	binary.LittleEndian.PutUint64(data[8:], args.Shares)

	metas := solana.AccountMetaSlice{
		solana.NewAccountMeta(accounts.Owner, true, true),
		solana.NewAccountMeta(accounts.Vault.VaultState, true, false),
		solana.NewAccountMeta(accounts.Vault.TokenVault, true, false),
		solana.NewAccountMeta(accounts.Vault.TokenMint, false, false),
		solana.NewAccountMeta(accounts.Vault.BaseAuthority, false, false),
		solana.NewAccountMeta(accounts.Vault.SharesMint, true, false),
		solana.NewAccountMeta(accounts.Vault.UserSharesAccount, true, false),
		solana.NewAccountMeta(accounts.Vault.UserTokenAccount, true, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	}
	if err := requireAccounts(OpWithdraw, metas, withdrawAccountCount, false); err != nil {
		return nil, err
	}

	return solana.NewInstruction(d.VaultProgram, metas, data), nil
}

func (d *Deriver) encodeClaimFarmRewards(accounts OperationAccounts) (solana.Instruction, error) {
	if accounts.Farm == nil {
		return nil, fmt.Errorf("%w: claim requires farm accounts", ErrAccountCountMismatch)
	}

	data := make([]byte, 8)
	copy(data, claimFarmRewardsDisc[:])

	metas := solana.AccountMetaSlice{
		solana.NewAccountMeta(accounts.Owner, true, true),
		solana.NewAccountMeta(accounts.Farm.FarmState, true, false),
		solana.NewAccountMeta(accounts.Farm.UserFarmRecord, true, false),
		solana.NewAccountMeta(accounts.Farm.RewardVault, true, false),
		solana.NewAccountMeta(accounts.Vault.UserTokenAccount, true, false),
		solana.NewAccountMeta(accounts.Vault.TokenMint, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	}
	if err := requireAccounts(OpClaimFarmRewards, metas, claimFarmRewardsAccountCount, false); err != nil {
		return nil, err
	}

	return solana.NewInstruction(d.FarmsProgram, metas, data), nil
}

// requireAccounts validates that every required position carries a real
// address. zeroOK marks an inclusive index range where the zero address is a
// legal sentinel (the farmless deposit case).
func requireAccounts(op OperationKind, metas solana.AccountMetaSlice, want int, allowZero bool, zeroOK ...int) error {
	if len(metas) != want {
		return fmt.Errorf("%w: %s requires %d accounts, got %d", ErrAccountCountMismatch, op, want, len(metas))
	}
	for i, meta := range metas {
		if !meta.PublicKey.IsZero() {
			continue
		}
		if allowZero && len(zeroOK) == 2 && i >= zeroOK[0] && i <= zeroOK[1] {
			continue
		}
		return fmt.Errorf("%w: %s account %d is unset", ErrAccountCountMismatch, op, i)
	}
	return nil
}
