package vault

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"testing"

	chainsol "github.com/brojonat/vaultflow/service/solana"
	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChain implements ChainReader for plan builder tests: a fixed snapshot
// of account data and existence, no network.
type fakeChain struct {
	data     map[solana.PublicKey][]byte
	exists   map[solana.PublicKey]bool
	probeErr error
}

func (f *fakeChain) AccountsExist(ctx context.Context, addrs ...solana.PublicKey) (map[solana.PublicKey]bool, error) {
	if f.probeErr != nil {
		return nil, f.probeErr
	}
	out := make(map[solana.PublicKey]bool, len(addrs))
	for _, addr := range addrs {
		out[addr] = f.exists[addr]
	}
	return out, nil
}

func (f *fakeChain) AccountData(ctx context.Context, addr solana.PublicKey) ([]byte, error) {
	if f.probeErr != nil {
		return nil, f.probeErr
	}
	data, ok := f.data[addr]
	if !ok {
		return nil, chainsol.ErrAccountNotFound
	}
	return data, nil
}

// planFixture wires a builder against a synthetic vault, with switches for
// which conditional accounts already exist.
type planFixture struct {
	builder    *Builder
	chain      *fakeChain
	deriver    *Deriver
	state      *VaultState
	vaultState solana.PublicKey
	owner      solana.PublicKey
	vaultAccs  VaultAccounts
	farm       *FarmAccounts
}

type planFixtureOpts struct {
	withFarm      bool
	sharesAccount bool
	tokenAccount  bool
	farmRecord    bool
}

func newPlanFixture(t *testing.T, opts planFixtureOpts) *planFixture {
	t.Helper()
	deriver := testDeriver()

	owner := solana.NewWallet().PublicKey()
	vaultState := solana.NewWallet().PublicKey()
	state := &VaultState{
		TokenMint:   solana.NewWallet().PublicKey(),
		TokenVault:  solana.NewWallet().PublicKey(),
		SharesMint:  solana.NewWallet().PublicKey(),
		TotalTokens: 1000,
		TotalShares: 1000,
	}
	if opts.withFarm {
		state.FarmState = solana.NewWallet().PublicKey()
	}

	vaultAccs, err := deriver.VaultAccounts(vaultState, state, owner)
	require.NoError(t, err)

	chain := &fakeChain{
		data:   map[solana.PublicKey][]byte{vaultState: encodeVaultState(t, state)},
		exists: map[solana.PublicKey]bool{},
	}
	chain.exists[vaultAccs.UserSharesAccount] = opts.sharesAccount
	chain.exists[vaultAccs.UserTokenAccount] = opts.tokenAccount

	var farm *FarmAccounts
	if opts.withFarm {
		accs, err := deriver.FarmAccounts(state.FarmState, owner)
		require.NoError(t, err)
		farm = &accs
		chain.exists[farm.UserFarmRecord] = opts.farmRecord
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &planFixture{
		builder:    NewBuilder(chain, *deriver, 1_400_000, nil, logger),
		chain:      chain,
		deriver:    deriver,
		state:      state,
		vaultState: vaultState,
		owner:      owner,
		vaultAccs:  vaultAccs,
		farm:       farm,
	}
}

func ixDisc(t *testing.T, ix solana.Instruction) []byte {
	t.Helper()
	data, err := ix.Data()
	require.NoError(t, err)
	if len(data) < 8 {
		return nil
	}
	return data[:8]
}

func assertComputeBudgetFirst(t *testing.T, step Step) {
	t.Helper()
	require.NotEmpty(t, step.Instructions)
	assert.Equal(t, computebudget.ProgramID, step.Instructions[0].ProgramID(),
		"every step starts with the compute budget instruction")
}

func isATACreate(ix solana.Instruction) bool {
	return ix.ProgramID().Equals(solana.SPLAssociatedTokenAccountProgramID)
}

func TestBuildDeposit_FreshUser(t *testing.T) {
	// Amount=10, farm record absent, shares account absent: one step with
	// [CreateSharesAccount, DepositAndStake(amount=10, withStakeInit=true)].
	f := newPlanFixture(t, planFixtureOpts{withFarm: true, tokenAccount: true})

	plan, err := f.builder.BuildDeposit(context.Background(), f.vaultState, f.owner, 10)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)

	step := plan.Steps[0]
	assertComputeBudgetFirst(t, step)
	require.Len(t, step.Instructions, 3)
	assert.True(t, isATACreate(step.Instructions[1]), "shares account setup comes before the deposit")

	deposit := step.Instructions[2]
	data, err := deposit.Data()
	require.NoError(t, err)
	assert.Equal(t, depositAndStakeDisc[:], data[:8])
	assert.Equal(t, uint64(10), binary.LittleEndian.Uint64(data[8:16]))
	assert.Equal(t, byte(1), data[16], "farm record absent forces the stake-init variant")
}

func TestBuildDeposit_AlreadySetUp(t *testing.T) {
	// Already-satisfied preconditions never get redundant setup steps.
	f := newPlanFixture(t, planFixtureOpts{
		withFarm: true, sharesAccount: true, tokenAccount: true, farmRecord: true,
	})

	plan, err := f.builder.BuildDeposit(context.Background(), f.vaultState, f.owner, 10)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)

	step := plan.Steps[0]
	assertComputeBudgetFirst(t, step)
	require.Len(t, step.Instructions, 2, "compute budget + deposit only")

	data, err := step.Instructions[1].Data()
	require.NoError(t, err)
	assert.Equal(t, depositAndStakeDisc[:], data[:8])
	assert.Equal(t, byte(0), data[16], "existing farm record skips stake-init")
}

func TestBuildDeposit_Replanning_Idempotent(t *testing.T) {
	f := newPlanFixture(t, planFixtureOpts{
		withFarm: true, sharesAccount: true, tokenAccount: true, farmRecord: true,
	})

	plan1, err := f.builder.BuildDeposit(context.Background(), f.vaultState, f.owner, 10)
	require.NoError(t, err)
	plan2, err := f.builder.BuildDeposit(context.Background(), f.vaultState, f.owner, 10)
	require.NoError(t, err)

	assert.Equal(t, plan1.Summary(), plan2.Summary())
}

func TestBuildDeposit_ZeroAmount(t *testing.T) {
	f := newPlanFixture(t, planFixtureOpts{withFarm: true})

	_, err := f.builder.BuildDeposit(context.Background(), f.vaultState, f.owner, 0)
	require.Error(t, err)
}

func TestBuildDeposit_ProbeFailure(t *testing.T) {
	f := newPlanFixture(t, planFixtureOpts{withFarm: true})
	f.chain.probeErr = errors.New("rpc unavailable")

	_, err := f.builder.BuildDeposit(context.Background(), f.vaultState, f.owner, 10)
	var probeErr *ProbeError
	require.ErrorAs(t, err, &probeErr)
}

func TestBuildDeposit_UnknownVault(t *testing.T) {
	f := newPlanFixture(t, planFixtureOpts{withFarm: true})

	_, err := f.builder.BuildDeposit(context.Background(), solana.NewWallet().PublicKey(), f.owner, 10)
	require.Error(t, err)
	var probeErr *ProbeError
	assert.False(t, errors.As(err, &probeErr), "missing vault state is a configuration error, not a transient probe failure")
}

func TestBuildWithdraw_WithFarmRecord_TwoSteps(t *testing.T) {
	f := newPlanFixture(t, planFixtureOpts{
		withFarm: true, sharesAccount: true, tokenAccount: true, farmRecord: true,
	})

	plan, err := f.builder.BuildWithdraw(context.Background(), f.vaultState, f.owner, 100)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 2, "unstake must be confirmed before withdraw")

	unstakeStep := plan.Steps[0]
	assert.Equal(t, "unstake", unstakeStep.Label)
	assertComputeBudgetFirst(t, unstakeStep)
	require.Len(t, unstakeStep.Instructions, 3)
	assert.Equal(t, startUnstakeDisc[:], ixDisc(t, unstakeStep.Instructions[1]))
	assert.Equal(t, unstakeDisc[:], ixDisc(t, unstakeStep.Instructions[2]))

	withdrawStep := plan.Steps[1]
	assert.Equal(t, "withdraw", withdrawStep.Label)
	assertComputeBudgetFirst(t, withdrawStep)
	require.Len(t, withdrawStep.Instructions, 2)
	assert.Equal(t, withdrawDisc[:], ixDisc(t, withdrawStep.Instructions[1]))
}

func TestBuildWithdraw_NoFarmRecord_SingleStep(t *testing.T) {
	f := newPlanFixture(t, planFixtureOpts{
		withFarm: true, sharesAccount: true, tokenAccount: true, farmRecord: false,
	})

	plan, err := f.builder.BuildWithdraw(context.Background(), f.vaultState, f.owner, 100)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1, "nothing staked collapses to a bare withdraw")

	step := plan.Steps[0]
	assert.Equal(t, "withdraw", step.Label)
	require.Len(t, step.Instructions, 2)
	assert.Equal(t, withdrawDisc[:], ixDisc(t, step.Instructions[1]))
}

func TestBuildWithdraw_FarmlessVault_SingleStep(t *testing.T) {
	f := newPlanFixture(t, planFixtureOpts{sharesAccount: true, tokenAccount: true})

	plan, err := f.builder.BuildWithdraw(context.Background(), f.vaultState, f.owner, 100)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
}

func TestBuildWithdraw_MissingSharesAccount_CreatedBeforeUnstake(t *testing.T) {
	f := newPlanFixture(t, planFixtureOpts{
		withFarm: true, tokenAccount: true, farmRecord: true,
	})

	plan, err := f.builder.BuildWithdraw(context.Background(), f.vaultState, f.owner, 100)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 2)

	// Unstake credits shares into the user's shares account, so creation
	// must precede it within the same atomic step.
	step := plan.Steps[0]
	require.Len(t, step.Instructions, 4)
	assert.True(t, isATACreate(step.Instructions[1]))
	assert.Equal(t, startUnstakeDisc[:], ixDisc(t, step.Instructions[2]))
}

func TestBuildWithdraw_SharesConversion(t *testing.T) {
	f := newPlanFixture(t, planFixtureOpts{
		withFarm: true, sharesAccount: true, tokenAccount: true, farmRecord: true,
	})
	// Vault state holds 1000 tokens over 1000 shares; withdrawing 100
	// tokens unstakes exactly 100 shares.
	plan, err := f.builder.BuildWithdraw(context.Background(), f.vaultState, f.owner, 100)
	require.NoError(t, err)

	data, err := plan.Steps[0].Instructions[1].Data()
	require.NoError(t, err)
	assert.Equal(t, uint64(100), binary.LittleEndian.Uint64(data[8:]))
}

func TestBuildClaim_NoFarm_EmptyPlan(t *testing.T) {
	f := newPlanFixture(t, planFixtureOpts{sharesAccount: true, tokenAccount: true})

	plan, err := f.builder.BuildClaim(context.Background(), f.vaultState, f.owner)
	require.NoError(t, err)
	assert.True(t, plan.Empty(), "no staking component means nothing to claim")
}

func TestBuildClaim_NoFarmRecord_EmptyPlan(t *testing.T) {
	f := newPlanFixture(t, planFixtureOpts{withFarm: true, sharesAccount: true, tokenAccount: true})

	plan, err := f.builder.BuildClaim(context.Background(), f.vaultState, f.owner)
	require.NoError(t, err)
	assert.True(t, plan.Empty())
}

func TestBuildClaim_SingleStep(t *testing.T) {
	f := newPlanFixture(t, planFixtureOpts{
		withFarm: true, sharesAccount: true, tokenAccount: true, farmRecord: true,
	})

	plan, err := f.builder.BuildClaim(context.Background(), f.vaultState, f.owner)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)

	step := plan.Steps[0]
	assert.Equal(t, "claim", step.Label)
	assertComputeBudgetFirst(t, step)
	require.Len(t, step.Instructions, 2)
	assert.Equal(t, claimFarmRewardsDisc[:], ixDisc(t, step.Instructions[1]))
}

func TestBuildClaim_MissingTokenAccount_Created(t *testing.T) {
	f := newPlanFixture(t, planFixtureOpts{
		withFarm: true, sharesAccount: true, farmRecord: true,
	})

	plan, err := f.builder.BuildClaim(context.Background(), f.vaultState, f.owner)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	require.Len(t, plan.Steps[0].Instructions, 3)
	assert.True(t, isATACreate(plan.Steps[0].Instructions[1]))
}

func TestPlanSummary(t *testing.T) {
	f := newPlanFixture(t, planFixtureOpts{
		withFarm: true, sharesAccount: true, tokenAccount: true, farmRecord: true,
	})

	plan, err := f.builder.BuildWithdraw(context.Background(), f.vaultState, f.owner, 100)
	require.NoError(t, err)

	summary := plan.Summary()
	assert.Equal(t, "withdraw", summary.Operation)
	require.Len(t, summary.Steps, 2)
	assert.Equal(t, "unstake", summary.Steps[0].Label)
	assert.Equal(t, "withdraw", summary.Steps[1].Label)
}
