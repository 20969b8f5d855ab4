package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/vaultflow/service/metrics"
	chainsol "github.com/brojonat/vaultflow/service/solana"
	"github.com/gagliardetto/solana-go"
	ata "github.com/gagliardetto/solana-go/programs/associated-token-account"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
)

// Step is one transaction in a plan: an ordered instruction list executed
// atomically. The first instruction is always the compute-budget limit.
type Step struct {
	Label        string
	Instructions []solana.Instruction
	ComputeUnits uint32
}

// Plan is an ordered list of steps. Steps execute strictly in order; a later
// step may assume the on-chain effects of all earlier steps have been
// confirmed. A plan with zero steps is a valid no-op and is never submitted.
type Plan struct {
	Operation OperationKind
	Owner     solana.PublicKey
	Steps     []Step
}

// Empty reports whether the plan has nothing to submit.
func (p *Plan) Empty() bool {
	return len(p.Steps) == 0
}

// StepSummary and PlanSummary are the serializable projections used by the
// CLI's plan inspection output.
type StepSummary struct {
	Label        string   `json:"label"`
	Instructions int      `json:"instructions"`
	Programs     []string `json:"programs"`
}

type PlanSummary struct {
	Operation string        `json:"operation"`
	Owner     string        `json:"owner"`
	Steps     []StepSummary `json:"steps"`
}

// Summary returns a serializable description of the plan.
func (p *Plan) Summary() PlanSummary {
	out := PlanSummary{
		Operation: p.Operation.String(),
		Owner:     p.Owner.String(),
		Steps:     []StepSummary{},
	}
	for _, step := range p.Steps {
		s := StepSummary{Label: step.Label, Instructions: len(step.Instructions)}
		for _, ix := range step.Instructions {
			s.Programs = append(s.Programs, ix.ProgramID().String())
		}
		out.Steps = append(out.Steps, s)
	}
	return out
}

// Builder turns user intent plus a fresh existence snapshot into a
// transaction plan. It owns the derived account set and the snapshot for the
// duration of one call and discards both afterwards.
type Builder struct {
	chain        ChainReader
	deriver      Deriver
	computeUnits uint32
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

// NewBuilder creates a plan builder. If m is nil, no metrics will be recorded.
func NewBuilder(chain ChainReader, deriver Deriver, computeUnits uint32, m *metrics.Metrics, logger *slog.Logger) *Builder {
	return &Builder{
		chain:        chain,
		deriver:      deriver,
		computeUnits: computeUnits,
		logger:       logger,
		metrics:      m,
	}
}

// BuildDeposit plans a deposit of amount base units into the vault, staking
// the resulting shares when the vault has a farm. Setup instructions (create
// shares account, create wrapped-SOL account, initialize farm record) are
// emitted only when the corresponding account is missing; already-satisfied
// preconditions never get redundant setup steps.
func (b *Builder) BuildDeposit(ctx context.Context, vaultState, owner solana.PublicKey, amount uint64) (*Plan, error) {
	start := time.Now()
	plan, err := b.buildDeposit(ctx, vaultState, owner, amount)
	b.recordBuild(OpDepositAndStake, start, plan, err)
	return plan, err
}

func (b *Builder) buildDeposit(ctx context.Context, vaultState, owner solana.PublicKey, amount uint64) (*Plan, error) {
	if amount == 0 {
		return nil, fmt.Errorf("deposit amount must be positive")
	}

	state, vaultAccs, farm, err := b.resolve(ctx, vaultState, owner)
	if err != nil {
		return nil, err
	}

	facts, err := probeFacts(ctx, b.chain, vaultAccs, farm)
	if err != nil {
		return nil, err
	}

	var instrs []solana.Instruction
	if !facts.UserSharesAccount {
		instrs = append(instrs, ata.NewCreateInstruction(owner, owner, state.SharesMint).Build())
	}
	if state.TokenMint.Equals(solana.WrappedSol) && !facts.UserTokenAccount {
		instrs = append(instrs, ata.NewCreateInstruction(owner, owner, solana.WrappedSol).Build())
	}

	accounts := OperationAccounts{Owner: owner, Vault: vaultAccs, Farm: farm}
	deposit, err := b.deriver.Encode(OpDepositAndStake, OperationArgs{
		Amount:        amount,
		WithStakeInit: farm != nil && !facts.UserFarmRecord,
	}, accounts)
	if err != nil {
		return nil, err
	}
	instrs = append(instrs, deposit)

	b.logger.DebugContext(ctx, "built deposit plan",
		"vault", vaultState.String(),
		"owner", owner.String(),
		"amount", amount,
		"create_shares_account", !facts.UserSharesAccount,
		"with_stake_init", farm != nil && !facts.UserFarmRecord,
	)

	return &Plan{
		Operation: OpDepositAndStake,
		Owner:     owner,
		Steps:     []Step{b.step("deposit", instrs)},
	}, nil
}

// BuildWithdraw plans the removal of the share quantity backing amount base
// units. When the user has a farm record the plan is exactly two steps,
// [StartUnstake, Unstake] then [Withdraw], because the withdraw instruction
// reads the shares Unstake credits back, and the target program does not
// guarantee that effect within the same transaction boundary. Without a farm
// record the plan collapses to a single withdraw step.
func (b *Builder) BuildWithdraw(ctx context.Context, vaultState, owner solana.PublicKey, amount uint64) (*Plan, error) {
	start := time.Now()
	plan, err := b.buildWithdraw(ctx, vaultState, owner, amount)
	b.recordBuild(OpWithdraw, start, plan, err)
	return plan, err
}

func (b *Builder) buildWithdraw(ctx context.Context, vaultState, owner solana.PublicKey, amount uint64) (*Plan, error) {
	state, vaultAccs, farm, err := b.resolve(ctx, vaultState, owner)
	if err != nil {
		return nil, err
	}

	shares, err := state.SharesForTokens(amount)
	if err != nil {
		return nil, fmt.Errorf("convert withdraw amount: %w", err)
	}

	facts, err := probeFacts(ctx, b.chain, vaultAccs, farm)
	if err != nil {
		return nil, err
	}

	accounts := OperationAccounts{Owner: owner, Vault: vaultAccs, Farm: farm}
	args := OperationArgs{Shares: shares}

	withdraw, err := b.deriver.Encode(OpWithdraw, args, accounts)
	if err != nil {
		return nil, err
	}

	plan := &Plan{Operation: OpWithdraw, Owner: owner}

	// Nothing staked: nothing to unstake, go straight to withdraw.
	if farm == nil || !facts.UserFarmRecord {
		plan.Steps = []Step{b.step("withdraw", []solana.Instruction{withdraw})}
		b.logger.DebugContext(ctx, "built withdraw plan",
			"vault", vaultState.String(),
			"owner", owner.String(),
			"shares", shares,
			"steps", 1,
		)
		return plan, nil
	}

	startUnstake, err := b.deriver.Encode(OpStartUnstake, args, accounts)
	if err != nil {
		return nil, err
	}
	unstake, err := b.deriver.Encode(OpUnstake, args, accounts)
	if err != nil {
		return nil, err
	}

	// Unstake credits shares back into the user's shares account, so that
	// account must exist before the unstake instruction runs.
	var unstakeInstrs []solana.Instruction
	if !facts.UserSharesAccount {
		unstakeInstrs = append(unstakeInstrs, ata.NewCreateInstruction(owner, owner, state.SharesMint).Build())
	}
	unstakeInstrs = append(unstakeInstrs, startUnstake, unstake)

	plan.Steps = []Step{
		b.step("unstake", unstakeInstrs),
		b.step("withdraw", []solana.Instruction{withdraw}),
	}

	b.logger.DebugContext(ctx, "built withdraw plan",
		"vault", vaultState.String(),
		"owner", owner.String(),
		"shares", shares,
		"steps", 2,
	)
	return plan, nil
}

// BuildClaim plans a rewards claim. When the vault has no farm, or the user
// has no farm record yet, there is nothing to claim and the returned plan is
// empty: a valid outcome, not an error.
func (b *Builder) BuildClaim(ctx context.Context, vaultState, owner solana.PublicKey) (*Plan, error) {
	start := time.Now()
	plan, err := b.buildClaim(ctx, vaultState, owner)
	b.recordBuild(OpClaimFarmRewards, start, plan, err)
	return plan, err
}

func (b *Builder) buildClaim(ctx context.Context, vaultState, owner solana.PublicKey) (*Plan, error) {
	state, vaultAccs, farm, err := b.resolve(ctx, vaultState, owner)
	if err != nil {
		return nil, err
	}

	plan := &Plan{Operation: OpClaimFarmRewards, Owner: owner}
	if farm == nil {
		b.logger.DebugContext(ctx, "vault has no farm, nothing to claim",
			"vault", vaultState.String(),
		)
		return plan, nil
	}

	facts, err := probeFacts(ctx, b.chain, vaultAccs, farm)
	if err != nil {
		return nil, err
	}
	if !facts.UserFarmRecord {
		b.logger.DebugContext(ctx, "no farm record, nothing to claim",
			"vault", vaultState.String(),
			"owner", owner.String(),
		)
		return plan, nil
	}

	var instrs []solana.Instruction
	// Rewards pay out into the user's token account.
	if !facts.UserTokenAccount {
		instrs = append(instrs, ata.NewCreateInstruction(owner, owner, state.TokenMint).Build())
	}

	claim, err := b.deriver.Encode(OpClaimFarmRewards, OperationArgs{}, OperationAccounts{
		Owner: owner,
		Vault: vaultAccs,
		Farm:  farm,
	})
	if err != nil {
		return nil, err
	}
	instrs = append(instrs, claim)

	plan.Steps = []Step{b.step("claim", instrs)}
	return plan, nil
}

// resolve loads and decodes the vault state, then derives the full account
// sets for the operation. Farm is nil when the vault has no staking program.
func (b *Builder) resolve(ctx context.Context, vaultState, owner solana.PublicKey) (*VaultState, VaultAccounts, *FarmAccounts, error) {
	data, err := b.chain.AccountData(ctx, vaultState)
	if err != nil {
		if errors.Is(err, chainsol.ErrAccountNotFound) {
			// A missing vault state is a configuration error, not a
			// transient probe failure.
			return nil, VaultAccounts{}, nil, fmt.Errorf("vault state %s not found", vaultState)
		}
		return nil, VaultAccounts{}, nil, &ProbeError{Err: err}
	}

	state, err := DecodeVaultState(data)
	if err != nil {
		return nil, VaultAccounts{}, nil, err
	}

	vaultAccs, err := b.deriver.VaultAccounts(vaultState, state, owner)
	if err != nil {
		return nil, VaultAccounts{}, nil, err
	}

	var farm *FarmAccounts
	if state.HasFarm() {
		accs, err := b.deriver.FarmAccounts(state.FarmState, owner)
		if err != nil {
			return nil, VaultAccounts{}, nil, err
		}
		farm = &accs
	}

	return state, vaultAccs, farm, nil
}

// step assembles one transaction step, prepending the compute-budget
// instruction. The limit is a fixed generous ceiling: under-provisioning
// fails on-chain mid-execution with no rollback below the instruction level.
func (b *Builder) step(label string, instrs []solana.Instruction) Step {
	cu := computebudget.NewSetComputeUnitLimitInstruction(b.computeUnits).Build()
	return Step{
		Label:        label,
		Instructions: append([]solana.Instruction{cu}, instrs...),
		ComputeUnits: b.computeUnits,
	}
}

func (b *Builder) recordBuild(op OperationKind, start time.Time, plan *Plan, err error) {
	if b.metrics == nil {
		return
	}
	status := "success"
	steps := 0
	if err != nil {
		status = "error"
	} else {
		steps = len(plan.Steps)
	}
	b.metrics.RecordPlanBuilt(op.String(), status, steps, time.Since(start).Seconds())
}
