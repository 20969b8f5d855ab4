package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/brojonat/vaultflow/service/db"
	"github.com/brojonat/vaultflow/service/engine"
	"github.com/brojonat/vaultflow/service/vault"
	"github.com/gagliardetto/solana-go"
)

// Operator ties planning and execution together for the service wallet: it
// builds the plan, records the operation, executes it, and persists the
// outcome. Status reaches observers through the tracker the driver writes to.
type Operator struct {
	builder *vault.Builder
	driver  *engine.Driver
	store   *db.Store
	wallet  solana.PublicKey
	logger  *slog.Logger
}

// NewOperator creates an operator executing as wallet. store may be nil when
// no history should be kept (CLI one-shots).
func NewOperator(builder *vault.Builder, driver *engine.Driver, store *db.Store, wallet solana.PublicKey, logger *slog.Logger) *Operator {
	return &Operator{
		builder: builder,
		driver:  driver,
		store:   store,
		wallet:  wallet,
		logger:  logger,
	}
}

// Wallet returns the address the operator signs as.
func (o *Operator) Wallet() solana.PublicKey {
	return o.wallet
}

// Tracker returns the status tracker for the in-flight operation.
func (o *Operator) Tracker() *engine.Tracker {
	return o.driver.Tracker()
}

// Plan builds a plan without executing it.
func (o *Operator) Plan(ctx context.Context, kind vault.OperationKind, vaultState solana.PublicKey, amount uint64) (*vault.Plan, error) {
	return o.build(ctx, kind, vaultState, amount)
}

// Run builds and executes an operation end to end, returning its history
// record. Only one operation runs at a time: a busy tracker yields
// engine.ErrOperationInFlight. The tracker is left in its terminal phase for
// observers and reset on the next Run.
func (o *Operator) Run(ctx context.Context, kind vault.OperationKind, vaultState solana.PublicKey, amount uint64) (*db.Operation, error) {
	tracker := o.driver.Tracker()

	// A previous operation's terminal state has been observable since it
	// finished; reclaim the tracker for the new one.
	snap := tracker.Snapshot()
	if snap.Phase == engine.PhaseSuccess || snap.Phase == engine.PhaseError {
		if err := tracker.Reset(); err != nil {
			return nil, err
		}
	}
	if err := tracker.Begin(kind.String()); err != nil {
		return nil, fmt.Errorf("%w: %s", engine.ErrOperationInFlight, snap.Operation)
	}

	plan, err := o.build(ctx, kind, vaultState, amount)
	if err != nil {
		tracker.Fail(err.Error())
		o.recordFailedBuild(ctx, kind, vaultState, err)
		return nil, err
	}

	record, err := o.createRecord(ctx, kind, vaultState, int32(len(plan.Steps)))
	if err != nil {
		tracker.Fail(err.Error())
		return nil, err
	}

	if record != nil {
		o.driver.OnStep = func(index int, label string, sig solana.Signature) {
			if err := o.store.AddOperationSignature(ctx, record.ID, int32(index), label, sig.String()); err != nil {
				o.logger.ErrorContext(ctx, "failed to record step signature",
					"operation_id", record.ID,
					"step", label,
					"error", err,
				)
			}
		}
		defer func() { o.driver.OnStep = nil }()
	}

	_, execErr := o.driver.Execute(ctx, plan)
	return o.completeRecord(ctx, record, execErr)
}

func (o *Operator) build(ctx context.Context, kind vault.OperationKind, vaultState solana.PublicKey, amount uint64) (*vault.Plan, error) {
	switch kind {
	case vault.OpDepositAndStake:
		return o.builder.BuildDeposit(ctx, vaultState, o.wallet, amount)
	case vault.OpWithdraw:
		return o.builder.BuildWithdraw(ctx, vaultState, o.wallet, amount)
	case vault.OpClaimFarmRewards:
		return o.builder.BuildClaim(ctx, vaultState, o.wallet)
	default:
		return nil, fmt.Errorf("%w: %s", vault.ErrUnknownOperation, kind)
	}
}

func (o *Operator) createRecord(ctx context.Context, kind vault.OperationKind, vaultState solana.PublicKey, totalSteps int32) (*db.Operation, error) {
	if o.store == nil {
		return nil, nil
	}
	return o.store.CreateOperation(ctx, db.CreateOperationParams{
		WalletAddress: o.wallet.String(),
		VaultState:    vaultState.String(),
		Operation:     kind.String(),
		TotalSteps:    totalSteps,
	})
}

func (o *Operator) recordFailedBuild(ctx context.Context, kind vault.OperationKind, vaultState solana.PublicKey, buildErr error) {
	record, err := o.createRecord(ctx, kind, vaultState, 0)
	if err != nil || record == nil {
		return
	}
	msg := buildErr.Error()
	if _, err := o.store.CompleteOperation(ctx, record.ID, "error", &msg); err != nil {
		o.logger.ErrorContext(ctx, "failed to record build failure",
			"operation_id", record.ID,
			"error", err,
		)
	}
}

func (o *Operator) completeRecord(ctx context.Context, record *db.Operation, execErr error) (*db.Operation, error) {
	if record == nil {
		return nil, execErr
	}

	status := "success"
	var msg *string
	if execErr != nil {
		status = "error"
		m := execErr.Error()
		msg = &m
	}

	done, err := o.store.CompleteOperation(ctx, record.ID, status, msg)
	if err != nil {
		o.logger.ErrorContext(ctx, "failed to complete operation record",
			"operation_id", record.ID,
			"error", err,
		)
		return record, execErr
	}
	return done, execErr
}
