package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/brojonat/vaultflow/service/metrics"
	chainsol "github.com/brojonat/vaultflow/service/solana"
	"github.com/brojonat/vaultflow/service/vault"
	"github.com/gagliardetto/solana-go"
)

// ChainClient is the broadcast surface the driver needs. *chainsol.Client
// satisfies it; tests substitute a mock.
type ChainClient interface {
	LatestBlockhash(ctx context.Context) (chainsol.BlockhashContext, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	ConfirmTransaction(ctx context.Context, sig solana.Signature) (chainsol.Confirmation, error)
}

// Driver executes plans step by step: each step becomes one transaction that
// is signed, broadcast, and confirmed before the next step starts. A step
// failure stops the plan; completed steps are never rolled back, and
// re-running the operation's build produces a plan for the remaining work.
type Driver struct {
	chain          ChainClient
	signer         Signer
	tracker        *Tracker
	confirmTimeout time.Duration
	logger         *slog.Logger
	metrics        *metrics.Metrics

	// OnStep, when set, is called after each step confirms. It runs on the
	// driver's goroutine.
	OnStep func(index int, label string, sig solana.Signature)
}

// NewDriver creates a driver. tracker may be nil when no caller observes
// status; metrics may be nil.
func NewDriver(chain ChainClient, signer Signer, tracker *Tracker, confirmTimeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *Driver {
	if tracker == nil {
		tracker = NewTracker(nil)
	}
	return &Driver{
		chain:          chain,
		signer:         signer,
		tracker:        tracker,
		confirmTimeout: confirmTimeout,
		logger:         logger,
		metrics:        m,
	}
}

// Tracker returns the status tracker the driver writes to.
func (d *Driver) Tracker() *Tracker {
	return d.tracker
}

// Execute runs the plan to completion and returns the confirmed signatures
// in step order. An empty plan succeeds immediately with no submissions. On
// failure the returned signatures cover the steps that confirmed before the
// failing one, and the error is an *ExecError.
//
// The tracker must be in the building phase when Execute is called; Begin is
// the caller's responsibility since building starts before the plan exists.
func (d *Driver) Execute(ctx context.Context, plan *vault.Plan) ([]solana.Signature, error) {
	op := plan.Operation.String()

	// Callers that surface build progress call Begin before building the
	// plan; claim the tracker here for those that hand over an idle one.
	if d.tracker.Snapshot().Phase == PhaseIdle {
		d.trackerStep(d.tracker.Begin(op))
	}

	if plan.Empty() {
		d.logger.InfoContext(ctx, "empty plan, nothing to execute", "operation", op)
		d.trackerStep(d.tracker.Succeed())
		d.recordExecution(op, "success")
		return nil, nil
	}

	sigs := make([]solana.Signature, 0, len(plan.Steps))
	for i, step := range plan.Steps {
		sig, err := d.executeStep(ctx, plan, i, step)
		if err != nil {
			d.tracker.Fail(err.Error())
			d.recordStep(op, "error")
			d.recordExecution(op, "error")
			return sigs, err
		}
		sigs = append(sigs, sig)
		d.recordStep(op, "success")
		if d.OnStep != nil {
			d.OnStep(i, step.Label, sig)
		}
	}

	d.trackerStep(d.tracker.Succeed())
	d.recordExecution(op, "success")
	d.logger.InfoContext(ctx, "plan executed",
		"operation", op,
		"steps", len(plan.Steps),
	)
	return sigs, nil
}

func (d *Driver) executeStep(ctx context.Context, plan *vault.Plan, index int, step vault.Step) (solana.Signature, error) {
	total := len(plan.Steps)
	d.trackerStep(d.tracker.BeginStep(index, total))

	tx, execErr := d.buildAndSign(ctx, plan, index, step)
	if execErr != nil {
		return solana.Signature{}, execErr
	}

	d.trackerStep(d.tracker.Sending())
	sig, err := d.chain.SendTransaction(ctx, tx)
	if chainsol.IsBlockhashNotFound(err) {
		// The blockhash expired between build and broadcast, typically
		// because the user sat on the signing prompt. Rebuild against a
		// fresh one and retry exactly once.
		d.logger.WarnContext(ctx, "blockhash expired, rebuilding step",
			"operation", plan.Operation.String(),
			"step", step.Label,
		)
		if d.metrics != nil {
			d.metrics.RecordBlockhashRefresh(plan.Operation.String())
		}
		tx, execErr = d.buildAndSign(ctx, plan, index, step)
		if execErr != nil {
			return solana.Signature{}, execErr
		}
		sig, err = d.chain.SendTransaction(ctx, tx)
	}
	if err != nil {
		return solana.Signature{}, &ExecError{Kind: KindBroadcast, Step: index, Total: total, Label: step.Label, Err: err}
	}

	d.trackerStep(d.tracker.Confirming(sig))
	confirmCtx, cancel := context.WithTimeout(ctx, d.confirmTimeout)
	defer cancel()

	start := time.Now()
	conf, err := d.chain.ConfirmTransaction(confirmCtx, sig)
	if err != nil {
		kind := KindBroadcast
		if errors.Is(err, chainsol.ErrConfirmationTimeout) {
			kind = KindConfirmationTimeout
		}
		return solana.Signature{}, &ExecError{Kind: kind, Step: index, Total: total, Label: step.Label, Signature: sig, Err: err}
	}
	if conf.OnChainErr != "" {
		return solana.Signature{}, &ExecError{
			Kind:      KindOnChainProgram,
			Step:      index,
			Total:     total,
			Label:     step.Label,
			Signature: sig,
			Payload:   conf.OnChainErr,
		}
	}
	if d.metrics != nil {
		d.metrics.RecordConfirmation(plan.Operation.String(), time.Since(start).Seconds())
	}

	d.logger.InfoContext(ctx, "step confirmed",
		"operation", plan.Operation.String(),
		"step", step.Label,
		"signature", sig.String(),
		"slot", conf.Slot,
	)
	return sig, nil
}

// buildAndSign assembles the step's transaction against a fresh blockhash
// and collects the owner's signature. Failures before the signer is invoked
// classify as KindBuild; only the signer's own refusal is KindSigningRejected.
func (d *Driver) buildAndSign(ctx context.Context, plan *vault.Plan, index int, step vault.Step) (*solana.Transaction, *ExecError) {
	total := len(plan.Steps)

	blockhash, err := d.chain.LatestBlockhash(ctx)
	if err != nil {
		return nil, &ExecError{Kind: KindBuild, Step: index, Total: total, Label: step.Label, Err: err}
	}
	tx, err := solana.NewTransaction(
		step.Instructions,
		blockhash.Blockhash,
		solana.TransactionPayer(plan.Owner),
	)
	if err != nil {
		return nil, &ExecError{Kind: KindBuild, Step: index, Total: total, Label: step.Label, Err: err}
	}
	if err := d.signer.SignTransaction(ctx, tx); err != nil {
		return nil, &ExecError{Kind: KindSigningRejected, Step: index, Total: total, Label: step.Label, Err: err}
	}
	return tx, nil
}

// trackerStep logs tracker transition violations instead of failing the
// operation over them; the driver is the sole writer, so a violation is a
// bug, not a runtime condition worth aborting on.
func (d *Driver) trackerStep(err error) {
	if err != nil {
		d.logger.Warn("tracker transition rejected", "error", err)
	}
}

func (d *Driver) recordStep(operation, status string) {
	if d.metrics != nil {
		d.metrics.RecordStepExecuted(operation, status)
	}
}

func (d *Driver) recordExecution(operation, status string) {
	if d.metrics != nil {
		d.metrics.RecordExecution(operation, status)
	}
}
