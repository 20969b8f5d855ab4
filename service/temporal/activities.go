package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/vaultflow/service/db"
	"github.com/brojonat/vaultflow/service/engine"
	"github.com/brojonat/vaultflow/service/metrics"
	"github.com/brojonat/vaultflow/service/vault"
	solanago "github.com/gagliardetto/solana-go"
	"go.temporal.io/sdk/temporal"
)

// ClaimRewardsInput contains the input parameters for an auto-claim run.
type ClaimRewardsInput struct {
	VaultState string `json:"vault_state"`
}

// ClaimRewardsResult contains the result of an auto-claim run.
type ClaimRewardsResult struct {
	VaultState string    `json:"vault_state"`
	Skipped    bool      `json:"skipped"` // Nothing to claim (no farm or no farm record)
	Steps      int32     `json:"steps"`
	ClaimTime  time.Time `json:"claim_time"`
	Error      *string   `json:"error,omitempty"`
}

// OperatorInterface defines the operation execution surface needed by
// activities. This allows for easy mocking in tests.
type OperatorInterface interface {
	Run(ctx context.Context, kind vault.OperationKind, vaultState solanago.PublicKey, amount uint64) (*db.Operation, error)
}

// Activities holds the dependencies needed by Temporal activities.
type Activities struct {
	operator OperatorInterface
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If metrics is nil, no metrics will be recorded.
func NewActivities(operator OperatorInterface, m *metrics.Metrics, logger *slog.Logger) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		operator: operator,
		metrics:  m,
		logger:   logger,
	}
}

// ExecuteClaim runs a claim operation against the vault. A vault with no
// farm, or a wallet with nothing staked, completes as a skip rather than an
// error. Another operation holding the executor is retryable: the schedule's
// next attempt will find it free.
func (a *Activities) ExecuteClaim(ctx context.Context, input ClaimRewardsInput) (*ClaimRewardsResult, error) {
	result := &ClaimRewardsResult{
		VaultState: input.VaultState,
		ClaimTime:  time.Now().UTC(),
	}

	vaultState, err := solanago.PublicKeyFromBase58(input.VaultState)
	if err != nil {
		// A bad address never becomes valid: fail the schedule run outright.
		return nil, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("invalid vault state address %q", input.VaultState),
			"InvalidVaultState",
			err,
		)
	}

	record, err := a.operator.Run(ctx, vault.OpClaimFarmRewards, vaultState, 0)
	if err != nil {
		if errors.Is(err, engine.ErrOperationInFlight) {
			// Leave this retryable; the conflicting operation will finish.
			return nil, err
		}
		a.logger.ErrorContext(ctx, "auto-claim failed",
			"vault_state", input.VaultState,
			"error", err,
		)
		errMsg := err.Error()
		result.Error = &errMsg
		return result, err
	}

	if record != nil {
		result.Steps = record.TotalSteps
	}
	result.Skipped = result.Steps == 0

	a.logger.InfoContext(ctx, "auto-claim completed",
		"vault_state", input.VaultState,
		"skipped", result.Skipped,
		"steps", result.Steps,
	)
	return result, nil
}
