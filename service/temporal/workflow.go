package temporal

import (
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// ClaimRewardsWorkflow is the Temporal workflow that harvests farm rewards
// for a vault on behalf of the service wallet. It is triggered by a Temporal
// schedule at a configured interval.
//
// The heavy lifting (plan build, signing, broadcast, confirmation) happens in
// the ExecuteClaim activity; the workflow exists so the schedule gets retry
// policy, visibility, and history for free.
func ClaimRewardsWorkflow(ctx workflow.Context, input ClaimRewardsInput) (*ClaimRewardsResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("ClaimRewardsWorkflow started", "vault_state", input.VaultState)

	activityOptions := workflow.ActivityOptions{
		// Claims confirm within a minute; the rest is headroom for RPC
		// retries inside the activity.
		StartToCloseTimeout: 300 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	var result *ClaimRewardsResult
	if err := workflow.ExecuteActivity(ctx, a.ExecuteClaim, input).Get(ctx, &result); err != nil {
		logger.Error("auto-claim activity failed", "vault_state", input.VaultState, "error", err)
		return result, fmt.Errorf("failed to execute claim: %w", err)
	}

	if result.Skipped {
		logger.Info("nothing to claim", "vault_state", input.VaultState)
	} else {
		logger.Info("ClaimRewardsWorkflow completed successfully",
			"vault_state", input.VaultState,
			"steps", result.Steps,
		)
	}
	return result, nil
}
