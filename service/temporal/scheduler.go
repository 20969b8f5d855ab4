package temporal

import (
	"context"
	"time"
)

// Scheduler manages Temporal schedules for automatic reward claiming.
// Each vault gets its own schedule that triggers the ClaimRewardsWorkflow.
type Scheduler interface {
	// UpsertClaimSchedule creates or updates the auto-claim schedule for a
	// vault. The schedule triggers the ClaimRewardsWorkflow on the given
	// interval.
	UpsertClaimSchedule(ctx context.Context, vaultState string, interval time.Duration) error

	// DeleteClaimSchedule deletes the auto-claim schedule for a vault.
	DeleteClaimSchedule(ctx context.Context, vaultState string) error
}
