package nats

import (
	"context"
	"errors"
	"testing"

	"github.com/brojonat/vaultflow/service/engine"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromSnapshot(t *testing.T) {
	sig := solana.Signature{7}
	snap := engine.Snapshot{
		Operation:     "withdraw",
		Phase:         engine.PhaseConfirming,
		StepIndex:     1,
		TotalSteps:    2,
		LastSignature: sig,
	}

	event := FromSnapshot("wallet123", snap)
	assert.Equal(t, "wallet123", event.WalletAddress)
	assert.Equal(t, "withdraw", event.Operation)
	assert.Equal(t, "confirming", event.Phase)
	assert.Equal(t, 1, event.StepIndex)
	assert.Equal(t, 2, event.TotalSteps)
	assert.Equal(t, sig.String(), event.Signature)
	assert.Empty(t, event.ErrorMessage)
	assert.False(t, event.PublishedAt.IsZero())
}

func TestFromSnapshot_OmitsZeroSignature(t *testing.T) {
	event := FromSnapshot("wallet123", engine.Snapshot{
		Operation: "deposit",
		Phase:     engine.PhaseBuilding,
	})
	assert.Empty(t, event.Signature)
}

// The binaries publish one event per tracker transition. Drive a tracker
// through a full single-step lifecycle and check the published phase sequence.
func TestTrackerPublishPipeline(t *testing.T) {
	pub := NewMockPublisher()
	tracker := engine.NewTracker(func(snap engine.Snapshot) {
		_ = pub.PublishStatus(context.Background(), FromSnapshot("wallet123", snap))
	})

	require.NoError(t, tracker.Begin("claim_farm_rewards"))
	require.NoError(t, tracker.BeginStep(0, 1))
	require.NoError(t, tracker.Sending())
	require.NoError(t, tracker.Confirming(solana.Signature{1}))
	require.NoError(t, tracker.Succeed())

	events := pub.GetPublishedEventsForWallet("wallet123")
	require.Len(t, events, 5)

	phases := make([]string, len(events))
	for i, e := range events {
		phases[i] = e.Phase
	}
	assert.Equal(t, []string{"building", "signing", "sending", "confirming", "success"}, phases)

	for _, e := range events {
		assert.Equal(t, "claim_farm_rewards", e.Operation)
	}
	assert.NotEmpty(t, events[3].Signature)
}

func TestMockPublisher_PublishError(t *testing.T) {
	pub := NewMockPublisher()
	pub.SetPublishError(errors.New("nats down"))

	err := pub.PublishStatus(context.Background(), &StatusEvent{WalletAddress: "w"})
	require.Error(t, err)
	assert.Equal(t, 0, pub.GetPublishedEventCount())
}
