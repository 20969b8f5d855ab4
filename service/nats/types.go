package nats

import (
	"time"

	"github.com/brojonat/vaultflow/service/engine"
)

// StatusEvent is an operation status change published to NATS.
// Events are published to the subject "ops.{wallet_address}" in JetStream,
// one per phase transition, so a subscriber replaying the subject sees the
// full lifecycle of every operation the wallet ran.
type StatusEvent struct {
	// Wallet and operation identity
	WalletAddress string `json:"wallet_address"`
	Operation     string `json:"operation"`

	// Lifecycle position
	Phase      string `json:"phase"`
	StepIndex  int    `json:"step_index"`
	TotalSteps int    `json:"total_steps"`

	// Populated once the current step has been broadcast
	Signature string `json:"signature,omitempty"`

	// Populated in the error phase
	ErrorMessage string `json:"error_message,omitempty"`

	PublishedAt time.Time `json:"published_at"`
}

// FromSnapshot converts a tracker snapshot to a StatusEvent for publishing.
func FromSnapshot(wallet string, snap engine.Snapshot) *StatusEvent {
	event := &StatusEvent{
		WalletAddress: wallet,
		Operation:     snap.Operation,
		Phase:         string(snap.Phase),
		StepIndex:     snap.StepIndex,
		TotalSteps:    snap.TotalSteps,
		ErrorMessage:  snap.ErrorMessage,
		PublishedAt:   time.Now().UTC(),
	}
	if !snap.LastSignature.IsZero() {
		event.Signature = snap.LastSignature.String()
	}
	return event
}
