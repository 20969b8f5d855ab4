package engine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
)

// Phase is the lifecycle stage of the operation currently owned by a Tracker.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseBuilding   Phase = "building"
	PhaseSigning    Phase = "signing"
	PhaseSending    Phase = "sending"
	PhaseConfirming Phase = "confirming"
	PhaseSuccess    Phase = "success"
	PhaseError      Phase = "error"
)

// ErrInvalidTransition is returned when a phase change would move the
// lifecycle backwards. Terminal phases are left only through Reset.
var ErrInvalidTransition = errors.New("invalid phase transition")

// Snapshot is a point-in-time copy of tracker state, safe to hand to
// concurrent readers (HTTP handlers, event publishers).
type Snapshot struct {
	Operation     string           `json:"operation"`
	Phase         Phase            `json:"phase"`
	StepIndex     int              `json:"step_index"`
	TotalSteps    int              `json:"total_steps"`
	LastSignature solana.Signature `json:"last_signature,omitempty"`
	ErrorMessage  string           `json:"error_message,omitempty"`
}

// Tracker holds the status of at most one in-flight operation. A single
// goroutine (the driver) writes; any number of goroutines read through
// Snapshot. Phase changes only move forward; a finished operation (success or
// error) must be Reset before the tracker accepts a new one.
type Tracker struct {
	mu       sync.RWMutex
	snap     Snapshot
	onChange func(Snapshot)
}

// NewTracker returns an idle tracker. onChange, when non-nil, is invoked
// after every state change with a copy of the new state; it runs on the
// writer's goroutine and must not block.
func NewTracker(onChange func(Snapshot)) *Tracker {
	return &Tracker{
		snap:     Snapshot{Phase: PhaseIdle},
		onChange: onChange,
	}
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap
}

// Begin claims the tracker for a new operation. The tracker must be idle.
func (t *Tracker) Begin(operation string) error {
	return t.transition(PhaseBuilding, func(s *Snapshot) {
		*s = Snapshot{Operation: operation, Phase: PhaseBuilding}
	})
}

// BeginStep marks the start of step index (zero-based) of totalSteps and
// moves to the signing phase.
func (t *Tracker) BeginStep(index, totalSteps int) error {
	return t.transition(PhaseSigning, func(s *Snapshot) {
		s.StepIndex = index
		s.TotalSteps = totalSteps
	})
}

// Sending marks the current step's transaction as signed and in broadcast.
func (t *Tracker) Sending() error {
	return t.transition(PhaseSending, nil)
}

// Confirming records the broadcast signature and moves to confirmation.
func (t *Tracker) Confirming(sig solana.Signature) error {
	return t.transition(PhaseConfirming, func(s *Snapshot) {
		s.LastSignature = sig
	})
}

// Succeed marks the operation complete.
func (t *Tracker) Succeed() error {
	return t.transition(PhaseSuccess, nil)
}

// Fail moves to the terminal error phase from any active phase, preserving
// the step index and last signature for diagnosis.
func (t *Tracker) Fail(msg string) {
	t.mu.Lock()
	if t.snap.Phase == PhaseIdle || t.snap.Phase == PhaseSuccess || t.snap.Phase == PhaseError {
		t.mu.Unlock()
		return
	}
	t.snap.Phase = PhaseError
	t.snap.ErrorMessage = msg
	snap := t.snap
	t.mu.Unlock()
	t.notify(snap)
}

// Reset returns a finished tracker to idle so a new operation can begin.
// Resetting an active operation is rejected.
func (t *Tracker) Reset() error {
	t.mu.Lock()
	switch t.snap.Phase {
	case PhaseIdle, PhaseSuccess, PhaseError:
	default:
		phase := t.snap.Phase
		t.mu.Unlock()
		return fmt.Errorf("%w: cannot reset while %s", ErrInvalidTransition, phase)
	}
	t.snap = Snapshot{Phase: PhaseIdle}
	snap := t.snap
	t.mu.Unlock()
	t.notify(snap)
	return nil
}

// transition applies the phase change under the forward-only rules, running
// mutate (if any) on the snapshot while the lock is held.
func (t *Tracker) transition(to Phase, mutate func(*Snapshot)) error {
	t.mu.Lock()
	if !legalTransition(t.snap.Phase, to) {
		from := t.snap.Phase
		t.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	if mutate != nil {
		mutate(&t.snap)
	}
	t.snap.Phase = to
	snap := t.snap
	t.mu.Unlock()
	t.notify(snap)
	return nil
}

func (t *Tracker) notify(snap Snapshot) {
	if t.onChange != nil {
		t.onChange(snap)
	}
}

// legalTransition encodes the forward-only lifecycle. Confirming loops back
// to signing for each subsequent step of a multi-step plan; building jumps
// straight to success for an empty plan.
func legalTransition(from, to Phase) bool {
	switch from {
	case PhaseIdle:
		return to == PhaseBuilding
	case PhaseBuilding:
		return to == PhaseSigning || to == PhaseSuccess
	case PhaseSigning:
		return to == PhaseSending
	case PhaseSending:
		return to == PhaseConfirming
	case PhaseConfirming:
		return to == PhaseSigning || to == PhaseSuccess
	default:
		return false
	}
}
