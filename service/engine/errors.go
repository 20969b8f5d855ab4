package engine

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// ErrOperationInFlight is returned when an operation is requested while
// another one holds the tracker. One operation at a time per service wallet;
// a finished one must be acknowledged (reset) or simply observed before the
// next begins.
var ErrOperationInFlight = errors.New("an operation is already in flight")

// ErrorKind classifies where in the step lifecycle an execution failed.
type ErrorKind string

const (
	// KindBuild: assembling the step's transaction failed before anything
	// reached the signer, either fetching a recent blockhash or compiling
	// the envelope. Usually transient RPC trouble; re-running the
	// operation retries from a fresh plan.
	KindBuild ErrorKind = "build"
	// KindSigningRejected: the signer declined or failed to sign. Nothing
	// was broadcast for this step.
	KindSigningRejected ErrorKind = "signing_rejected"
	// KindBroadcast: the cluster rejected the transaction at submission.
	KindBroadcast ErrorKind = "broadcast"
	// KindConfirmationTimeout: the bounded confirmation wait expired. The
	// transaction may still land; the outcome is unknown, not failed.
	KindConfirmationTimeout ErrorKind = "confirmation_timeout"
	// KindOnChainProgram: the transaction landed and the program rejected
	// it. Payload carries the raw program error verbatim.
	KindOnChainProgram ErrorKind = "on_chain_program"
)

// ExecError reports a failed plan execution: which step failed, how, and the
// signature involved when one exists. Steps before Step completed and
// confirmed; steps after it were never attempted. Step is zero-based; the
// message renders it one-based to match the positions status consumers show.
type ExecError struct {
	Kind      ErrorKind
	Step      int
	Total     int
	Label     string
	Signature solana.Signature
	Payload   string
	Err       error
}

func (e *ExecError) Error() string {
	msg := fmt.Sprintf("step %d of %d (%s) failed: %s", e.Step+1, e.Total, e.Label, e.Kind)
	if e.Payload != "" {
		msg += ": " + e.Payload
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExecError) Unwrap() error {
	return e.Err
}
