package vault

import (
	"errors"
	"fmt"
)

// Sentinel errors for programming mistakes. These are fatal: they indicate a
// bug in the caller, not a transient condition, and are never retried.
var (
	// ErrInvalidSeed is returned when a PDA seed exceeds the maximum length.
	ErrInvalidSeed = errors.New("invalid seed")

	// ErrUnknownOperation is returned when encoding an operation outside the
	// closed OperationKind set.
	ErrUnknownOperation = errors.New("unknown operation")

	// ErrAccountCountMismatch is returned when the caller supplied fewer
	// accounts than the target program's ABI requires for an operation.
	ErrAccountCountMismatch = errors.New("account count mismatch")
)

// ProbeError wraps a transient failure while reading chain state during plan
// construction. The whole plan build should be retried; partial retries are
// never safe because existence facts must be a single coherent snapshot.
type ProbeError struct {
	Err error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("account probe failed: %v", e.Err)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}
