package ledger

import (
	"errors"
	"fmt"
)

// ErrReentrantCall is returned when a ledger operation is invoked while an
// external funds transfer is in flight. The inner call is rejected outright,
// never queued or retried.
var ErrReentrantCall = errors.New("reentrant ledger call rejected")

// ErrDuplicateBet is returned when a bet id has already been resolved.
var ErrDuplicateBet = errors.New("bet id already resolved")

// ValidationError rejects a request before any state is touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// SolvencyError rejects a bet the ledger could not cover at the maximum payout.
type SolvencyError struct {
	Held     int64
	Required int64
}

func (e *SolvencyError) Error() string {
	return fmt.Sprintf("insufficient held funds to cover worst-case payout: have=%d, need=%d", e.Held, e.Required)
}

// TransferError wraps a failed funds movement. The enclosing operation is
// rolled back in full; no partial state survives.
type TransferError struct {
	To     string
	Amount int64
	Err    error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer of %d to %s failed: %v", e.Amount, e.To, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// AuthorizationError rejects a treasury operation from a non-privileged actor.
type AuthorizationError struct {
	Actor string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("actor %q is not authorized for treasury operations", e.Actor)
}

// NotFoundError is returned for game ids outside the recorded history.
type NotFoundError struct {
	GameID int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("game %d not found", e.GameID)
}
