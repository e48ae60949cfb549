package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the ledger, the state machine and billing.
var (
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrAlreadyRunning     = fmt.Errorf("%w: timer already running", ErrInvalidTransition)
	ErrNotRunning         = fmt.Errorf("%w: timer not running", ErrInvalidTransition)
	ErrBusy               = errors.New("request busy")
	ErrNotFound           = errors.New("not found")
	ErrAlreadyBilled      = errors.New("already billed")
	ErrNoEligibleRequests = errors.New("no eligible requests")
	ErrPeriodClosed       = errors.New("billing period closed")
	ErrValidation         = errors.New("validation failed")
)

// TransitionError describes a rejected lifecycle trigger.
type TransitionError struct {
	RequestID int64
	Trigger   Trigger
	Status    RequestStatus
	Reason    string
	Err       error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("request %d: cannot %s while %s: %s", e.RequestID, e.Trigger, e.Status, e.Reason)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

// ValidationError reports bad input on a ledger or billing call.
func ValidationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
