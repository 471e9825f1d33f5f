package ledger

import "errors"

// Kind groups ledger failures. None of them are transient.
type Kind string

const (
	KindUnauthorized   Kind = "unauthorized"
	KindInvalidState   Kind = "invalid_state"
	KindInvalidInput   Kind = "invalid_input"
	KindDeadlinePassed Kind = "deadline_passed"
)

// Error is a ledger failure. Values are sentinels; compare with errors.Is.
type Error struct {
	Kind Kind
	Code string
}

func (e *Error) Error() string { return e.Code }

func newError(kind Kind, code string) *Error {
	return &Error{Kind: kind, Code: code}
}

var (
	ErrUnauthorized = newError(KindUnauthorized, "unauthorized")

	ErrAlreadyFunded     = newError(KindInvalidState, "already_funded")
	ErrAlreadyReleased   = newError(KindInvalidState, "already_released")
	ErrNotReady          = newError(KindInvalidState, "not_ready")
	ErrNotAvailable      = newError(KindInvalidState, "not_available")
	ErrNoActiveRental    = newError(KindInvalidState, "no_active_rental")
	ErrNothingToWithdraw = newError(KindInvalidState, "nothing_to_withdraw")

	ErrAmountMismatch = newError(KindInvalidInput, "amount_mismatch")
	ErrDuplicateID    = newError(KindInvalidInput, "duplicate_id")
	ErrNotFound       = newError(KindInvalidInput, "not_found")
	ErrInvalidAmount  = newError(KindInvalidInput, "invalid_amount")
	ErrInvalidParties = newError(KindInvalidInput, "invalid_parties")
	ErrInvalidPeriod  = newError(KindInvalidInput, "invalid_period")

	ErrDeadlinePassed = newError(KindDeadlinePassed, "deadline_passed")
)

// KindOf returns the kind of a ledger error, or "" for anything else.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}

// CodeOf returns the code of a ledger error, or "" for anything else.
func CodeOf(err error) string {
	var le *Error
	if errors.As(err, &le) {
		return le.Code
	}
	return ""
}
